package buffer

import (
	"github.com/joshuapare/bufheap/internal/format"
)

// MarkBlack marks the buffer at ptr live for the collection in progress. It
// reports whether the mark was newly set. Safe to call while the buffer's
// chunk is being swept.
func (a *Allocator) MarkBlack(ptr Ptr) bool {
	ref, ok := a.resolve(ptr)
	if !ok {
		return false
	}
	switch ref.tier {
	case tierMedium:
		return ref.chunk.mark.SetAtomic(format.Granule(ref.off))
	case tierLarge:
		return !ref.large.set(largeMarked)
	default:
		return ref.arena.Mark(ref.cell)
	}
}

// Promote moves the buffer at ptr from nursery to tenured ownership. It is
// called when the owner tenures, normally from the tracer during minor
// marking. Promoting a tenured buffer is a no-op.
//
// While the other collection may already have looked at the buffer, the
// buffer is also marked so that it is not swept as an unreached tenured
// allocation.
func (a *Allocator) Promote(ptr Ptr) {
	ref, ok := a.resolve(ptr)
	if !ok {
		return
	}
	major := a.MajorState() != NotCollecting
	switch ref.tier {
	case tierMedium:
		c, g := ref.chunk, format.Granule(ref.off)
		if !c.nursery.Get(g) {
			return
		}
		size := c.allocSize(g)
		mark := major || (a.MinorState() == Sweeping && c.sweeping.Load())
		// A concurrent sweep reads the nursery bit before the mark bit and
		// may clear a surviving nursery mark; marking on both sides of the
		// nursery clear leaves the buffer marked either way.
		if mark {
			c.mark.SetAtomic(g)
		}
		if c.nursery.ClearAtomic(g) {
			c.nurseryOwnedAllocs.Add(-1)
		}
		if mark {
			c.mark.SetAtomic(g)
		}
		c.zone.AddMallocBytes(size)

	case tierLarge:
		b := ref.large
		if !b.has(largeNurseryOwned) {
			return
		}
		if major || (a.MinorState() == Sweeping && b.has(largeSweeping)) {
			b.set(largeMarked)
		}
		b.unset(largeNurseryOwned)
		b.zone.AddMallocBytes(b.size())
		if b.list == listNursery {
			a.nurseryLarge.Remove(b)
			a.tenuredLarge.PushBack(b)
			b.list = listTenured
		}

	default:
		c := ref.arena.Cell(ref.cell)
		h := format.ReadSmallHeader(c)
		if !h.NurseryOwned() {
			return
		}
		h.Flags &^= format.SmallNurseryOwned
		format.PutSmallHeader(c, h)
		if major {
			ref.arena.Mark(ref.cell)
		}
	}
	a.stats.promotions.Add(1)
}
