package buffer

import (
	"sync/atomic"

	"github.com/joshuapare/bufheap/gc/zone"
	"github.com/joshuapare/bufheap/internal/ilist"
	"github.com/joshuapare/bufheap/internal/osmem"
	"github.com/joshuapare/bufheap/vm"
)

// Large buffer flags.
const (
	largeMarked uint32 = 1 << iota
	largeNurseryOwned
	largeAllocatedDuringCollection
	largeSweeping
)

type largeList = ilist.List[largeBuffer, *largeBuffer]

// largeBuffer describes one large allocation. It owns the address slots of
// its mapping in the store registry.
type largeBuffer struct {
	link ilist.Link[largeBuffer]

	zone    *zone.Zone
	flags   atomic.Uint32
	mapping *vm.Chunk
	list    listKind
}

func (b *largeBuffer) Links() *ilist.Link[largeBuffer] { return &b.link }

func (b *largeBuffer) size() int { return len(b.mapping.Data) }

func (b *largeBuffer) has(f uint32) bool { return b.flags.Load()&f != 0 }

// set sets f and reports whether it was already set.
func (b *largeBuffer) set(f uint32) bool { return b.flags.Or(f)&f != 0 }

// unset clears f and reports whether it was set.
func (b *largeBuffer) unset(f uint32) bool { return b.flags.And(^f)&f != 0 }

func (a *Allocator) allocLarge(size int, nurseryOwned bool) Ptr {
	m, err := a.store.MapLarge(size)
	if err != nil {
		a.log.Debug("large mapping failed", "size", size, "err", err)
		a.stats.oom.Add(1)
		return vm.Null
	}

	b := &largeBuffer{zone: a.zone, mapping: m}
	if a.MajorState() != NotCollecting {
		b.flags.Store(largeAllocatedDuringCollection)
	}
	if nurseryOwned {
		b.set(largeNurseryOwned)
	} else {
		a.zone.AddMallocBytes(b.size())
	}
	a.store.Register(m, b)
	a.relistLarge(b)
	a.stats.largeAllocs.Add(1)
	return m.Addr
}

// relistLarge puts b on the live list matching its ownership.
func (a *Allocator) relistLarge(b *largeBuffer) {
	if b.has(largeNurseryOwned) {
		a.nurseryLarge.PushBack(b)
		b.list = listNursery
	} else {
		a.tenuredLarge.PushBack(b)
		b.list = listTenured
	}
}

func (a *Allocator) unlistLarge(b *largeBuffer) {
	switch b.list {
	case listNursery:
		a.nurseryLarge.Remove(b)
	case listTenured:
		a.tenuredLarge.Remove(b)
	}
	b.list = listNone
}

func (a *Allocator) freeLarge(b *largeBuffer) {
	if b.has(largeSweeping) {
		a.stats.refusedFrees.Add(1)
		return
	}
	a.unlistLarge(b)
	if !b.has(largeNurseryOwned) {
		a.zone.RemoveMallocBytes(b.size())
	}
	a.unmapLarge(b)
	a.stats.frees.Add(1)
}

// unmapLarge releases b's mapping. Safe from any goroutine once b is off
// every list.
func (a *Allocator) unmapLarge(b *largeBuffer) {
	a.store.Unregister(b.mapping)
	a.store.UnmapLarge(b.mapping)
}

// shrinkLarge truncates b to newSize (a page multiple) by unmapping its
// tail. Platforms without partial unmapping refuse.
func (a *Allocator) shrinkLarge(b *largeBuffer, newSize int) bool {
	if b.has(largeSweeping) || !osmem.SupportsPartialUnmap {
		return false
	}
	old := b.size()
	if newSize >= old {
		return newSize == old
	}
	if err := a.store.TruncateLarge(b.mapping, newSize); err != nil {
		a.log.Debug("large shrink refused", "addr", b.mapping.Addr, "err", err)
		return false
	}
	if !b.has(largeNurseryOwned) {
		a.zone.RemoveMallocBytes(old - newSize)
	}
	a.stats.shrinkInPlace.Add(1)
	return true
}

// DeadLarge holds the nursery-owned large buffers found dead by
// StartMinorSweeping. They are already unreachable through the allocator;
// Release unmaps them and may run on any goroutine.
type DeadLarge struct {
	a    *Allocator
	list largeList
}

// Len returns the number of dead buffers.
func (d *DeadLarge) Len() int {
	if d == nil {
		return 0
	}
	return d.list.Len()
}

// Release unmaps every dead buffer.
func (d *DeadLarge) Release() {
	if d == nil {
		return
	}
	for b := d.list.PopFront(); b != nil; b = d.list.PopFront() {
		d.a.store.UnmapLarge(b.mapping)
		d.a.stats.largeReleased.Add(1)
	}
}
