package buffer

import (
	"sync/atomic"

	"github.com/joshuapare/bufheap/gc/zone"
	"github.com/joshuapare/bufheap/internal/bitmap"
	"github.com/joshuapare/bufheap/internal/format"
	"github.com/joshuapare/bufheap/internal/ilist"
	"github.com/joshuapare/bufheap/internal/osmem"
	"github.com/joshuapare/bufheap/vm"
)

// listKind records which live list a chunk or large buffer is on. Only the
// allocating goroutine reads or writes it.
type listKind uint8

const (
	listNone listKind = iota
	listMixed
	listTenured
	listNursery
)

type chunkList = ilist.List[chunk, *chunk]

// chunk is the Go-side descriptor of a medium chunk.
//
// While a chunk is queued for sweeping only the sweeping goroutine mutates
// its allocation bitmap and region table; the allocating goroutine may still
// set mark bits and clear nursery bits, always with atomic read-modify-write.
type chunk struct {
	link ilist.Link[chunk]

	vmc  *vm.Chunk
	data []byte
	base vm.Addr
	zone *zone.Zone

	alloc       *bitmap.Bitmap // one bit per granule, set at allocation starts
	mark        *bitmap.Bitmap
	nursery     *bitmap.Bitmap
	decommitted *bitmap.Bitmap // one bit per page

	nurseryOwnedAllocs        atomic.Int32
	allocatedDuringCollection atomic.Bool
	sweeping                  atomic.Bool

	list    listKind
	regions regionTable
}

func (c *chunk) Links() *ilist.Link[chunk] { return &c.link }

func newChunk(vmc *vm.Chunk, z *zone.Zone) *chunk {
	format.WriteChunkHeader(vmc.Data, format.ChunkKindMedium, z.ID)
	return &chunk{
		vmc:         vmc,
		data:        vmc.Data,
		base:        vmc.Addr,
		zone:        z,
		alloc:       bitmap.New(format.GranulesPerChunk),
		mark:        bitmap.New(format.GranulesPerChunk),
		nursery:     bitmap.New(format.GranulesPerChunk),
		decommitted: bitmap.New(format.PagesPerChunk),
	}
}

func (c *chunk) hasNurseryOwnedAllocs() bool {
	return c.nurseryOwnedAllocs.Load() > 0
}

// allocSize returns the size of the allocation starting at granule g.
func (c *chunk) allocSize(g int) int {
	return 1 << format.SizeClassAt(c.data, g)
}

// isAllocStart reports whether off is the start of a live allocation.
func (c *chunk) isAllocStart(off int) bool {
	return off >= format.FirstMediumAllocOffset && off < format.ChunkSize &&
		format.IsAligned(off, format.GranuleSize) && c.alloc.Get(format.Granule(off))
}

func (c *chunk) bytes(off, size int) []byte {
	return c.data[off : off+size : off+size]
}

// nextAllocOffset returns the start of the first allocation at or after off,
// or the chunk end.
func (c *chunk) nextAllocOffset(off int) int {
	if g := c.alloc.NextSet(format.Granule(off)); g >= 0 {
		return format.GranuleOffset(g)
	}
	return format.ChunkSize
}

// precededByFreeRegion reports whether the bytes just before off belong to a
// free region rather than an allocation or the header.
func (c *chunk) precededByFreeRegion(off int) bool {
	if off <= format.FirstMediumAllocOffset {
		return false
	}
	prevEnd := format.FirstMediumAllocOffset
	if g := c.alloc.PrevSet(format.Granule(off)); g >= 0 {
		prevEnd = format.GranuleOffset(g) + c.allocSize(g)
	}
	return prevEnd < off
}

// regionStartingAt returns the free region starting at off, which must not
// be an allocation start.
func (c *chunk) regionStartingAt(off int) *freeRegion {
	end := c.nextAllocOffset(off)
	r := c.regionEndingAt(end)
	assertf(r != nil && r.start == off, "chunk %v: no free region at 0x%x", c.base, off)
	return r
}

// regionEndingAt returns the free region whose footer ends at end.
func (c *chunk) regionEndingAt(end int) *freeRegion {
	f := format.ReadFreeRegionFooter(c.data, end)
	r := c.regions.get(f.Handle)
	assertf(r != nil && r.end == end && r.start == int(f.Start),
		"chunk %v: bad footer at 0x%x", c.base, end)
	return r
}

// recommit makes the pages overlapping [start, end) usable again.
func (c *chunk) recommit(start, end int) error {
	first := start >> format.PageShift
	last := (end + format.PageMask) >> format.PageShift
	for p := c.decommitted.NextSet(first); p >= 0 && p < last; {
		q := p + 1
		for q < last && c.decommitted.Get(q) {
			q++
		}
		if err := osmem.Recommit(c.data[p<<format.PageShift : q<<format.PageShift]); err != nil {
			return err
		}
		c.decommitted.ClearRange(p, q)
		p = c.decommitted.NextSet(q)
	}
	return nil
}

// clearTenuredMarks clears the mark bit of every tenured-owned allocation.
func (c *chunk) clearTenuredMarks() {
	for g := c.mark.NextSet(0); g >= 0; g = c.mark.NextSet(g + 1) {
		if !c.nursery.Get(g) {
			c.mark.ClearAtomic(g)
		}
	}
}

// tenuredBytes returns the total size of the chunk's tenured allocations.
func (c *chunk) tenuredBytes() int {
	n := 0
	for g := c.alloc.NextSet(0); g >= 0; g = c.alloc.NextSet(g + 1) {
		if !c.nursery.Get(g) {
			n += c.allocSize(g)
		}
	}
	return n
}

// regionTable maps footer handles to free-region nodes. Handles start at 1.
type regionTable struct {
	nodes []*freeRegion
	spare []uint32
}

func (t *regionTable) add(r *freeRegion) {
	if n := len(t.spare); n > 0 {
		r.handle = t.spare[n-1]
		t.spare = t.spare[:n-1]
		t.nodes[r.handle-1] = r
		return
	}
	t.nodes = append(t.nodes, r)
	r.handle = uint32(len(t.nodes))
}

func (t *regionTable) get(h uint32) *freeRegion {
	if h == 0 || int(h) > len(t.nodes) {
		return nil
	}
	return t.nodes[h-1]
}

func (t *regionTable) remove(r *freeRegion) {
	t.nodes[r.handle-1] = nil
	t.spare = append(t.spare, r.handle)
}

func (t *regionTable) each(fn func(r *freeRegion)) {
	for _, r := range t.nodes {
		if r != nil {
			fn(r)
		}
	}
}

func (t *regionTable) len() int {
	return len(t.nodes) - len(t.spare)
}

func (t *regionTable) reset() {
	clear(t.nodes)
	t.nodes = t.nodes[:0]
	t.spare = t.spare[:0]
}
