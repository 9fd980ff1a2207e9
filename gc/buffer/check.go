package buffer

import (
	"fmt"

	"github.com/joshuapare/bufheap/internal/format"
)

// Check verifies the layout of every live medium chunk:
//
//   - the header page carries the medium signature and the owning zone
//   - allocations and free regions tile the chunk after its header with no
//     gaps or overlaps, and no two free regions touch
//   - every free region's footer matches its node and the node is on the
//     free lists
//   - nursery bits are a subset of allocation bits and their count matches
//     the chunk's nursery-owned counter
//   - chunks on the tenured list hold no nursery-owned allocations
//
// Chunks queued for sweeping are skipped. Call it from the allocating
// goroutine.
func (a *Allocator) Check() error {
	live := 0
	for _, l := range []*chunkList{&a.mixedChunks, &a.tenuredChunks} {
		var err error
		l.All(func(c *chunk) bool {
			err = a.checkChunk(c)
			live += c.regions.len()
			return err == nil
		})
		if err != nil {
			return err
		}
	}
	if n, _ := a.free.count(); n != live {
		return fmt.Errorf("%w: %d regions on free lists, %d in live chunks", ErrCorrupt, n, live)
	}
	return nil
}

func (a *Allocator) checkChunk(c *chunk) error {
	fail := func(f string, args ...any) error {
		return fmt.Errorf("%w: chunk %v: %s", ErrCorrupt, c.base, fmt.Sprintf(f, args...))
	}
	if c.sweeping.Load() {
		return fail("on a live list while sweeping")
	}
	h, err := format.ReadChunkHeader(c.data)
	switch {
	case err != nil:
		return fail("header: %v", err)
	case h.Kind != format.ChunkKindMedium || h.ZoneID != c.zone.ID:
		return fail("header kind %d zone %d", h.Kind, h.ZoneID)
	}

	starts := make(map[int]*freeRegion, c.regions.len())
	var regionErr error
	c.regions.each(func(r *freeRegion) {
		if regionErr != nil {
			return
		}
		f := format.ReadFreeRegionFooter(c.data, r.end)
		switch {
		case r.chunk != c:
			regionErr = fail("region 0x%x belongs to another chunk", r.start)
		case int(f.Start) != r.start || f.Handle != r.handle:
			regionErr = fail("region [0x%x, 0x%x) footer says start 0x%x handle %d",
				r.start, r.end, f.Start, f.Handle)
		case f.Decommitted() != r.decommitted:
			regionErr = fail("region 0x%x decommitted flag mismatch", r.start)
		case !r.link.IsLinked():
			regionErr = fail("region 0x%x not on the free lists", r.start)
		}
		starts[r.start] = r
	})
	if regionErr != nil {
		return regionErr
	}

	used, free, visited := format.ChunkHeaderSize, 0, 0
	prevFree := false
	for off := format.FirstMediumAllocOffset; off < format.ChunkSize; {
		g := format.Granule(off)
		if c.alloc.Get(g) {
			size := c.allocSize(g)
			if size < format.MinMediumAllocSize || off+size > format.ChunkSize {
				return fail("allocation 0x%x has bad size %d", off, size)
			}
			if n := c.alloc.NextSet(g + 1); n >= 0 && n < format.Granule(off+size) {
				return fail("allocation 0x%x overlaps allocation 0x%x", off, format.GranuleOffset(n))
			}
			used += size
			off += size
			prevFree = false
			continue
		}
		r, ok := starts[off]
		if !ok {
			return fail("gap at 0x%x", off)
		}
		if prevFree {
			return fail("adjacent free regions at 0x%x", off)
		}
		if c.alloc.Any(g, format.Granule(r.end)) {
			return fail("region [0x%x, 0x%x) overlaps an allocation", r.start, r.end)
		}
		free += r.size()
		visited++
		off = r.end
		prevFree = true
	}
	if visited != len(starts) {
		return fail("%d free regions reached, %d recorded", visited, len(starts))
	}
	if used+free != format.ChunkSize {
		return fail("%d allocated + %d free != %d", used, free, format.ChunkSize)
	}

	nursery := 0
	for g := c.nursery.NextSet(0); g >= 0; g = c.nursery.NextSet(g + 1) {
		if !c.alloc.Get(g) {
			return fail("nursery bit without allocation at 0x%x", format.GranuleOffset(g))
		}
		nursery++
	}
	if n := int(c.nurseryOwnedAllocs.Load()); n != nursery {
		return fail("nursery counter %d, %d nursery bits", n, nursery)
	}
	if c.list == listTenured && nursery > 0 {
		return fail("on the tenured list with %d nursery-owned allocations", nursery)
	}
	return nil
}
