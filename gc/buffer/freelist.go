package buffer

import (
	"math/bits"
	"sync"

	"github.com/joshuapare/bufheap/internal/format"
	"github.com/joshuapare/bufheap/internal/ilist"
)

// freeRegion is the Go-side node of a free region. The footer at the end of
// the region in chunk memory holds the same start offset plus the handle
// that leads back to this node.
type freeRegion struct {
	link ilist.Link[freeRegion]

	chunk       *chunk
	start, end  int
	handle      uint32
	bucket      int8 // free-list bucket while linked
	decommitted bool // some pages inside may be decommitted
}

func (r *freeRegion) Links() *ilist.Link[freeRegion] { return &r.link }

func (r *freeRegion) size() int { return r.end - r.start }

func (r *freeRegion) writeFooter() {
	var flags uint32
	if r.decommitted {
		flags |= format.FreeRegionDecommitted
	}
	format.PutFreeRegionFooter(r.chunk.data, r.end, format.FreeRegionFooter{
		Start:  uint32(r.start),
		Handle: r.handle,
		Flags:  flags,
	})
}

var regionPool = sync.Pool{
	New: func() any { return new(freeRegion) },
}

// newFreeRegion records [start, end) as a free region of c and writes its
// footer. The region is not on any free list yet.
func newFreeRegion(c *chunk, start, end int, decommitted bool) *freeRegion {
	r := regionPool.Get().(*freeRegion)
	*r = freeRegion{chunk: c, start: start, end: end, decommitted: decommitted, bucket: -1}
	c.regions.add(r)
	r.writeFooter()
	return r
}

// releaseRegion forgets a region that is no longer on any free list.
func releaseRegion(r *freeRegion) {
	r.chunk.regions.remove(r)
	*r = freeRegion{}
	regionPool.Put(r)
}

// releaseAllRegions forgets every region of c. None may be on a free list.
func releaseAllRegions(c *chunk) {
	c.regions.each(func(r *freeRegion) {
		poison(c.data[format.FooterOffset(r.end):r.end])
		*r = freeRegion{}
		regionPool.Put(r)
	})
	c.regions.reset()
}

type regionList = ilist.List[freeRegion, *freeRegion]

// freeLists buckets free regions by size class, with a bitset of non-empty
// buckets.
type freeLists struct {
	lists     [format.MediumAllocClasses]regionList
	available uint32
}

func (fl *freeLists) insert(r *freeRegion) {
	b := freeRegionClass(r.size()) - format.MinMediumAllocShift
	r.bucket = int8(b)
	fl.lists[b].PushBack(r)
	fl.available |= 1 << b
}

func (fl *freeLists) remove(r *freeRegion) {
	b := int(r.bucket)
	assertf(b >= 0 && r.link.IsLinked(), "remove of unlinked free region 0x%x", r.start)
	fl.lists[b].Remove(r)
	r.bucket = -1
	if fl.lists[b].Empty() {
		fl.available &^= 1 << b
	}
}

// findSmallest returns a region from the smallest non-empty bucket that can
// satisfy an allocation of the given class, or nil.
func (fl *freeLists) findSmallest(class int) *freeRegion {
	b := class - format.MinMediumAllocShift
	m := fl.available &^ (1<<b - 1)
	if m == 0 {
		return nil
	}
	return fl.lists[bits.TrailingZeros32(m)].Front()
}

// removeChunk takes every region of c off the lists.
func (fl *freeLists) removeChunk(c *chunk) {
	c.regions.each(func(r *freeRegion) {
		if r.link.IsLinked() {
			fl.remove(r)
		}
	})
}

// insertChunk puts every region of c on the lists.
func (fl *freeLists) insertChunk(c *chunk) {
	c.regions.each(fl.insert)
}

// append moves every region of other onto fl in O(1) per bucket.
func (fl *freeLists) append(other *freeLists) {
	for b := range fl.lists {
		fl.lists[b].Append(&other.lists[b])
	}
	fl.available |= other.available
	other.available = 0
}

func (fl *freeLists) empty() bool { return fl.available == 0 }

// count returns the number of regions and their total size.
func (fl *freeLists) count() (regions, bytes int) {
	for b := range fl.lists {
		fl.lists[b].All(func(r *freeRegion) bool {
			regions++
			bytes += r.size()
			return true
		})
	}
	return regions, bytes
}
