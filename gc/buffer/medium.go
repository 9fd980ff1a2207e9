package buffer

import (
	"github.com/joshuapare/bufheap/internal/format"
	"github.com/joshuapare/bufheap/vm"
)

// allocMedium serves a medium request of size bytes (already rounded by
// GoodAllocSize).
//
// Algorithm:
//  1. Take a region from the smallest non-empty bucket that fits the class.
//  2. If none, merge any staged sweep results and look again.
//  3. If still none, seed a new chunk with one region spanning it.
//  4. Carve the allocation off the front of the region.
func (a *Allocator) allocMedium(size int, nurseryOwned bool, policy vm.StallPolicy) Ptr {
	class := mediumAllocClass(size)

	r := a.free.findSmallest(class)
	if r == nil && a.sweptDataAvailable.Load() {
		a.MergeSweptData()
		r = a.free.findSmallest(class)
	}
	if r == nil {
		var err error
		if r, err = a.newMediumChunk(policy); err != nil {
			a.log.Debug("medium chunk unavailable", "size", size, "policy", policy, "err", err)
			a.stats.oom.Add(1)
			return vm.Null
		}
	}
	return a.allocFromRegion(r, size, class, nurseryOwned)
}

// newMediumChunk takes a chunk from the store, puts it on the tenured list,
// and returns its single free region, already on the free lists.
func (a *Allocator) newMediumChunk(policy vm.StallPolicy) (*freeRegion, error) {
	vmc, err := a.store.TakeOrAllocChunk(policy)
	if err != nil {
		return nil, err
	}
	c := newChunk(vmc, a.zone)
	if a.MajorState() != NotCollecting {
		c.allocatedDuringCollection.Store(true)
	}
	a.store.Register(vmc, c)
	a.tenuredChunks.PushBack(c)
	c.list = listTenured

	poison(c.data[format.FirstMediumAllocOffset:format.FooterOffset(format.ChunkSize)])
	r := newFreeRegion(c, format.FirstMediumAllocOffset, format.ChunkSize, false)
	a.free.insert(r)
	a.stats.chunksAllocated.Add(1)
	return r, nil
}

func (a *Allocator) allocFromRegion(r *freeRegion, size, class int, nurseryOwned bool) Ptr {
	c := r.chunk
	off := r.start
	assertf(r.size() >= size, "region 0x%x too small for %d", off, size)

	if r.decommitted {
		if err := c.recommit(off, off+size); err != nil {
			a.log.Debug("recommit failed", "chunk", c.base, "err", err)
			a.stats.oom.Add(1)
			return vm.Null
		}
	} else if debugChecks {
		a.checkPoison(r, off, off+size)
	}

	a.free.remove(r)
	if r.size() == size {
		releaseRegion(r)
	} else {
		r.start += size
		r.writeFooter()
		a.free.insert(r)
	}

	g := format.Granule(off)
	c.alloc.Set(g)
	format.PutSizeClass(c.data, g, class)
	if nurseryOwned {
		c.nursery.SetAtomic(g)
		c.nurseryOwnedAllocs.Add(1)
		if c.list == listTenured {
			a.tenuredChunks.Remove(c)
			a.mixedChunks.PushBack(c)
			c.list = listMixed
		}
	} else {
		c.zone.AddMallocBytes(size)
	}

	a.stats.mediumAllocs.Add(1)
	return c.base + vm.Addr(off)
}

// checkPoison verifies that [start, end) of region r still holds poison,
// skipping r's own footer.
func (a *Allocator) checkPoison(r *freeRegion, start, end int) {
	stop := min(end, format.FooterOffset(r.end))
	if i := poisoned(r.chunk.data[start:stop]); i >= 0 {
		assertf(false, "write after free at %v", r.chunk.base+vm.Addr(start+i))
	}
}

// freeMedium releases the allocation at off. Frees on chunks queued for
// sweeping are dropped; the sweep reclaims the allocation once its owner
// is dead.
func (a *Allocator) freeMedium(c *chunk, off int) {
	if c.sweeping.Load() {
		a.stats.refusedFrees.Add(1)
		return
	}
	g := format.Granule(off)
	size := c.allocSize(g)

	c.alloc.Clear(g)
	c.mark.ClearAtomic(g)
	if c.nursery.ClearAtomic(g) {
		c.nurseryOwnedAllocs.Add(-1)
	} else {
		c.zone.RemoveMallocBytes(size)
	}
	poison(c.bytes(off, size))

	a.addFreeRegion(c, off, off+size)
	a.stats.frees.Add(1)
}

// addFreeRegion turns [start, end) of a live chunk into free space,
// coalescing with the free regions on either side.
func (a *Allocator) addFreeRegion(c *chunk, start, end int) {
	var prev, next *freeRegion
	if end < format.ChunkSize && !c.alloc.Get(format.Granule(end)) {
		next = c.regionStartingAt(end)
	}
	if c.precededByFreeRegion(start) {
		prev = c.regionEndingAt(start)
	}

	var r *freeRegion
	switch {
	case prev != nil && next != nil:
		a.free.remove(prev)
		a.free.remove(next)
		poison(c.data[format.FooterOffset(start):start])
		prev.end = next.end
		prev.decommitted = prev.decommitted || next.decommitted
		releaseRegion(next)
		r = prev
	case next != nil:
		a.free.remove(next)
		next.start = start
		r = next
	case prev != nil:
		a.free.remove(prev)
		poison(c.data[format.FooterOffset(start):start])
		prev.end = end
		r = prev
	default:
		r = newFreeRegion(c, start, end, false)
	}
	r.writeFooter()
	a.free.insert(r)
}

// growMedium extends the allocation at off to newSize by taking bytes from
// the free region that follows it. It reports false when the chunk is being
// swept or the neighbour is missing or too small.
func (a *Allocator) growMedium(c *chunk, off, newSize int) bool {
	if c.sweeping.Load() {
		return false
	}
	g := format.Granule(off)
	oldSize := c.allocSize(g)
	end := off + oldSize
	need := newSize - oldSize
	if need <= 0 {
		return need == 0
	}
	if end >= format.ChunkSize || c.alloc.Get(format.Granule(end)) {
		return false
	}
	r := c.regionStartingAt(end)
	if r.size() < need {
		return false
	}

	if r.decommitted {
		if err := c.recommit(end, end+need); err != nil {
			return false
		}
	} else if debugChecks {
		a.checkPoison(r, end, end+need)
	}

	a.free.remove(r)
	if r.size() == need {
		releaseRegion(r)
	} else {
		r.start += need
		r.writeFooter()
		a.free.insert(r)
	}

	format.PutSizeClass(c.data, g, mediumAllocClass(newSize))
	if !c.nursery.Get(g) {
		c.zone.AddMallocBytes(need)
	}
	a.stats.growInPlace.Add(1)
	return true
}

// shrinkMedium truncates the allocation at off to newSize, returning the
// tail to the free space that follows it.
func (a *Allocator) shrinkMedium(c *chunk, off, newSize int) bool {
	if c.sweeping.Load() {
		return false
	}
	g := format.Granule(off)
	oldSize := c.allocSize(g)
	if newSize >= oldSize {
		return newSize == oldSize
	}

	format.PutSizeClass(c.data, g, mediumAllocClass(newSize))
	if !c.nursery.Get(g) {
		c.zone.RemoveMallocBytes(oldSize - newSize)
	}
	poison(c.bytes(off+newSize, oldSize-newSize))
	a.addFreeRegion(c, off+newSize, off+oldSize)
	a.stats.shrinkInPlace.Add(1)
	return true
}
