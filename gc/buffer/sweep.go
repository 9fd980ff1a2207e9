package buffer

import (
	"context"
	"fmt"

	"github.com/joshuapare/bufheap/internal/decommit"
	"github.com/joshuapare/bufheap/internal/format"
)

// State is the collection state of one generation.
type State int32

const (
	NotCollecting State = iota
	Marking
	Sweeping
)

func (s State) String() string {
	switch s {
	case NotCollecting:
		return "not-collecting"
	case Marking:
		return "marking"
	case Sweeping:
		return "sweeping"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type generation uint8

const (
	minorGen generation = iota
	majorGen
)

func (g generation) String() string {
	if g == minorGen {
		return "minor"
	}
	return "major"
}

// stagedData is swept memory waiting to be merged into the live lists.
type stagedData struct {
	chunks chunkList
	free   freeLists
	large  largeList
	done   bool // the sweep that produced it has finished
}

// moveTo transfers everything in s to dst.
func (s *stagedData) moveTo(dst *stagedData) {
	dst.chunks.Append(&s.chunks)
	dst.free.append(&s.free)
	dst.large.Append(&s.large)
	dst.done = dst.done || s.done
	s.done = false
}

// MinorState returns the state of the nursery generation.
func (a *Allocator) MinorState() State { return State(a.minorState.Load()) }

// MajorState returns the state of the tenured generation.
func (a *Allocator) MajorState() State { return State(a.majorState.Load()) }

// IsSweeping reports whether the allocator has chunks or large buffers
// queued for sweeping in either generation.
func (a *Allocator) IsSweeping() bool {
	return a.MinorState() != NotCollecting || a.MajorState() != NotCollecting
}

// StartMinorCollection takes every mixed chunk and every nursery large
// buffer out of rotation for the minor sweep. Their free regions leave the
// live free lists.
func (a *Allocator) StartMinorCollection() error {
	if st := a.MinorState(); st != NotCollecting {
		return fmt.Errorf("%w: start minor while %v", ErrWrongPhase, st)
	}
	for c := a.mixedChunks.PopFront(); c != nil; c = a.mixedChunks.PopFront() {
		a.free.removeChunk(c)
		c.sweeping.Store(true)
		c.list = listNone
		a.minorToSweep.PushBack(c)
	}
	for b := a.nurseryLarge.PopFront(); b != nil; b = a.nurseryLarge.PopFront() {
		b.set(largeSweeping)
		b.list = listNone
		a.minorLargeToSweep.PushBack(b)
	}
	a.minorState.Store(int32(Marking))
	a.log.Debug("minor collection started",
		"chunks", a.minorToSweep.Len(), "large", a.minorLargeToSweep.Len())
	return nil
}

// StartMinorSweeping ends minor marking. Nursery large buffers and small
// buffers are swept right away; the dead large buffers are returned so the
// caller can unmap them off the allocating goroutine. Chunks are left for
// SweepForMinorCollection.
func (a *Allocator) StartMinorSweeping() (*DeadLarge, error) {
	if st := a.MinorState(); st != Marking {
		return nil, fmt.Errorf("%w: minor sweeping while %v", ErrWrongPhase, st)
	}

	dead := &DeadLarge{a: a}
	fold := a.foldIntoMajor()
	for b := a.minorLargeToSweep.PopFront(); b != nil; b = a.minorLargeToSweep.PopFront() {
		nursery := b.has(largeNurseryOwned)
		if nursery && !b.has(largeMarked) {
			a.store.Unregister(b.mapping)
			dead.list.PushBack(b)
			continue
		}
		if nursery {
			b.unset(largeMarked)
		}
		if fold {
			a.majorLargeToSweep.PushBack(b)
			continue
		}
		if a.majorFinishedWhileMinorSweeping && !nursery {
			b.unset(largeMarked)
		}
		b.unset(largeSweeping)
		a.relistLarge(b)
	}

	small := a.sweepSmall(minorGen)
	a.minorState.Store(int32(Sweeping))
	a.stats.minorSweeps.Add(1)
	a.log.Debug("minor sweeping started",
		"deadLarge", dead.Len(), "smallReleased", small.Released, "chunks", a.minorToSweep.Len())
	return dead, nil
}

// SweepForMinorCollection sweeps the chunks queued by StartMinorCollection.
// It runs on the background sweep goroutine, concurrently with allocation.
func (a *Allocator) SweepForMinorCollection() {
	a.sweepChunks(minorGen, &a.minorToSweep, nil)
	a.stage(minorGen, &stagedData{done: true})
}

// StartMajorCollection takes every live chunk and large buffer out of
// rotation for the major sweep. A minor collection still in progress keeps
// its own chunks; they are folded into this collection when they come back
// if marking is still under way.
func (a *Allocator) StartMajorCollection() error {
	if st := a.MajorState(); st != NotCollecting {
		return fmt.Errorf("%w: start major while %v", ErrWrongPhase, st)
	}
	for _, l := range []*chunkList{&a.mixedChunks, &a.tenuredChunks} {
		for c := l.PopFront(); c != nil; c = l.PopFront() {
			a.free.removeChunk(c)
			c.sweeping.Store(true)
			c.list = listNone
			a.majorToSweep.PushBack(c)
		}
	}
	for _, l := range []*largeList{&a.nurseryLarge, &a.tenuredLarge} {
		for b := l.PopFront(); b != nil; b = l.PopFront() {
			b.set(largeSweeping)
			b.list = listNone
			a.majorLargeToSweep.PushBack(b)
		}
	}
	if a.MinorState() != NotCollecting {
		a.majorStartedWhileMinorSweeping = true
	}
	a.majorSweepDone = false
	a.majorState.Store(int32(Marking))
	a.log.Debug("major collection started",
		"chunks", a.majorToSweep.Len(), "large", a.majorLargeToSweep.Len(),
		"minor", a.MinorState())
	return nil
}

// StartMajorSweeping ends major marking and sweeps small buffers. Chunks and
// large buffers are left for SweepForMajorCollection.
func (a *Allocator) StartMajorSweeping() error {
	if st := a.MajorState(); st != Marking {
		return fmt.Errorf("%w: major sweeping while %v", ErrWrongPhase, st)
	}
	small := a.sweepSmall(majorGen)
	a.majorState.Store(int32(Sweeping))
	a.stats.majorSweeps.Add(1)
	a.log.Debug("major sweeping started",
		"smallReleased", small.Released, "chunks", a.majorToSweep.Len())
	return nil
}

// SweepForMajorCollection sweeps the chunks and large buffers queued by
// StartMajorCollection. With decommit set, whole pages of free space are
// released to the OS. It runs on the background sweep goroutine.
func (a *Allocator) SweepForMajorCollection(decommitFree bool) {
	var tracker *decommit.Tracker
	if decommitFree {
		tracker = decommit.NewTracker()
	}
	a.sweepChunks(majorGen, &a.majorToSweep, tracker)

	final := &stagedData{done: true}
	for b := a.majorLargeToSweep.PopFront(); b != nil; b = a.majorLargeToSweep.PopFront() {
		nursery := b.has(largeNurseryOwned)
		if !nursery && !b.has(largeMarked) {
			b.zone.RemoveMallocBytes(b.size())
			a.unmapLarge(b)
			a.stats.largeReleased.Add(1)
			a.stats.sweptDead.Add(1)
			continue
		}
		if !nursery {
			b.unset(largeMarked)
		}
		final.large.PushBack(b)
	}
	a.stage(majorGen, final)
}

// FinishMajorCollection ends the major collection.
//
// After a completed sweep it merges the remaining results and clears the
// tenured marks and allocated-during-collection flags left on live memory.
// Called while still marking, it aborts: queued chunks and large buffers go
// back to the live lists with their tenured marks cleared and their free
// regions rebuilt from the region tables.
func (a *Allocator) FinishMajorCollection() error {
	switch st := a.MajorState(); st {
	case Marking:
		a.abortMajor()
	case Sweeping:
		a.MergeSweptData()
		if !a.majorSweepDone {
			return ErrSweepInProgress
		}
	default:
		return fmt.Errorf("%w: finish major while %v", ErrWrongPhase, st)
	}

	for _, l := range []*chunkList{&a.mixedChunks, &a.tenuredChunks} {
		l.All(func(c *chunk) bool {
			c.clearTenuredMarks()
			c.allocatedDuringCollection.Store(false)
			return true
		})
	}
	for _, l := range []*largeList{&a.nurseryLarge, &a.tenuredLarge} {
		l.All(func(b *largeBuffer) bool {
			if !b.has(largeNurseryOwned) {
				b.unset(largeMarked)
			}
			b.unset(largeAllocatedDuringCollection)
			return true
		})
	}
	a.clearSmallTenuredMarks()

	if a.MinorState() != NotCollecting {
		a.majorFinishedWhileMinorSweeping = true
	}
	a.majorSweepDone = false
	a.majorState.Store(int32(NotCollecting))
	a.log.Debug("major collection finished", "heap", a.zone.MallocHeapSize())
	return nil
}

func (a *Allocator) abortMajor() {
	for c := a.majorToSweep.PopFront(); c != nil; c = a.majorToSweep.PopFront() {
		c.clearTenuredMarks()
		c.sweeping.Store(false)
		a.free.insertChunk(c)
		a.relistChunk(c)
	}
	for b := a.majorLargeToSweep.PopFront(); b != nil; b = a.majorLargeToSweep.PopFront() {
		if !b.has(largeNurseryOwned) {
			b.unset(largeMarked)
		}
		b.unset(largeSweeping)
		a.relistLarge(b)
	}
	a.stats.majorAborts.Add(1)
	a.log.Debug("major collection aborted")
}

// foldIntoMajor reports whether memory coming back from the minor sweep
// must join the major collection's queue instead of going live.
func (a *Allocator) foldIntoMajor() bool {
	return a.majorStartedWhileMinorSweeping && a.MajorState() == Marking
}

// relistChunk puts c on the live list matching its nursery contents.
func (a *Allocator) relistChunk(c *chunk) {
	if c.hasNurseryOwnedAllocs() {
		a.mixedChunks.PushBack(c)
		c.list = listMixed
	} else {
		a.tenuredChunks.PushBack(c)
		c.list = listTenured
	}
}

// sweepChunks drains toSweep, staging swept chunks in batches. Empty chunks
// go straight back to the store.
func (a *Allocator) sweepChunks(gen generation, toSweep *chunkList, tracker *decommit.Tracker) {
	batch := &stagedData{}
	for c := toSweep.PopFront(); c != nil; c = toSweep.PopFront() {
		if empty := a.sweepChunk(c, gen, &batch.free, tracker); empty {
			a.releaseChunk(c)
			continue
		}
		batch.chunks.PushBack(c)
		if batch.chunks.Len() >= a.cfg.SweepBatchChunks {
			a.stage(gen, batch)
			batch = &stagedData{}
		}
	}
	a.stage(gen, batch)
}

// sweepChunk walks c in address order, frees dead allocations, clears the
// swept generation's marks on survivors, and rebuilds the chunk's free
// regions into fl. It reports whether the chunk is now empty.
func (a *Allocator) sweepChunk(c *chunk, gen generation, fl *freeLists, tracker *decommit.Tracker) bool {
	releaseAllRegions(c)

	live, dead := 0, 0
	runStart := -1
	for g := format.FirstMediumGranule; g < format.GranulesPerChunk; {
		off := format.GranuleOffset(g)
		if !c.alloc.Get(g) {
			if runStart < 0 {
				runStart = off
			}
			next := c.alloc.NextSet(g + 1)
			if next < 0 {
				break
			}
			g = next
			continue
		}

		size := c.allocSize(g)
		// Nursery first: a concurrent promotion sets the mark before it
		// clears the nursery bit.
		nursery := c.nursery.Get(g)
		marked := c.mark.Get(g)
		if nursery == (gen == minorGen) && !marked {
			c.alloc.Clear(g)
			if nursery && c.nursery.ClearAtomic(g) {
				c.nurseryOwnedAllocs.Add(-1)
			}
			if !nursery {
				c.zone.RemoveMallocBytes(size)
			}
			poison(c.bytes(off, size))
			dead++
			if runStart < 0 {
				runStart = off
			}
		} else {
			if marked && nursery == (gen == minorGen) {
				c.mark.ClearAtomic(g)
			}
			live++
			if runStart >= 0 {
				a.emitRegion(c, runStart, off, fl, tracker)
				runStart = -1
			}
		}
		g += size >> format.GranuleShift
	}

	a.stats.sweptDead.Add(int64(dead))
	if live == 0 {
		return true
	}
	if runStart >= 0 {
		a.emitRegion(c, runStart, format.ChunkSize, fl, tracker)
	}
	if tracker != nil {
		a.flushDecommit(c, tracker)
	}
	return false
}

func (a *Allocator) emitRegion(c *chunk, start, end int, fl *freeLists, tracker *decommit.Tracker) {
	dec := c.decommitted.Any(start>>format.PageShift, (end+format.PageMask)>>format.PageShift)
	if tracker != nil {
		ps := tracker.PageSize()
		body := format.FooterOffset(end)
		if format.AlignDown(body, ps) > format.AlignUp(start, ps) {
			trackCommitted(c, start, body, tracker)
			dec = true
		}
	}
	fl.insert(newFreeRegion(c, start, end, dec))
}

// trackCommitted adds the parts of [start, end) whose pages are still
// committed.
func trackCommitted(c *chunk, start, end int, tracker *decommit.Tracker) {
	run := -1
	for off := start; off < end; {
		next := min(format.AlignDown(off, format.PageSize)+format.PageSize, end)
		if c.decommitted.Get(off >> format.PageShift) {
			if run >= 0 {
				tracker.Add(run, off-run)
				run = -1
			}
		} else if run < 0 {
			run = off
		}
		off = next
	}
	if run >= 0 {
		tracker.Add(run, end-run)
	}
}

func (a *Allocator) flushDecommit(c *chunk, tracker *decommit.Tracker) {
	done, err := tracker.Flush(context.Background(), c.data)
	if err != nil {
		a.log.Debug("decommit failed", "chunk", c.base, "err", err)
	}
	for _, r := range done {
		c.decommitted.SetRange(r.Off>>format.PageShift, r.End()>>format.PageShift)
		a.stats.pagesDecommitted.Add(int64(r.Len >> format.PageShift))
	}
	tracker.Reset()
}

// releaseChunk returns an empty chunk to the store. Safe on the sweep
// goroutine: the store is concurrent and the chunk is on no list.
func (a *Allocator) releaseChunk(c *chunk) {
	releaseAllRegions(c)
	if c.decommitted.NextSet(0) >= 0 {
		c.vmc.MarkDecommitted()
	}
	a.store.Unregister(c.vmc)
	a.store.RecycleChunk(c.vmc)
	a.stats.chunksReleased.Add(1)
}

// stage hands swept data to the allocating goroutine.
func (a *Allocator) stage(gen generation, d *stagedData) {
	a.lock.Lock()
	defer a.lock.Unlock()
	if gen == minorGen {
		d.moveTo(&a.stagedMinor)
	} else {
		d.moveTo(&a.stagedMajor)
	}
	a.sweptDataAvailable.Store(true)
}

// MergeSweptData moves staged sweep results into the live lists. It is
// called opportunistically by allocation and at phase boundaries, and only
// from the allocating goroutine.
//
// Chunks swept by a minor collection join a major collection that started
// while they were away and is still marking. When a major collection
// finished while they were away, their tenured marks are stale and are
// cleared. Once the minor sweep has fully drained, the minor generation
// returns to NotCollecting and both flags reset.
func (a *Allocator) MergeSweptData() {
	var minor, major stagedData
	a.lock.Lock()
	a.stagedMinor.moveTo(&minor)
	a.stagedMajor.moveTo(&major)
	a.sweptDataAvailable.Store(false)
	a.lock.Unlock()

	fold := a.foldIntoMajor()
	for c := minor.chunks.PopFront(); c != nil; c = minor.chunks.PopFront() {
		if fold {
			minor.free.removeChunk(c)
			a.majorToSweep.PushBack(c)
			continue
		}
		if a.majorFinishedWhileMinorSweeping {
			c.clearTenuredMarks()
		}
		if a.MajorState() == NotCollecting {
			c.allocatedDuringCollection.Store(false)
		}
		c.sweeping.Store(false)
		a.relistChunk(c)
	}
	a.free.append(&minor.free)
	if minor.done {
		a.minorState.Store(int32(NotCollecting))
		a.majorStartedWhileMinorSweeping = false
		a.majorFinishedWhileMinorSweeping = false
		a.log.Debug("minor sweep merged")
	}

	for c := major.chunks.PopFront(); c != nil; c = major.chunks.PopFront() {
		c.sweeping.Store(false)
		a.relistChunk(c)
	}
	a.free.append(&major.free)
	for b := major.large.PopFront(); b != nil; b = major.large.PopFront() {
		b.unset(largeSweeping)
		a.relistLarge(b)
	}
	if major.done {
		a.majorSweepDone = true
		a.log.Debug("major sweep merged")
	}
}
