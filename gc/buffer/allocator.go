package buffer

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/bufheap/gc/cell"
	"github.com/joshuapare/bufheap/gc/zone"
	"github.com/joshuapare/bufheap/internal/format"
	"github.com/joshuapare/bufheap/internal/logger"
	"github.com/joshuapare/bufheap/vm"
)

// Ptr is the address of a buffer. The zero Ptr is null.
type Ptr = vm.Addr

// Null is the null buffer pointer.
const Null = vm.Null

// Allocator is the buffer allocator of one zone.
//
// Allocation, free, resize, promotion and the collection phase methods are
// called from a single allocating goroutine. SweepForMinorCollection and
// SweepForMajorCollection run on one background goroutine at a time;
// MarkBlack may be called from either.
type Allocator struct {
	cfg   Config
	log   *slog.Logger
	zone  *zone.Zone
	store *vm.ChunkStore
	cells *cell.Heap

	// Live structures, allocating goroutine only.
	free          freeLists
	mixedChunks   chunkList // chunks holding nursery-owned allocations
	tenuredChunks chunkList
	nurseryLarge  largeList
	tenuredLarge  largeList

	// Queued for sweeping. Filled by the allocating goroutine at collection
	// start, drained by the sweep goroutine.
	minorToSweep      chunkList
	majorToSweep      chunkList
	minorLargeToSweep largeList
	majorLargeToSweep largeList

	minorState atomic.Int32
	majorState atomic.Int32

	majorStartedWhileMinorSweeping  bool
	majorFinishedWhileMinorSweeping bool
	majorSweepDone                  bool

	// Sweep results waiting for MergeSweptData.
	lock               sync.Mutex
	stagedMinor        stagedData
	stagedMajor        stagedData
	sweptDataAvailable atomic.Bool

	closed bool
	stats  counters
}

type counters struct {
	smallAllocs      atomic.Int64
	mediumAllocs     atomic.Int64
	largeAllocs      atomic.Int64
	frees            atomic.Int64
	refusedFrees     atomic.Int64
	oom              atomic.Int64
	growInPlace      atomic.Int64
	shrinkInPlace    atomic.Int64
	reallocCopies    atomic.Int64
	promotions       atomic.Int64
	chunksAllocated  atomic.Int64
	chunksReleased   atomic.Int64
	largeReleased    atomic.Int64
	sweptDead        atomic.Int64
	pagesDecommitted atomic.Int64
	minorSweeps      atomic.Int64
	majorSweeps      atomic.Int64
	majorAborts      atomic.Int64
}

// New creates the allocator for zone z. Chunks and large mappings come from
// store, which may be shared between zones. A nil cfg uses DefaultConfig.
func New(z *zone.Zone, store *vm.ChunkStore, cfg *Config) *Allocator {
	c := DefaultConfig
	if cfg != nil {
		c = *cfg
	}
	c.SweepBatchChunks = max(c.SweepBatchChunks, 1)
	log := logger.Or(c.Logger).With("component", "buffer", "zone", z.Name)
	return &Allocator{
		cfg:   c,
		log:   log,
		zone:  z,
		store: store,
		cells: cell.NewHeap(z.ID, store, &cell.Config{Name: z.Name, Logger: c.Logger}),
	}
}

// Zone returns the zone the allocator serves.
func (a *Allocator) Zone() *zone.Zone { return a.zone }

// Alloc returns a buffer of at least bytes usable bytes, or Null when memory
// cannot be obtained. Chunk acquisition fails fast.
func (a *Allocator) Alloc(bytes int, nurseryOwned bool) Ptr {
	return a.alloc(bytes, nurseryOwned, vm.FailFast)
}

// AllocInGC is Alloc for use while the collector is active. Chunk
// acquisition stalls and retries instead of failing fast.
func (a *Allocator) AllocInGC(bytes int, nurseryOwned bool) Ptr {
	return a.alloc(bytes, nurseryOwned, vm.StallAndRetry)
}

func (a *Allocator) alloc(bytes int, nurseryOwned bool, policy vm.StallPolicy) Ptr {
	size := GoodAllocSize(bytes)
	if size == 0 || bytes < 0 {
		a.stats.oom.Add(1)
		return Null
	}
	switch tierFor(size) {
	case tierSmall:
		return a.allocSmall(size, nurseryOwned, policy)
	case tierMedium:
		return a.allocMedium(size, nurseryOwned, policy)
	default:
		return a.allocLarge(size, nurseryOwned)
	}
}

// Realloc resizes the buffer at ptr to at least bytes usable bytes. A null
// ptr allocates. The buffer is resized in place when its tier allows it and
// the ownership is unchanged; otherwise the contents move to a new buffer and
// ptr is freed. On failure Realloc returns Null and ptr stays valid.
func (a *Allocator) Realloc(ptr Ptr, bytes int, nurseryOwned bool) Ptr {
	if ptr == Null {
		return a.Alloc(bytes, nurseryOwned)
	}
	ref, ok := a.resolve(ptr)
	assertf(ok, "realloc of unknown pointer %v", ptr)
	if !ok {
		return Null
	}
	size := GoodAllocSize(bytes)
	if size == 0 {
		a.stats.oom.Add(1)
		return Null
	}

	oldSize := ref.size()
	if ref.nurseryOwned() == nurseryOwned && ref.tier == tierFor(size) {
		switch {
		case size == oldSize:
			return ptr
		case ref.tier == tierMedium && size < oldSize:
			if a.shrinkMedium(ref.chunk, ref.off, size) {
				return ptr
			}
		case ref.tier == tierMedium:
			if a.growMedium(ref.chunk, ref.off, size) {
				return ptr
			}
		case ref.tier == tierLarge && size < oldSize:
			if a.shrinkLarge(ref.large, size) {
				return ptr
			}
		}
	}

	n := a.Alloc(bytes, nurseryOwned)
	if n == Null {
		return Null
	}
	copy(a.Bytes(n), ref.bytes()[:min(oldSize, size)])
	a.Free(ptr)
	a.stats.reallocCopies.Add(1)
	return n
}

// GrowInPlace extends the buffer at ptr to at least bytes usable bytes
// without moving it. Only medium buffers can grow in place.
func (a *Allocator) GrowInPlace(ptr Ptr, bytes int) bool {
	ref, ok := a.resolve(ptr)
	if !ok || ref.tier != tierMedium {
		return false
	}
	size := GoodAllocSize(bytes)
	if tierFor(size) != tierMedium {
		return false
	}
	return a.growMedium(ref.chunk, ref.off, size)
}

// ShrinkInPlace truncates the buffer at ptr to at least bytes usable bytes
// without moving it. Small buffers never shrink; large buffers shrink only
// where the OS can unmap part of a mapping.
func (a *Allocator) ShrinkInPlace(ptr Ptr, bytes int) bool {
	ref, ok := a.resolve(ptr)
	if !ok {
		return false
	}
	size := GoodAllocSize(bytes)
	if size == 0 || tierFor(size) != ref.tier {
		return false
	}
	switch ref.tier {
	case tierMedium:
		return a.shrinkMedium(ref.chunk, ref.off, size)
	case tierLarge:
		return a.shrinkLarge(ref.large, size)
	default:
		return size == ref.size()
	}
}

// Free releases the buffer at ptr. Freeing Null is a no-op. A buffer queued
// for sweeping is left for the sweep to reclaim.
func (a *Allocator) Free(ptr Ptr) {
	if ptr == Null {
		return
	}
	ref, ok := a.resolve(ptr)
	assertf(ok, "free of unknown or already freed pointer %v", ptr)
	if !ok {
		return
	}
	switch ref.tier {
	case tierMedium:
		a.freeMedium(ref.chunk, ref.off)
	case tierLarge:
		a.freeLarge(ref.large)
	default:
		a.freeSmall(ref.cell)
	}
}

// IsBufferAlloc reports whether ptr is a live buffer of this allocator.
func (a *Allocator) IsBufferAlloc(ptr Ptr) bool {
	_, ok := a.resolve(ptr)
	return ok
}

// AllocSize returns the usable size of the buffer at ptr, or 0.
func (a *Allocator) AllocSize(ptr Ptr) int {
	ref, ok := a.resolve(ptr)
	if !ok {
		return 0
	}
	return ref.size()
}

// AllocZone returns the zone owning the buffer at ptr, or nil.
func (a *Allocator) AllocZone(ptr Ptr) *zone.Zone {
	if _, ok := a.resolve(ptr); !ok {
		return nil
	}
	return a.zone
}

// IsNurseryOwned reports whether the buffer at ptr has a nursery owner.
func (a *Allocator) IsNurseryOwned(ptr Ptr) bool {
	ref, ok := a.resolve(ptr)
	return ok && ref.nurseryOwned()
}

// IsMarkedBlack reports whether the buffer at ptr is marked.
func (a *Allocator) IsMarkedBlack(ptr Ptr) bool {
	ref, ok := a.resolve(ptr)
	if !ok {
		return false
	}
	switch ref.tier {
	case tierMedium:
		return ref.chunk.mark.Get(format.Granule(ref.off))
	case tierLarge:
		return ref.large.has(largeMarked)
	default:
		return ref.arena.IsMarked(ref.cell)
	}
}

// Bytes returns the usable bytes of the buffer at ptr, or nil. The slice is
// valid until the buffer is freed, resized or swept.
func (a *Allocator) Bytes(ptr Ptr) []byte {
	ref, ok := a.resolve(ptr)
	if !ok {
		return nil
	}
	return ref.bytes()
}

// Close returns all memory to the store. Outstanding buffers become invalid.
// It fails with ErrBusy while a collection is in progress.
func (a *Allocator) Close() error {
	if a.closed {
		return nil
	}
	if a.IsSweeping() || a.sweptDataAvailable.Load() {
		return ErrBusy
	}
	for _, l := range []*chunkList{&a.mixedChunks, &a.tenuredChunks} {
		for c := l.PopFront(); c != nil; c = l.PopFront() {
			a.zone.RemoveMallocBytes(c.tenuredBytes())
			a.free.removeChunk(c)
			a.releaseChunk(c)
		}
	}
	for _, l := range []*largeList{&a.nurseryLarge, &a.tenuredLarge} {
		for b := l.PopFront(); b != nil; b = l.PopFront() {
			if !b.has(largeNurseryOwned) {
				a.zone.RemoveMallocBytes(b.size())
			}
			a.unmapLarge(b)
		}
	}
	a.cells.Close()
	a.closed = true
	a.log.Debug("allocator closed")
	return nil
}

// bufferRef is a resolved buffer pointer.
type bufferRef struct {
	tier tier

	chunk *chunk // medium
	off   int

	large *largeBuffer

	arena *cell.Arena // small
	cell  vm.Addr
}

// resolve finds the live buffer starting at ptr. The tier comes from the
// kind of chunk registered for ptr's slot.
func (a *Allocator) resolve(ptr Ptr) (bufferRef, bool) {
	switch owner := a.store.Lookup(ptr).(type) {
	case *chunk:
		if debugChecks {
			h, err := format.ReadChunkHeader(owner.data)
			assertf(err == nil && h.Kind == format.ChunkKindMedium, "chunk %v header: %v", owner.base, err)
		}
		off := ptr.ChunkOffset()
		if owner.zone != a.zone || !owner.isAllocStart(off) {
			return bufferRef{}, false
		}
		return bufferRef{tier: tierMedium, chunk: owner, off: off}, true
	case *largeBuffer:
		if owner.zone != a.zone || ptr != owner.mapping.Addr {
			return bufferRef{}, false
		}
		return bufferRef{tier: tierLarge, large: owner}, true
	case *cell.Arena:
		c := ptr - format.SmallBufferHeaderSize
		if owner.Heap() != a.cells || !owner.IsAllocated(c) {
			return bufferRef{}, false
		}
		return bufferRef{tier: tierSmall, arena: owner, cell: c}, true
	default:
		return bufferRef{}, false
	}
}

func (r bufferRef) size() int {
	switch r.tier {
	case tierMedium:
		return r.chunk.allocSize(format.Granule(r.off))
	case tierLarge:
		return r.large.size()
	default:
		return int(smallHeader(r.arena, r.cell).Size) - format.SmallBufferHeaderSize
	}
}

func (r bufferRef) nurseryOwned() bool {
	switch r.tier {
	case tierMedium:
		return r.chunk.nursery.Get(format.Granule(r.off))
	case tierLarge:
		return r.large.has(largeNurseryOwned)
	default:
		return smallHeader(r.arena, r.cell).NurseryOwned()
	}
}

func (r bufferRef) bytes() []byte {
	switch r.tier {
	case tierMedium:
		return r.chunk.bytes(r.off, r.size())
	case tierLarge:
		return r.large.mapping.Data
	default:
		return r.arena.Cell(r.cell)[format.SmallBufferHeaderSize:]
	}
}
