package buffer

import (
	"io"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/bufheap/internal/format"
)

// Stats is a snapshot of an allocator's state and counters.
type Stats struct {
	Zone      string
	HeapBytes int64 // tenured bytes accounted to the zone

	MinorState State
	MajorState State

	MixedChunks   int
	TenuredChunks int
	FreeRegions   int
	FreeBytes     int
	NurseryLarge  int
	TenuredLarge  int
	LargeBytes    int
	SmallCells    int

	SmallAllocs      int64
	MediumAllocs     int64
	LargeAllocs      int64
	Frees            int64
	RefusedFrees     int64
	OutOfMemory      int64
	GrowInPlace      int64
	ShrinkInPlace    int64
	ReallocCopies    int64
	Promotions       int64
	ChunksAllocated  int64
	ChunksReleased   int64
	LargeReleased    int64
	SweptDead        int64
	PagesDecommitted int64
	MinorSweeps      int64
	MajorSweeps      int64
	MajorAborts      int64
}

// Stats returns a snapshot. Call it from the allocating goroutine.
func (a *Allocator) Stats() Stats {
	s := Stats{
		Zone:          a.zone.Name,
		HeapBytes:     a.zone.MallocHeapSize(),
		MinorState:    a.MinorState(),
		MajorState:    a.MajorState(),
		MixedChunks:   a.mixedChunks.Len(),
		TenuredChunks: a.tenuredChunks.Len(),
		NurseryLarge:  a.nurseryLarge.Len(),
		TenuredLarge:  a.tenuredLarge.Len(),
		SmallCells:    a.cells.Live(),
	}
	s.FreeRegions, s.FreeBytes = a.free.count()
	for _, l := range []*largeList{&a.nurseryLarge, &a.tenuredLarge} {
		l.All(func(b *largeBuffer) bool {
			s.LargeBytes += b.size()
			return true
		})
	}

	c := &a.stats
	s.SmallAllocs = c.smallAllocs.Load()
	s.MediumAllocs = c.mediumAllocs.Load()
	s.LargeAllocs = c.largeAllocs.Load()
	s.Frees = c.frees.Load()
	s.RefusedFrees = c.refusedFrees.Load()
	s.OutOfMemory = c.oom.Load()
	s.GrowInPlace = c.growInPlace.Load()
	s.ShrinkInPlace = c.shrinkInPlace.Load()
	s.ReallocCopies = c.reallocCopies.Load()
	s.Promotions = c.promotions.Load()
	s.ChunksAllocated = c.chunksAllocated.Load()
	s.ChunksReleased = c.chunksReleased.Load()
	s.LargeReleased = c.largeReleased.Load()
	s.SweptDead = c.sweptDead.Load()
	s.PagesDecommitted = c.pagesDecommitted.Load()
	s.MinorSweeps = c.minorSweeps.Load()
	s.MajorSweeps = c.majorSweeps.Load()
	s.MajorAborts = c.majorAborts.Load()
	return s
}

// Report writes a human-readable summary of s to w.
func (s Stats) Report(w io.Writer) error {
	p := message.NewPrinter(language.English)
	ib := func(n int64) string { return humanize.IBytes(uint64(max(n, 0))) }

	_, err := p.Fprintf(w,
		"zone %s: %s tenured heap, minor %v, major %v\n"+
			"chunks: %d mixed, %d tenured (%s), %d free regions (%s free)\n"+
			"large:  %d nursery, %d tenured (%s)\n"+
			"small:  %d cells\n"+
			"allocs: %d small, %d medium, %d large, %d frees (%d refused), %d out of memory\n"+
			"resize: %d grown, %d shrunk in place, %d copied\n"+
			"gc:     %d minor sweeps, %d major sweeps, %d aborted, %d promoted, %d swept dead\n"+
			"        %d chunks allocated, %d released, %d large released, %d pages decommitted\n",
		s.Zone, ib(s.HeapBytes), s.MinorState, s.MajorState,
		s.MixedChunks, s.TenuredChunks, ib(int64(s.MixedChunks+s.TenuredChunks)*format.ChunkSize),
		s.FreeRegions, ib(int64(s.FreeBytes)),
		s.NurseryLarge, s.TenuredLarge, ib(int64(s.LargeBytes)),
		s.SmallCells,
		s.SmallAllocs, s.MediumAllocs, s.LargeAllocs, s.Frees, s.RefusedFrees, s.OutOfMemory,
		s.GrowInPlace, s.ShrinkInPlace, s.ReallocCopies,
		s.MinorSweeps, s.MajorSweeps, s.MajorAborts, s.Promotions, s.SweptDead,
		s.ChunksAllocated, s.ChunksReleased, s.LargeReleased, s.PagesDecommitted)
	return err
}
