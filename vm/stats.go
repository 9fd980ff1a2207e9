package vm

import (
	"io"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/bufheap/internal/format"
)

// Stats is a snapshot of ChunkStore activity.
type Stats struct {
	ChunksInUse     int
	ChunksPooled    int
	PooledCommitted int
	ChunksMapped    int64
	ChunksUnmapped  int64
	ChunksTaken     int64
	ChunksReused    int64
	ChunksRecycled  int64
	Decommits       int64
	Recommits       int64
	Stalls          int64
	Failures        int64
	LargeMapped     int64
	LargeUnmapped   int64
	LargeBytes      int64
}

// Stats returns a snapshot of the store's counters.
func (s *ChunkStore) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		ChunksInUse:  s.inUse,
		ChunksPooled: len(s.pool),
	}
	for _, c := range s.pool {
		if !c.decommitted {
			st.PooledCommitted++
		}
	}
	s.mu.Unlock()

	st.ChunksMapped = s.stats.chunksMapped.Load()
	st.ChunksUnmapped = s.stats.chunksUnmapped.Load()
	st.ChunksTaken = s.stats.chunksTaken.Load()
	st.ChunksReused = s.stats.chunksReused.Load()
	st.ChunksRecycled = s.stats.chunksRecycled.Load()
	st.Decommits = s.stats.decommits.Load()
	st.Recommits = s.stats.recommits.Load()
	st.Stalls = s.stats.stalls.Load()
	st.Failures = s.stats.failures.Load()
	st.LargeMapped = s.stats.largeMapped.Load()
	st.LargeUnmapped = s.stats.largeUnmapped.Load()
	st.LargeBytes = s.stats.largeBytes.Load()
	return st
}

// Report writes a human-readable summary of s to w.
func (s Stats) Report(w io.Writer) error {
	p := message.NewPrinter(language.English)
	chunkBytes := func(n int) string { return humanize.IBytes(uint64(n) * format.ChunkSize) }

	_, err := p.Fprintf(w,
		"chunks: %d in use (%s), %d pooled (%d committed)\n"+
			"        %d mapped, %d unmapped, %d taken, %d reused, %d recycled, %d decommitted, %d recommitted\n"+
			"        %d stalls, %d failures\n"+
			"large:  %d mapped, %d unmapped, %s live\n",
		s.ChunksInUse, chunkBytes(s.ChunksInUse), s.ChunksPooled, s.PooledCommitted,
		s.ChunksMapped, s.ChunksUnmapped, s.ChunksTaken, s.ChunksReused, s.ChunksRecycled, s.Decommits, s.Recommits,
		s.Stalls, s.Failures,
		s.LargeMapped, s.LargeUnmapped, humanize.IBytes(uint64(max(s.LargeBytes, 0))))
	return err
}
