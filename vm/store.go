package vm

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/joshuapare/bufheap/internal/format"
	"github.com/joshuapare/bufheap/internal/logger"
	"github.com/joshuapare/bufheap/internal/osmem"
)

// Chunk is a run of mapped memory occupying one or more address slots. Pool
// chunks are exactly format.ChunkSize bytes; large mappings are page multiples.
type Chunk struct {
	Addr Addr
	Data []byte

	slots       int
	decommitted bool
}

// Slots returns the number of address slots the chunk occupies.
func (c *Chunk) Slots() int { return c.slots }

// MarkDecommitted records that the holder decommitted some of the chunk's
// pages. Call it before RecycleChunk so that the next taker recommits them.
func (c *Chunk) MarkDecommitted() { c.decommitted = true }

// Decommitted reports whether the chunk must be recommitted before use.
func (c *Chunk) Decommitted() bool { return c.decommitted }

// Contains reports whether a falls inside the chunk's mapped bytes.
func (c *Chunk) Contains(a Addr) bool {
	return a >= c.Addr && a < c.Addr+Addr(len(c.Data))
}

// ChunkStore is the process-wide source of chunks and large mappings.
//
// Safe for concurrent use.
type ChunkStore struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	pool     []*Chunk      // recycled chunks, most recent last
	inUse    int           // pooled chunks handed out
	recycled chan struct{} // closed and replaced on every recycle
	nextSlot uint64
	closed   bool

	regMu  sync.RWMutex
	owners map[uint64]any

	stats storeCounters
}

type storeCounters struct {
	chunksMapped   atomic.Int64
	chunksUnmapped atomic.Int64
	chunksTaken    atomic.Int64
	chunksReused   atomic.Int64
	chunksRecycled atomic.Int64
	decommits      atomic.Int64
	recommits      atomic.Int64
	stalls         atomic.Int64
	failures       atomic.Int64
	largeMapped    atomic.Int64
	largeUnmapped  atomic.Int64
	largeBytes     atomic.Int64
}

// New creates a ChunkStore. A nil cfg uses DefaultConfig.
func New(cfg *Config) *ChunkStore {
	c := DefaultConfig
	if cfg != nil {
		c = *cfg
	}
	return &ChunkStore{
		cfg:      c,
		log:      logger.Or(c.Logger).With("component", "vm"),
		recycled: make(chan struct{}),
		nextSlot: 1, // slot 0 holds the null address
		owners:   make(map[uint64]any),
	}
}

// Config returns the store's configuration.
func (s *ChunkStore) Config() Config { return s.cfg }

// TakeOrAllocChunk returns a chunk from the pool, or maps a new one. When
// MaxChunks chunks are already in use the policy decides whether to fail
// immediately or wait for a recycle.
//
// The returned chunk's contents are unspecified; its pages are committed.
func (s *ChunkStore) TakeOrAllocChunk(policy StallPolicy) (*Chunk, error) {
	var deadline time.Time
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		if n := len(s.pool); n > 0 {
			c := s.pool[n-1]
			s.pool[n-1] = nil
			s.pool = s.pool[:n-1]
			s.inUse++
			s.mu.Unlock()
			return s.reuse(c)
		}
		if s.cfg.MaxChunks == 0 || s.inUse < s.cfg.MaxChunks {
			s.inUse++
			slot := s.nextSlot
			s.nextSlot++
			s.mu.Unlock()
			return s.mapChunk(slot)
		}
		wait := s.recycled
		s.mu.Unlock()

		if policy == FailFast {
			s.stats.failures.Add(1)
			return nil, fmt.Errorf("%w: %d chunks in use", ErrNoChunks, s.cfg.MaxChunks)
		}
		if deadline.IsZero() {
			deadline = time.Now().Add(s.cfg.StallTimeout)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.stats.failures.Add(1)
			return nil, fmt.Errorf("%w: stalled for %v", ErrNoChunks, s.cfg.StallTimeout)
		}

		s.stats.stalls.Add(1)
		timer := time.NewTimer(remaining)
		select {
		case <-wait:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (s *ChunkStore) mapChunk(slot uint64) (*Chunk, error) {
	data, err := osmem.Map(format.ChunkSize)
	if err != nil {
		s.mu.Lock()
		s.inUse--
		s.mu.Unlock()
		s.stats.failures.Add(1)
		return nil, fmt.Errorf("%w: %w", ErrNoChunks, err)
	}
	s.stats.chunksMapped.Add(1)
	s.stats.chunksTaken.Add(1)
	c := &Chunk{Addr: slotAddr(slot), Data: data, slots: 1}
	s.log.Debug("chunk mapped", "addr", c.Addr)
	return c, nil
}

func (s *ChunkStore) reuse(c *Chunk) (*Chunk, error) {
	if c.decommitted {
		if err := osmem.Recommit(c.Data); err != nil {
			s.RecycleChunk(c)
			s.stats.failures.Add(1)
			return nil, fmt.Errorf("%w: recommit %v: %w", ErrNoChunks, c.Addr, err)
		}
		c.decommitted = false
		s.stats.recommits.Add(1)
	}
	s.stats.chunksTaken.Add(1)
	s.stats.chunksReused.Add(1)
	return c, nil
}

// RecycleChunk returns a chunk taken with TakeOrAllocChunk to the pool. The
// caller must have unregistered any owner for it.
func (s *ChunkStore) RecycleChunk(c *Chunk) {
	s.mu.Lock()
	s.inUse--
	committed := 0
	for _, p := range s.pool {
		if !p.decommitted {
			committed++
		}
	}
	drop := s.closed || (s.cfg.MaxPooled > 0 && len(s.pool) >= s.cfg.MaxPooled)
	if !drop {
		s.pool = append(s.pool, c)
	}
	close(s.recycled)
	s.recycled = make(chan struct{})
	s.mu.Unlock()

	s.stats.chunksRecycled.Add(1)
	switch {
	case drop:
		if err := osmem.Unmap(c.Data); err != nil {
			s.log.Warn("chunk unmap failed", "addr", c.Addr, "err", err)
		}
		s.stats.chunksUnmapped.Add(1)
	case committed >= s.cfg.MaxPooledCommitted && !c.decommitted:
		s.decommitPooled(c)
	}
}

// decommitPooled decommits c if no taker has claimed it in the meantime.
func (s *ChunkStore) decommitPooled(c *Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pool {
		if p != c {
			continue
		}
		if err := osmem.Decommit(c.Data); err != nil {
			s.log.Warn("chunk decommit failed", "addr", c.Addr, "err", err)
			return
		}
		c.decommitted = true
		s.stats.decommits.Add(1)
		return
	}
}

// MapLarge maps a large allocation of at least n bytes, rounded up to
// format.PageSize, at a fresh chunk-aligned address.
func (s *ChunkStore) MapLarge(n int) (*Chunk, error) {
	if n <= 0 || n > maxLargeBytes {
		return nil, fmt.Errorf("%w: %d", ErrBadSize, n)
	}
	size := format.AlignUp(n, format.PageSize)
	slots := format.ChunkCount(size)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	slot := s.nextSlot
	s.nextSlot += uint64(slots)
	s.mu.Unlock()

	data, err := osmem.Map(size)
	if err != nil {
		s.stats.failures.Add(1)
		return nil, fmt.Errorf("%w: large %s: %w", ErrNoChunks, humanize.IBytes(uint64(size)), err)
	}
	s.stats.largeMapped.Add(1)
	s.stats.largeBytes.Add(int64(size))
	return &Chunk{Addr: slotAddr(slot), Data: data, slots: slots}, nil
}

// TruncateLarge releases the tail of a large mapping so that it keeps
// newLen bytes (a page multiple). It fails with osmem.ErrUnsupported where
// partial unmapping is unavailable. Address slots are not returned.
func (s *ChunkStore) TruncateLarge(c *Chunk, newLen int) error {
	old := len(c.Data)
	data, err := osmem.TruncateTail(c.Data, newLen)
	if err != nil {
		return fmt.Errorf("vm: truncate %v to %d: %w", c.Addr, newLen, err)
	}
	c.Data = data
	s.stats.largeBytes.Add(int64(newLen - old))
	return nil
}

// UnmapLarge releases a mapping returned by MapLarge. The caller must have
// unregistered any owner for it.
func (s *ChunkStore) UnmapLarge(c *Chunk) {
	if err := osmem.Unmap(c.Data); err != nil {
		s.log.Warn("large unmap failed", "addr", c.Addr, "err", err)
	}
	s.stats.largeUnmapped.Add(1)
	s.stats.largeBytes.Add(-int64(len(c.Data)))
	c.Data = nil
}

// Close unmaps every pooled chunk. Chunks still in use stay mapped until
// recycled, at which point they are unmapped.
func (s *ChunkStore) Close() error {
	s.mu.Lock()
	pool := s.pool
	s.pool = nil
	s.closed = true
	s.mu.Unlock()

	for _, c := range pool {
		if err := osmem.Unmap(c.Data); err != nil {
			return fmt.Errorf("vm: close: %w", err)
		}
		s.stats.chunksUnmapped.Add(1)
	}
	return nil
}

// maxLargeBytes keeps slot arithmetic and page rounding from overflowing.
const maxLargeBytes = 1 << 40
