// Package cell is a fixed-size cell allocator over arena chunks.
//
// Each arena is one chunk from the vm.ChunkStore carved into cells of a
// single kind (16, 32, 64, or 128 bytes). The heap allocates cells from the
// arenas of one zone, frees them individually or by sweeping, and returns
// empty arenas to the store. The small buffer tier is built on top of it.
//
// Heap methods are safe for concurrent use; Arena lookups are lock-free.
package cell

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/joshuapare/bufheap/internal/bitmap"
	"github.com/joshuapare/bufheap/internal/format"
	"github.com/joshuapare/bufheap/internal/logger"
	"github.com/joshuapare/bufheap/vm"
)

// Kind selects a cell size.
type Kind uint8

// NumKinds is the number of cell kinds.
const NumKinds = format.SmallAllocClasses

// Size returns the cell size in bytes.
func (k Kind) Size() int { return 1 << (int(k) + format.MinSmallAllocShift) }

func (k Kind) String() string { return fmt.Sprintf("cell%d", k.Size()) }

// KindForSize returns the smallest kind whose cells hold n bytes.
func KindForSize(n int) (Kind, bool) {
	for k := range Kind(NumKinds) {
		if n <= k.Size() {
			return k, true
		}
	}
	return 0, false
}

// Verdict is a sweep callback's decision for one allocated cell.
type Verdict int

const (
	// Keep leaves the cell and its mark bit alone.
	Keep Verdict = iota
	// KeepUnmark keeps the cell and clears its mark bit.
	KeepUnmark
	// Release frees the cell.
	Release
)

// Config tunes a Heap.
type Config struct {
	// Name for this heap (shows up in logs)
	Name string

	// Logger receives arena lifecycle events at debug level. Nil uses the
	// package-wide logger.
	Logger *slog.Logger
}

// Heap allocates cells for one zone.
type Heap struct {
	zoneID uint64
	store  *vm.ChunkStore
	log    *slog.Logger

	mu     sync.Mutex
	arenas [NumKinds][]*Arena
	hint   [NumKinds]int
	live   int
}

// NewHeap creates an empty heap whose arenas are tagged with zoneID. A nil
// cfg uses defaults.
func NewHeap(zoneID uint64, store *vm.ChunkStore, cfg *Config) *Heap {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	return &Heap{
		zoneID: zoneID,
		store:  store,
		log:    logger.Or(c.Logger).With("component", "cell", "zone", zoneID),
	}
}

// AllocateTenuredThing returns the address of a fresh cell of the given
// kind, or vm.Null when no arena can be obtained.
func (h *Heap) AllocateTenuredThing(kind Kind) vm.Addr {
	addr, err := h.Allocate(kind, vm.FailFast)
	if err != nil {
		h.log.Debug("cell allocation failed", "kind", kind, "err", err)
		return vm.Null
	}
	return addr
}

// Allocate is AllocateTenuredThing with an explicit chunk acquisition policy.
func (h *Heap) Allocate(kind Kind, policy vm.StallPolicy) (vm.Addr, error) {
	if int(kind) >= NumKinds {
		return vm.Null, fmt.Errorf("%w: %d", ErrBadKind, kind)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	list := h.arenas[kind]
	for i := range list {
		a := list[(h.hint[kind]+i)%len(list)]
		if idx, ok := a.take(); ok {
			h.hint[kind] = (h.hint[kind] + i) % len(list)
			h.live++
			return a.cellAddr(idx), nil
		}
	}

	a, err := h.newArena(kind, policy)
	if err != nil {
		return vm.Null, err
	}
	h.arenas[kind] = append(h.arenas[kind], a)
	h.hint[kind] = len(h.arenas[kind]) - 1
	idx, _ := a.take()
	h.live++
	return a.cellAddr(idx), nil
}

func (h *Heap) newArena(kind Kind, policy vm.StallPolicy) (*Arena, error) {
	c, err := h.store.TakeOrAllocChunk(policy)
	if err != nil {
		return nil, fmt.Errorf("cell: new %v arena: %w", kind, err)
	}
	format.WriteChunkHeader(c.Data, format.ChunkKindArena, h.zoneID)

	n := (format.ChunkSize - format.ChunkHeaderSize) / kind.Size()
	a := &Arena{
		heap:   h,
		kind:   kind,
		chunk:  c,
		ncells: n,
		alloc:  bitmap.New(n),
		mark:   bitmap.New(n),
	}
	h.store.Register(c, a)
	h.log.Debug("arena created", "kind", kind, "addr", c.Addr, "cells", n)
	return a, nil
}

// Free releases the cell at addr. It reports false when addr is not an
// allocated cell of this heap.
func (h *Heap) Free(addr vm.Addr) bool {
	a, ok := h.store.Lookup(addr).(*Arena)
	if !ok || a.heap != h {
		return false
	}
	idx, ok := a.index(addr)
	if !ok {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !a.alloc.Get(idx) {
		return false
	}
	a.release(idx)
	h.live--
	return true
}

// SweepResult summarizes one Sweep call.
type SweepResult struct {
	Released       int
	Kept           int
	ArenasReleased int
}

// Sweep visits every allocated cell in address order within each arena and
// applies fn's verdict. Arenas left empty are returned to the store.
func (h *Heap) Sweep(fn func(cell []byte, marked bool) Verdict) SweepResult {
	var res SweepResult

	h.mu.Lock()
	defer h.mu.Unlock()

	for k := range h.arenas {
		kept := h.arenas[k][:0]
		for _, a := range h.arenas[k] {
			for idx := a.alloc.NextSet(0); idx >= 0; idx = a.alloc.NextSet(idx + 1) {
				switch fn(a.cellBytes(idx), a.mark.Get(idx)) {
				case Release:
					a.release(idx)
					h.live--
					res.Released++
				case KeepUnmark:
					a.mark.ClearAtomic(idx)
					res.Kept++
				default:
					res.Kept++
				}
			}
			if a.live == 0 {
				h.releaseArena(a)
				res.ArenasReleased++
				continue
			}
			kept = append(kept, a)
		}
		clear(h.arenas[k][len(kept):])
		h.arenas[k] = kept
		h.hint[k] = 0
	}
	return res
}

func (h *Heap) releaseArena(a *Arena) {
	h.store.Unregister(a.chunk)
	h.store.RecycleChunk(a.chunk)
	h.log.Debug("arena released", "kind", a.kind, "addr", a.chunk.Addr)
	a.chunk = nil
}

// Live returns the number of allocated cells.
func (h *Heap) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live
}

// Arenas returns the number of arenas held.
func (h *Heap) Arenas() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, l := range h.arenas {
		n += len(l)
	}
	return n
}

// Close returns every arena to the store. Outstanding cells become invalid.
func (h *Heap) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k := range h.arenas {
		for _, a := range h.arenas[k] {
			h.releaseArena(a)
		}
		h.arenas[k] = nil
	}
	h.live = 0
}
