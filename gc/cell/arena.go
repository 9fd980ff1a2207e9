package cell

import (
	"github.com/joshuapare/bufheap/internal/bitmap"
	"github.com/joshuapare/bufheap/internal/format"
	"github.com/joshuapare/bufheap/vm"
)

// Arena is one chunk of cells of a single kind. It is the registry owner of
// its chunk's address slot.
type Arena struct {
	heap   *Heap
	kind   Kind
	chunk  *vm.Chunk
	ncells int

	alloc *bitmap.Bitmap
	mark  *bitmap.Bitmap

	bump int     // cells below bump have been handed out at least once
	free []int32 // released cells available for reuse
	live int
}

// Heap returns the heap the arena belongs to.
func (a *Arena) Heap() *Heap { return a.heap }

// Kind returns the arena's cell kind.
func (a *Arena) Kind() Kind { return a.kind }

// ZoneID returns the zone id recorded in the arena's chunk header.
func (a *Arena) ZoneID() uint64 { return a.heap.zoneID }

// CellStart returns the start of the cell containing addr.
func (a *Arena) CellStart(addr vm.Addr) (vm.Addr, bool) {
	off := addr.ChunkOffset() - format.ChunkHeaderSize
	if off < 0 || addr.ChunkBase() != a.chunk.Addr {
		return vm.Null, false
	}
	idx := off / a.kind.Size()
	if idx >= a.ncells {
		return vm.Null, false
	}
	return a.cellAddr(idx), true
}

// Cell returns the bytes of the cell starting at addr, or nil if addr is not
// the start of a cell.
func (a *Arena) Cell(addr vm.Addr) []byte {
	idx, ok := a.index(addr)
	if !ok {
		return nil
	}
	return a.cellBytes(idx)
}

// IsAllocated reports whether the cell starting at addr is allocated.
func (a *Arena) IsAllocated(addr vm.Addr) bool {
	idx, ok := a.index(addr)
	return ok && a.alloc.Get(idx)
}

// Mark sets the mark bit of the cell starting at addr. It reports whether
// the bit was newly set. Safe to call concurrently.
func (a *Arena) Mark(addr vm.Addr) bool {
	idx, ok := a.index(addr)
	return ok && a.mark.SetAtomic(idx)
}

// Unmark clears the mark bit of the cell starting at addr.
func (a *Arena) Unmark(addr vm.Addr) {
	if idx, ok := a.index(addr); ok {
		a.mark.ClearAtomic(idx)
	}
}

// IsMarked reports whether the cell starting at addr is marked.
func (a *Arena) IsMarked(addr vm.Addr) bool {
	idx, ok := a.index(addr)
	return ok && a.mark.Get(idx)
}

func (a *Arena) index(addr vm.Addr) (int, bool) {
	if a.chunk == nil || addr.ChunkBase() != a.chunk.Addr {
		return 0, false
	}
	off := addr.ChunkOffset() - format.ChunkHeaderSize
	if off < 0 || off%a.kind.Size() != 0 {
		return 0, false
	}
	idx := off / a.kind.Size()
	if idx >= a.ncells {
		return 0, false
	}
	return idx, true
}

func (a *Arena) cellAddr(idx int) vm.Addr {
	return a.chunk.Addr + vm.Addr(format.ChunkHeaderSize+idx*a.kind.Size())
}

func (a *Arena) cellBytes(idx int) []byte {
	off := format.ChunkHeaderSize + idx*a.kind.Size()
	return a.chunk.Data[off : off+a.kind.Size() : off+a.kind.Size()]
}

// take claims a cell. Caller holds the heap lock.
func (a *Arena) take() (int, bool) {
	var idx int
	switch {
	case len(a.free) > 0:
		idx = int(a.free[len(a.free)-1])
		a.free = a.free[:len(a.free)-1]
	case a.bump < a.ncells:
		idx = a.bump
		a.bump++
	default:
		return 0, false
	}
	a.alloc.Set(idx)
	a.mark.ClearAtomic(idx)
	a.live++
	return idx, true
}

// release frees a cell. Caller holds the heap lock.
func (a *Arena) release(idx int) {
	a.alloc.Clear(idx)
	a.mark.ClearAtomic(idx)
	a.free = append(a.free, int32(idx))
	a.live--
}
