package vm

import (
	"fmt"

	"github.com/joshuapare/bufheap/internal/format"
)

// Addr is an address in the store's address space. The zero Addr is null.
type Addr uint64

// Null is the null address.
const Null Addr = 0

// Slot returns the chunk slot containing a.
func (a Addr) Slot() uint64 { return uint64(a) >> format.ChunkShift }

// ChunkBase returns the address of the start of the chunk containing a.
func (a Addr) ChunkBase() Addr { return a &^ format.ChunkMask }

// ChunkOffset returns the offset of a within its chunk.
func (a Addr) ChunkOffset() int { return int(a & format.ChunkMask) }

// IsChunkAligned reports whether a is at the start of a chunk slot.
func (a Addr) IsChunkAligned() bool { return a&format.ChunkMask == 0 }

func (a Addr) String() string { return fmt.Sprintf("0x%x", uint64(a)) }

func slotAddr(slot uint64) Addr { return Addr(slot << format.ChunkShift) }
