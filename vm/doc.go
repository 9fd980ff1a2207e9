// Package vm owns the raw memory behind the buffer heap.
//
// A ChunkStore hands out ChunkSize-aligned chunks from a shared pool,
// maps large allocations directly, and keeps a registry from chunk slots to
// whichever object owns them. One store is shared by every zone in the
// process and is safe for concurrent use.
//
// # Addresses
//
// Addresses (Addr) live in a simulated address space: each chunk or large
// mapping is assigned one or more consecutive ChunkSize slots, and address 0
// is never handed out. The owner of any address is found by shifting it down
// to its slot and consulting the registry, so tier and chunk kind are
// recovered from the address alone:
//
//	slot := addr >> format.ChunkShift
//	off  := addr &  format.ChunkMask
//
// Backing memory is a real anonymous mapping obtained from internal/osmem.
package vm
