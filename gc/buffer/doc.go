// Package buffer implements the generational buffer allocator: a heap for
// variable-sized byte buffers whose lifetime is tied to a traced owner.
//
// # Overview
//
// One Allocator exists per zone. Requests are split into three tiers by
// GoodAllocSize:
//
//   - Small (up to 120 bytes): a cell from the zone's cell.Heap, prefixed by
//     an 8-byte header word carrying the nursery-owned flag.
//   - Medium (256 bytes to 512 KiB): power-of-two allocations carved out of
//     1 MiB chunks with segregated free lists.
//   - Large (above 512 KiB): page-rounded mappings, one per allocation.
//
// The tier of any pointer is recovered from the kind of chunk that owns its
// address slot in the vm.ChunkStore registry.
//
// # Medium chunks
//
// The first page of a chunk is its header: signature, kind, zone id, and a
// table holding the size class of every allocation (one nibble per 256-byte
// granule). The Go-side descriptor keeps one bit per granule in each of
// the allocation, mark, and nursery bitmaps, plus one bit per page for
// decommitted memory.
//
// Every byte after the header belongs to exactly one allocation or exactly
// one free region. A free region keeps its start offset and handle in a
// 16-byte footer at its own end, so a freed allocation finds both of its
// neighbours in O(1) and always coalesces with them:
//
//	| hdr | alloc | free ........ [footer] | alloc | alloc | free . [footer] |
//
// Free regions are bucketed by floor(log2(size)); allocations round up to
// ceil(log2(size)), so the first non-empty bucket at or above the request's
// class always satisfies it. A uint32 bitset finds that bucket in O(1).
//
// # Generations and sweeping
//
// Buffers are nursery-owned or tenured-owned. Minor collections reclaim
// unmarked nursery-owned buffers and major collections reclaim unmarked
// tenured-owned ones. Only tenured medium and large bytes are charged to the
// zone; nursery bytes are charged when promoted.
//
// Each generation moves through NotCollecting, Marking, and Sweeping. At
// the start of a collection the affected chunks leave the live lists and
// their free regions leave the live free lists, so new allocations never
// land in memory being swept. A background goroutine sweeps them into
// private free lists and stages the results under one mutex; allocation
// paths merge staged results back when an atomic flag says some are ready.
//
// While a chunk or large buffer is queued for sweeping, free, grow, and
// shrink on it are refused: frees are dropped (the next sweep reclaims the
// buffer) and grow/shrink report false so callers fall back to
// allocate-copy-free.
//
// # Debug builds
//
// Building with -tags bufheapdebug turns on internal assertions, poisons
// freed medium memory with 0xE5, and verifies the poison when the memory is
// handed out again, catching double frees and writes after free.
package buffer
