// Package format describes the in-memory layout of buffer chunks: the chunk
// header page, the per-granule size-class table, free-region footers, and the
// small-buffer header word. The goal is to keep all byte-level encoding in one
// place so the allocator packages only deal with offsets and sizes.
package format

// ChunkSignature is the four-byte signature at the start of every chunk header.
// Layout:
//
//	0x00  'b' 'u' 'f' 'c'
var ChunkSignature = []byte{'b', 'u', 'f', 'c'}

const (
	// ChunkShift is log2 of ChunkSize.
	ChunkShift = 20

	// ChunkSize is the size of a chunk and the granularity of the address space.
	ChunkSize = 1 << ChunkShift

	// ChunkMask extracts the offset of an address within its chunk.
	ChunkMask = ChunkSize - 1

	// PageShift is log2 of PageSize.
	PageShift = 12

	// PageSize is the allocator's page size. Large allocations are rounded to
	// it and decommit works in whole pages.
	PageSize = 1 << PageShift

	// PageMask is PageSize - 1.
	PageMask = PageSize - 1

	// PagesPerChunk is the number of pages in a chunk.
	PagesPerChunk = ChunkSize / PageSize

	// ChunkHeaderSize is the size of the chunk header. The first page of every
	// medium and arena chunk is reserved for it and is never decommitted.
	ChunkHeaderSize = PageSize

	// FirstMediumAllocOffset is the chunk offset of the first usable granule.
	FirstMediumAllocOffset = ChunkHeaderSize
)

// Small tier.
const (
	// SmallBufferHeaderSize is the size of the header word prefixing every
	// small buffer.
	SmallBufferHeaderSize = 8

	// MinAllocSize is the smallest usable size handed out by the allocator.
	MinAllocSize = 8

	// MinSmallAllocShift is log2 of the smallest small-buffer cell (header included).
	MinSmallAllocShift = 4

	// MaxSmallAllocShift is log2 of the largest small-buffer cell.
	MaxSmallAllocShift = 7

	// SmallAllocClasses is the number of small-buffer cell kinds.
	SmallAllocClasses = MaxSmallAllocShift - MinSmallAllocShift + 1
)

// Medium tier.
const (
	// MinMediumAllocShift is log2 of MinMediumAllocSize.
	MinMediumAllocShift = 8

	// MinMediumAllocSize is the smallest medium allocation. It is also the
	// granule: medium allocations and free regions start and end on granule
	// boundaries, and the chunk bitmaps carry one bit per granule.
	MinMediumAllocSize = 1 << MinMediumAllocShift

	// MaxMediumAllocShift is log2 of MaxMediumAllocSize.
	MaxMediumAllocShift = 19

	// MaxMediumAllocSize is the largest medium allocation.
	MaxMediumAllocSize = 1 << MaxMediumAllocShift

	// MediumAllocClasses is the number of medium size classes.
	MediumAllocClasses = MaxMediumAllocShift - MinMediumAllocShift + 1

	// GranuleShift is log2 of GranuleSize.
	GranuleShift = MinMediumAllocShift

	// GranuleSize is the medium allocation granule.
	GranuleSize = MinMediumAllocSize

	// GranulesPerChunk is the number of granules in a chunk, header included.
	GranulesPerChunk = ChunkSize / GranuleSize

	// FirstMediumGranule is the index of the first granule after the header.
	FirstMediumGranule = FirstMediumAllocOffset / GranuleSize
)

// Large tier.
const (
	// MinLargeAllocSize is the smallest large allocation. Anything above
	// MaxMediumAllocSize is large, so page rounding always lands here or above.
	MinLargeAllocSize = MaxMediumAllocSize + PageSize
)

// Chunk header layout (little-endian):
//
//	Offset  Size  Field
//	0x00    4     'b' 'u' 'f' 'c'
//	0x04    1     Chunk kind
//	0x05    3     Reserved
//	0x08    8     Owning zone id
//	0x10    16    Reserved
//	0x20    2048  Size-class table, one nibble per granule
const (
	ChunkSignatureOffset = 0x00
	ChunkKindOffset      = 0x04
	ChunkZoneOffset      = 0x08
	ChunkClassTable      = 0x20
	ChunkClassTableSize  = GranulesPerChunk / 2
)

// Chunk kinds.
const (
	ChunkKindNone   byte = 0
	ChunkKindMedium byte = 1
	ChunkKindArena  byte = 2
)

// Free-region footer layout (little-endian), stored in the last
// FreeRegionFooterSize bytes of every free region:
//
//	Offset  Size  Field
//	0x00    4     Region start (chunk offset)
//	0x04    4     Region handle
//	0x08    4     Flags
//	0x0C    4     Reserved
const (
	FreeRegionFooterSize = 16

	footerStartOffset  = 0x00
	footerHandleOffset = 0x04
	footerFlagsOffset  = 0x08

	// FreeRegionDecommitted is set when pages inside the region were decommitted.
	FreeRegionDecommitted uint32 = 1 << 0
)

// Small-buffer header word layout (little-endian):
//
//	Offset  Size  Field
//	0x00    4     Flags
//	0x04    4     Cell size in bytes (header included)
const (
	smallFlagsOffset = 0x00
	smallSizeOffset  = 0x04

	// SmallNurseryOwned marks a small buffer whose owner is in the nursery.
	SmallNurseryOwned uint32 = 1 << 0
)
