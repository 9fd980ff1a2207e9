package format

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/bufheap/internal/buf"
)

// ChunkHeader is the decoded fixed part of a chunk header page.
type ChunkHeader struct {
	Kind   byte
	ZoneID uint64
}

// WriteChunkHeader initializes the header page of chunk memory b. The
// size-class table is cleared.
func WriteChunkHeader(b []byte, kind byte, zoneID uint64) {
	copy(b[ChunkSignatureOffset:ChunkSignatureOffset+4], ChunkSignature)
	b[ChunkKindOffset] = kind
	PutU64(b, ChunkZoneOffset, zoneID)
	clear(b[ChunkClassTable : ChunkClassTable+ChunkClassTableSize])
}

// ReadChunkHeader validates and decodes the header page of chunk memory b.
func ReadChunkHeader(b []byte) (ChunkHeader, error) {
	if !buf.Has(b, 0, ChunkHeaderSize) {
		return ChunkHeader{}, fmt.Errorf("chunk: %w", ErrTruncated)
	}
	if !bytes.Equal(b[ChunkSignatureOffset:ChunkSignatureOffset+4], ChunkSignature) {
		return ChunkHeader{}, fmt.Errorf("chunk: %w", ErrSignatureMismatch)
	}
	return ChunkHeader{
		Kind:   b[ChunkKindOffset],
		ZoneID: ReadU64(b, ChunkZoneOffset),
	}, nil
}

// PutSizeClass records the medium size class (a shift in
// [MinMediumAllocShift, MaxMediumAllocShift]) of the allocation starting at
// granule g. A class of 0 clears the entry.
//
// Entries are nibbles: 0 means no entry, otherwise shift-MinMediumAllocShift+1.
func PutSizeClass(b []byte, g int, class int) {
	var v byte
	if class != 0 {
		v = byte(class-MinMediumAllocShift+1) & 0x0F
	}
	i := ChunkClassTable + g>>1
	if g&1 == 0 {
		b[i] = b[i]&0xF0 | v
	} else {
		b[i] = b[i]&0x0F | v<<4
	}
}

// SizeClassAt returns the medium size class recorded for granule g, or 0 when
// no entry exists.
func SizeClassAt(b []byte, g int) int {
	v := b[ChunkClassTable+g>>1]
	if g&1 != 0 {
		v >>= 4
	}
	v &= 0x0F
	if v == 0 {
		return 0
	}
	return int(v) - 1 + MinMediumAllocShift
}
