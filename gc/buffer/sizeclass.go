package buffer

import (
	"math/bits"

	"github.com/joshuapare/bufheap/gc/cell"
	"github.com/joshuapare/bufheap/internal/buf"
	"github.com/joshuapare/bufheap/internal/format"
)

// poisonByte fills freed medium memory in debug builds.
const poisonByte = 0xE5

// maxSmallAllocSize is the largest usable size of a small buffer.
const maxSmallAllocSize = 1<<format.MaxSmallAllocShift - format.SmallBufferHeaderSize

// tier is the allocation tier of a buffer.
type tier uint8

const (
	tierSmall tier = iota
	tierMedium
	tierLarge
)

func (t tier) String() string {
	switch t {
	case tierSmall:
		return "small"
	case tierMedium:
		return "medium"
	default:
		return "large"
	}
}

// GoodAllocSize returns the usable size the allocator would hand out for a
// request of n bytes. It is idempotent, and returns 0 when n is too large to
// represent.
//
//	small:  2^ceil(log2(n+8)) - 8   for n <= 120
//	medium: 2^ceil(log2(n))         in [256, 512 KiB]
//	large:  n rounded up to a page  (at least 512 KiB + 4 KiB)
func GoodAllocSize(n int) int {
	n = max(n, format.MinAllocSize)
	switch {
	case n <= maxSmallAllocSize:
		total, _ := buf.RoundUpPow2(n + format.SmallBufferHeaderSize)
		return max(total, 1<<format.MinSmallAllocShift) - format.SmallBufferHeaderSize
	case n <= format.MaxMediumAllocSize:
		size, _ := buf.RoundUpPow2(n)
		return max(size, format.MinMediumAllocSize)
	default:
		size, ok := buf.RoundUp(n, format.PageSize)
		if !ok {
			return 0
		}
		return size
	}
}

// SizeTier names the tier ("small", "medium" or "large") that serves a
// request of n bytes, or "" when n is too large to represent.
func SizeTier(n int) string {
	size := GoodAllocSize(n)
	if size == 0 {
		return ""
	}
	return tierFor(size).String()
}

// tierFor returns the tier of a size already passed through GoodAllocSize.
func tierFor(size int) tier {
	switch {
	case size <= maxSmallAllocSize:
		return tierSmall
	case size <= format.MaxMediumAllocSize:
		return tierMedium
	default:
		return tierLarge
	}
}

// mediumAllocClass returns ceil(log2(size)), the class an allocation of size
// bytes is served from.
func mediumAllocClass(size int) int {
	return bits.Len(uint(size - 1))
}

// freeRegionClass returns floor(log2(size)) clamped to the medium range, the
// bucket a free region of size bytes is kept in. Rounding down guarantees
// every region in a bucket can satisfy any allocation of that class.
func freeRegionClass(size int) int {
	c := bits.Len(uint(size)) - 1
	return min(max(c, format.MinMediumAllocShift), format.MaxMediumAllocShift)
}

// smallCellKind returns the cell kind holding a small buffer of usable size
// n plus its header.
func smallCellKind(n int) cell.Kind {
	k, _ := cell.KindForSize(n + format.SmallBufferHeaderSize)
	return k
}
