// Package buf contains overflow-safe arithmetic and bounds-checked slicing
// used when rounding request sizes and decoding chunk metadata.
package buf

import (
	"math"
	"math/bits"
)

// AddOverflowSafe adds a and b, returning ok = false when the result would overflow int.
func AddOverflowSafe(a, b int) (int, bool) {
	switch {
	case b > 0 && a > math.MaxInt-b:
		return 0, false
	case b < 0 && a < math.MinInt-b:
		return 0, false
	default:
		return a + b, true
	}
}

// RoundUp rounds n up to a multiple of align (a power of two), returning
// ok = false on overflow or negative input.
func RoundUp(n, align int) (int, bool) {
	if n < 0 {
		return 0, false
	}
	sum, ok := AddOverflowSafe(n, align-1)
	if !ok {
		return 0, false
	}
	return sum &^ (align - 1), true
}

// RoundUpPow2 rounds n up to the next power of two, returning ok = false on
// overflow. RoundUpPow2(0) is 1.
func RoundUpPow2(n int) (int, bool) {
	if n <= 1 {
		return 1, n >= 0
	}
	shift := bits.Len(uint(n - 1))
	if shift >= bits.UintSize-1 {
		return 0, false
	}
	return 1 << shift, true
}

// Slice returns the sub-slice [off:off+n] if it fits within len(b).
func Slice(b []byte, off, n int) ([]byte, bool) {
	if off < 0 || n < 0 || off > len(b) {
		return nil, false
	}
	end, ok := AddOverflowSafe(off, n)
	if !ok || end > len(b) {
		return nil, false
	}
	return b[off:end], true
}

// Has reports whether b[off:off+n] is within bounds.
func Has(b []byte, off, n int) bool {
	_, ok := Slice(b, off, n)
	return ok
}
