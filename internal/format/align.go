package format

// AlignUp returns n rounded up to a multiple of align, which must be a power of two.
//
// Example:
//
//	AlignUp(1, 4096)    = 4096
//	AlignUp(4096, 4096) = 4096
//	AlignUp(4097, 4096) = 8192
func AlignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// AlignDown returns n rounded down to a multiple of align, which must be a power of two.
func AlignDown(n, align int) int {
	return n &^ (align - 1)
}

// IsAligned reports whether n is a multiple of align.
func IsAligned(n, align int) bool {
	return n&(align-1) == 0
}

// PageCount returns the number of pages needed to hold n bytes.
func PageCount(n int) int {
	return AlignUp(n, PageSize) >> PageShift
}

// ChunkCount returns the number of chunk slots needed to hold n bytes.
func ChunkCount(n int) int {
	return AlignUp(n, ChunkSize) >> ChunkShift
}

// Granule returns the granule index of a chunk offset.
func Granule(off int) int {
	return off >> GranuleShift
}

// GranuleOffset returns the chunk offset of granule g.
func GranuleOffset(g int) int {
	return g << GranuleShift
}
