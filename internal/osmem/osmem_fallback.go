//go:build !linux && !windows

package osmem

import "unsafe"

// SupportsPartialUnmap reports whether TruncateTail can release the tail of a
// mapping in place. The fallback hands out Go heap memory, which cannot be
// partially released.
const SupportsPartialUnmap = false

// Map allocates size bytes from the Go heap when anonymous mappings are not
// wired up for the platform.
func Map(size int) ([]byte, error) {
	if size <= 0 {
		return nil, ErrBadRange
	}
	return make([]byte, size), nil
}

// Unmap drops the allocation; the Go garbage collector reclaims it.
func Unmap(b []byte) error {
	return nil
}

// TruncateTail is not supported by the fallback.
func TruncateTail(b []byte, newLen int) ([]byte, error) {
	return b, ErrUnsupported
}

// Decommit zeroes the pages wholly inside b so they read back as they would
// after a real decommit.
func Decommit(b []byte) error {
	start, end := pageRange(b)
	if end > start {
		clear(b[start:end])
	}
	return nil
}

// Recommit is a no-op for heap memory.
func Recommit(b []byte) error {
	return nil
}

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
