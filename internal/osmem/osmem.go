// Package osmem provides platform-specific helpers for mapping anonymous
// memory. It is the only package that converts raw addresses into slices.
//
// Mappings are never scanned by the Go garbage collector, so callers must not
// store Go pointers in them.
package osmem

import (
	"errors"
	"os"
)

var (
	// ErrMapFailed indicates the OS refused to map memory.
	ErrMapFailed = errors.New("osmem: map failed")

	// ErrUnsupported indicates the platform cannot perform the operation
	// (partial unmapping on platforms without it).
	ErrUnsupported = errors.New("osmem: unsupported on this platform")

	// ErrBadRange indicates a length or offset that is negative, out of range,
	// or not page aligned.
	ErrBadRange = errors.New("osmem: bad range")
)

// PageSize returns the OS page size.
func PageSize() int {
	return os.Getpagesize()
}

func pageRange(b []byte) (int, int) {
	ps := PageSize()
	start := 0
	if r := addrOf(b) % uintptr(ps); r != 0 {
		start = ps - int(r)
	}
	end := start + (len(b)-start)/ps*ps
	if end < start {
		end = start
	}
	return start, end
}
