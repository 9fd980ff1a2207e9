//go:build windows

package osmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// SupportsPartialUnmap reports whether TruncateTail can release the tail of a
// mapping in place. VirtualFree(MEM_RELEASE) only releases whole reservations.
const SupportsPartialUnmap = false

// Map reserves and commits size bytes of zeroed read-write memory.
func Map(size int) ([]byte, error) {
	if size <= 0 {
		return nil, ErrBadRange
	}
	addr, err := windows.VirtualAlloc(0, uintptr(size),
		windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return nil, fmt.Errorf("%w: %d bytes: %w", ErrMapFailed, size, err)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

// Unmap releases a mapping returned by Map.
func Unmap(b []byte) error {
	if cap(b) == 0 {
		return nil
	}
	return windows.VirtualFree(addrOf(b), 0, windows.MEM_RELEASE)
}

// TruncateTail is not supported on Windows.
func TruncateTail(b []byte, newLen int) ([]byte, error) {
	return b, ErrUnsupported
}

// Decommit releases the physical pages wholly inside b.
func Decommit(b []byte) error {
	start, end := pageRange(b)
	if end <= start {
		return nil
	}
	return windows.VirtualFree(addrOf(b[start:end]), uintptr(end-start), windows.MEM_DECOMMIT)
}

// Recommit commits the pages wholly inside b again.
func Recommit(b []byte) error {
	start, end := pageRange(b)
	if end <= start {
		return nil
	}
	_, err := windows.VirtualAlloc(addrOf(b[start:end]), uintptr(end-start),
		windows.MEM_COMMIT, windows.PAGE_READWRITE)
	return err
}

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
