//go:build linux

package osmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// SupportsPartialUnmap reports whether TruncateTail can release the tail of a
// mapping in place.
const SupportsPartialUnmap = true

// Map maps size bytes of zeroed, private, read-write memory.
func Map(size int) ([]byte, error) {
	if size <= 0 {
		return nil, ErrBadRange
	}
	p, err := unix.MmapPtr(-1, 0, nil, uintptr(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("%w: %d bytes: %w", ErrMapFailed, size, err)
	}
	return unsafe.Slice((*byte)(p), size), nil
}

// Unmap releases a mapping returned by Map or TruncateTail.
func Unmap(b []byte) error {
	if cap(b) == 0 {
		return nil
	}
	return unix.MunmapPtr(unsafe.Pointer(unsafe.SliceData(b)), uintptr(cap(b)))
}

// TruncateTail unmaps b[newLen:] and returns b[:newLen:newLen]. newLen must
// be a positive multiple of PageSize().
func TruncateTail(b []byte, newLen int) ([]byte, error) {
	if newLen <= 0 || newLen > cap(b) || newLen%PageSize() != 0 {
		return b, ErrBadRange
	}
	if newLen == cap(b) {
		return b[:newLen:newLen], nil
	}
	tail := b[newLen:cap(b)]
	if err := unix.MunmapPtr(unsafe.Pointer(unsafe.SliceData(tail)), uintptr(len(tail))); err != nil {
		return b, err
	}
	return b[:newLen:newLen], nil
}

// Decommit releases the physical pages wholly inside b. The range stays
// mapped and reads back as zeroes once touched again.
func Decommit(b []byte) error {
	start, end := pageRange(b)
	if end <= start {
		return nil
	}
	return unix.Madvise(b[start:end], unix.MADV_DONTNEED)
}

// Recommit makes pages released by Decommit usable again. Linux refaults
// them on first touch, so there is nothing to do.
func Recommit(b []byte) error {
	return nil
}

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
