package vm

import "errors"

var (
	// ErrNoChunks indicates that no chunk could be taken from the pool or
	// mapped, either because MaxChunks was reached or the OS refused.
	ErrNoChunks = errors.New("vm: no chunks available")

	// ErrBadSize indicates a non-positive or overflowing mapping size.
	ErrBadSize = errors.New("vm: bad mapping size")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("vm: store closed")
)
