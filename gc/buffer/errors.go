package buffer

import "errors"

var (
	// ErrWrongPhase indicates a collection phase method called out of order.
	ErrWrongPhase = errors.New("buffer: wrong collection phase")

	// ErrSweepInProgress indicates the background sweep has not finished.
	ErrSweepInProgress = errors.New("buffer: sweep in progress")

	// ErrCorrupt indicates a failed heap consistency check.
	ErrCorrupt = errors.New("buffer: heap corrupt")

	// ErrBusy indicates the allocator cannot be closed while collecting.
	ErrBusy = errors.New("buffer: collection in progress")
)
