package collect

import "errors"

var (
	// ErrClosed indicates the collector has been closed.
	ErrClosed = errors.New("collect: collector closed")

	// ErrAborted indicates a major collection was abandoned during marking.
	ErrAborted = errors.New("collect: major collection aborted")
)
