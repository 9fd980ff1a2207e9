package format

import "errors"

var (
	// ErrSignatureMismatch indicates a chunk header had an unexpected magic.
	ErrSignatureMismatch = errors.New("format: signature mismatch")
	// ErrTruncated indicates the buffer lacked the bytes required for a structure.
	ErrTruncated = errors.New("format: truncated buffer")
	// ErrBadClass indicates a size-class table entry outside the medium range.
	ErrBadClass = errors.New("format: bad size class")
)
