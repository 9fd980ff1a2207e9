package vm

import (
	"log/slog"
	"time"
)

// StallPolicy controls what TakeOrAllocChunk does when MaxChunks chunks are
// already in use.
type StallPolicy int

const (
	// FailFast returns ErrNoChunks immediately.
	FailFast StallPolicy = iota

	// StallAndRetry waits for another user to recycle a chunk, up to
	// Config.StallTimeout, before failing. Used while a collection is active
	// so new chunks are not introduced faster than sweeping returns them.
	StallAndRetry
)

func (p StallPolicy) String() string {
	switch p {
	case FailFast:
		return "fail-fast"
	case StallAndRetry:
		return "stall-and-retry"
	default:
		return "unknown"
	}
}

// Config tunes a ChunkStore.
type Config struct {
	// Name for this configuration (shows up in logs and reports)
	Name string

	// MaxChunks caps the number of pooled chunks in use at once. Zero means
	// no cap. Large mappings do not count.
	MaxChunks int

	// StallTimeout bounds how long StallAndRetry waits for a recycled chunk.
	StallTimeout time.Duration

	// MaxPooledCommitted is the number of recycled chunks kept committed.
	// Chunks recycled beyond it are decommitted before pooling.
	MaxPooledCommitted int

	// MaxPooled is the total number of recycled chunks kept mapped. Zero
	// means no limit. Chunks recycled beyond it are unmapped.
	MaxPooled int

	// Logger receives chunk lifecycle events at debug level. Nil uses the
	// package-wide logger.
	Logger *slog.Logger
}

// Predefined configurations.
var (
	// ConfigUnbounded never caps chunk use and keeps a small committed pool.
	ConfigUnbounded = Config{
		Name:               "Unbounded",
		StallTimeout:       100 * time.Millisecond,
		MaxPooledCommitted: 4,
		MaxPooled:          64,
	}

	// ConfigConstrained caps chunk use, which exercises the stall path.
	// Mostly useful for tests and memory-limited embedders.
	ConfigConstrained = Config{
		Name:               "Constrained",
		MaxChunks:          64,
		StallTimeout:       250 * time.Millisecond,
		MaxPooledCommitted: 2,
		MaxPooled:          16,
	}

	// DefaultConfig is used when New is given nil.
	DefaultConfig = ConfigUnbounded
)
