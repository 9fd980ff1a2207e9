package buffer

import "log/slog"

// Config tunes an Allocator.
type Config struct {
	// Name for this configuration (shows up in logs and reports)
	Name string

	// SweepBatchChunks is how many swept chunks the background sweep
	// accumulates before staging them for the allocating goroutine.
	SweepBatchChunks int

	// Logger receives allocator events at debug level. Nil uses the
	// package-wide logger.
	Logger *slog.Logger
}

// Predefined configurations.
var (
	// ConfigBatched stages swept chunks in groups, keeping lock traffic low.
	ConfigBatched = Config{
		Name:             "Batched",
		SweepBatchChunks: 8,
	}

	// ConfigEager stages every swept chunk as soon as it is done so that
	// allocation can reuse it immediately.
	ConfigEager = Config{
		Name:             "Eager",
		SweepBatchChunks: 1,
	}

	// DefaultConfig is used when New is given nil.
	DefaultConfig = ConfigBatched
)
