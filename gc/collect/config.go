package collect

import "log/slog"

// Config tunes a Collector.
type Config struct {
	// Name for this configuration (shows up in logs)
	Name string

	// Decommit releases whole free pages inside swept chunks to the OS
	// during major sweeps.
	Decommit bool

	// QueueDepth bounds the number of sweep jobs waiting for the
	// background goroutine.
	QueueDepth int

	// Logger receives collection events at debug level. Nil uses the
	// package-wide logger.
	Logger *slog.Logger
}

// Predefined configurations.
var (
	// ConfigDefault keeps decommitted pages out of the picture.
	ConfigDefault = Config{
		Name:       "Default",
		QueueDepth: 4,
	}

	// ConfigLowFootprint decommits free pages on every major sweep.
	ConfigLowFootprint = Config{
		Name:       "LowFootprint",
		Decommit:   true,
		QueueDepth: 4,
	}

	// DefaultConfig is used when New is given nil.
	DefaultConfig = ConfigDefault
)
