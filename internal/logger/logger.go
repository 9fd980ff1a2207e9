// Package logger holds the process-wide structured logger used by the
// allocator packages.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// EnvVar enables logging to stderr when set to a level name
// ("debug", "info", "warn", "error").
const EnvVar = "BUFHEAP_LOG"

// L is the global logger instance. It discards all output by default.
// Call Init() or set BUFHEAP_LOG to enable it.
var L = fromEnv()

// Options configures the logger initialization.
type Options struct {
	Enabled bool       // If false, all logging is discarded
	Output  io.Writer  // Destination. Default: os.Stderr
	Level   slog.Level // Minimum log level. Default: LevelInfo when enabled
	JSON    bool       // Use the JSON handler instead of the text handler
}

// Init configures logging. If opts.Enabled is false, all log output is
// discarded.
func Init(opts Options) {
	L = New(opts)
}

// New builds a logger from opts without touching the global one.
func New(opts Options) *slog.Logger {
	if !opts.Enabled {
		return discard()
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	level := opts.Level
	if level == 0 {
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}
	if opts.JSON {
		return slog.New(slog.NewJSONHandler(out, hopts))
	}
	return slog.New(slog.NewTextHandler(out, hopts))
}

// Or returns l, or the global logger when l is nil.
func Or(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return L
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func fromEnv() *slog.Logger {
	v := strings.TrimSpace(os.Getenv(EnvVar))
	if v == "" {
		return discard()
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(v))); err != nil {
		level = slog.LevelInfo
	}
	return New(Options{Enabled: true, Level: level})
}

// Debug logs a debug message with optional key-value pairs.
func Debug(msg string, args ...any) { L.Debug(msg, args...) }

// Info logs an info message with optional key-value pairs.
func Info(msg string, args ...any) { L.Info(msg, args...) }

// Warn logs a warning message with optional key-value pairs.
func Warn(msg string, args ...any) { L.Warn(msg, args...) }

// Error logs an error message with optional key-value pairs.
func Error(msg string, args ...any) { L.Error(msg, args...) }
