// Package logger owns the process-wide slog configuration.
//
// Every package logs through the default slog logger; this package decides
// level, format and output once, at startup.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var defaultLogger *slog.Logger

// ParseLevel converts a string log level to slog.Level.
// Valid levels: debug, info, warn, error.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Options configures the logger setup.
type Options struct {
	Level  slog.Level
	Format string // "text" or "json"
	Output io.Writer
}

// Setup installs the default logger. Safe to call more than once; the last
// call wins.
func Setup(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(out, handlerOpts)
	default:
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
	return defaultLogger
}

// Default returns the configured logger, initializing a sane fallback if
// Setup was never called (tests, library use).
func Default() *slog.Logger {
	if defaultLogger == nil {
		return Setup(Options{Level: slog.LevelInfo, Format: "text"})
	}
	return defaultLogger
}
