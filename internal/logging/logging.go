// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// ParseLevel converts a string log level name to a slog.Level.
// Recognized values: "debug", "info", "warning"/"warn", "error".
// Defaults to slog.LevelInfo for unrecognized values.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warning", "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		slog.Warn("unknown log level, defaulting to info", "level", level)
		return slog.LevelInfo
	}
}

// New builds a logger writing to w in the given format ("json" or "text").
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Setup configures the default slog logger and returns it.
func Setup(level, format string) *slog.Logger {
	logger := New(os.Stderr, level, format)
	slog.SetDefault(logger)
	return logger
}
