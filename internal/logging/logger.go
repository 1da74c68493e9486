// Package logging wires structured slog loggers for the identity provider.
package logging

import (
	"log/slog"
	"os"
)

// New builds the process-wide logger. Production emits JSON for log
// shipping, every other environment gets readable text at debug level.
func New(env string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// Discard returns a logger that drops every record. Used by tests and as
// a fallback when a component is constructed without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
