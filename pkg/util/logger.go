package util

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide logger. Development gets human-readable
// text at debug level; everything else emits JSON at info level. The service
// name is attached to every record so the api and worker logs can be told
// apart when aggregated.
func NewLogger(env, service string) *slog.Logger {
	level := slog.LevelInfo
	if env == "development" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if env == "development" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler).With("service", service)
}
