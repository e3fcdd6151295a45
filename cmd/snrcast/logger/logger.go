// Package logger builds the slog logger the snrcast daemon runs with,
// honoring the configured level and output format.
package logger

import (
	"log/slog"
	"os"

	"github.com/HatiCode/snrcast/cmd/snrcast/config"
)

// New creates a structured logger from the logging configuration. Unknown
// levels fall back to info, unknown formats to text.
func New(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
