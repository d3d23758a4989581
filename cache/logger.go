package cache

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig configures the cache's slog output, mirroring the teacher's
// internal/logger rotation settings (spec's ambient logging section).
type LogConfig struct {
	// Filename is where log lines are written; empty means stderr.
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Level      slog.Level
}

// NewLogger builds the structured logger every Table carries, rotating
// through lumberjack when a file is configured and falling back to stderr
// for local/test use the way the teacher's logger does for its console
// sink.
func NewLogger(cfg LogConfig) *slog.Logger {
	var w io.Writer = os.Stderr
	if cfg.Filename != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.Level}))
}

// discardLogger is used by tests and by Table constructors that don't
// receive an explicit logger.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
