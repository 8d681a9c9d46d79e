// Package logging builds the slog loggers shared by the client, the reference
// backend and the commands.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Config names the emitting process and its log level.
type Config struct {
	Service     string
	Environment string
	Level       string
}

// New creates a JSON slog logger on stdout at the provided level. An invalid
// level string falls back to info.
func New(level string) *slog.Logger {
	return NewWithWriter(os.Stdout, Config{Level: level})
}

// NewWithWriter creates a JSON logger writing to w and tags every record
// with the service and environment when they are set.
func NewWithWriter(w io.Writer, cfg Config) *slog.Logger {
	lvl := new(slog.LevelVar)
	if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
		lvl.Set(slog.LevelInfo)
	}

	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	if cfg.Service != "" {
		logger = logger.With(slog.String("service", cfg.Service))
	}
	if cfg.Environment != "" {
		logger = logger.With(slog.String("env", cfg.Environment))
	}
	return logger
}

// Discard returns a logger that drops all output. Useful for tests.
func Discard() *slog.Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
