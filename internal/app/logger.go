package app

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger returns a configured slog.Logger based on configuration.
func NewLogger(cfg *Config) *slog.Logger {
	var format string
	if cfg != nil {
		format = cfg.LogFormat
	}
	return NewLoggerTo(os.Stdout, format)
}

// NewLoggerTo writes JSON when format is "json" and text otherwise.
func NewLoggerTo(w io.Writer, format string) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{AddSource: true}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{AddSource: true}))
}
