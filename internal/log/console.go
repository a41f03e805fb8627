package log

import (
	"io"
	"log/slog"
)

// NewConsoleHandler creates a handler that writes to w in the configured
// format ("text" or "json").
func NewConsoleHandler(w io.Writer, cfg *Config, level slog.Level) slog.Handler {
	return newFormatHandler(w, cfg.Format, level)
}

func newFormatHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
