// Package log is the process-wide structured logger: console or rotating file
// output over log/slog, an optional in-memory tail of recent lines and an
// HTTP request logger.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config holds all logging configuration.
type Config struct {
	Mode   string // "console", "file"
	Level  string // "debug", "info", "warn", "error"
	Format string // "text", "json"

	// File-specific
	FilePath   string
	MaxSizeMB  int // Rotate when file exceeds this size
	MaxAgeDays int // Delete backups older than this
	MaxBackups int // Keep at most this many backups

	// Lines kept in memory for /admin/v1/logs (0 to disable)
	BufferLines int
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Mode:        "console",
		Level:       "info",
		Format:      "text",
		FilePath:    "firelite.log",
		MaxSizeMB:   100,
		MaxAgeDays:  7,
		MaxBackups:  3,
		BufferLines: 500,
	}
}

// ParseLevel converts a string level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

var (
	defaultLogger *slog.Logger
	logBuffer     *RingBuffer
	output        io.Closer
	mu            sync.RWMutex
)

// Init installs the global logger. Calling it again replaces the previous
// configuration and closes its log file.
func Init(cfg *Config) error {
	mu.Lock()
	defer mu.Unlock()

	level := ParseLevel(cfg.Level)

	var handler slog.Handler
	var closer io.Closer
	switch cfg.Mode {
	case "file":
		h, err := NewFileHandler(cfg, level)
		if err != nil {
			return err
		}
		handler, closer = h, h
	default:
		handler = NewConsoleHandler(os.Stdout, cfg, level)
	}

	if cfg.BufferLines > 0 {
		logBuffer = NewRingBuffer(cfg.BufferLines)
		handler = NewBufferHandler(handler, logBuffer, level)
	} else {
		logBuffer = nil
	}

	if output != nil {
		output.Close()
	}
	output = closer

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
	return nil
}

// Close releases the log file, if any. Later log calls go to stderr.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	defaultLogger = nil
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if output == nil {
		return nil
	}
	err := output.Close()
	output = nil
	return err
}

// Logger returns the current default logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if defaultLogger == nil {
		return slog.Default()
	}
	return defaultLogger
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	Logger().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	Logger().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	Logger().Error(msg, args...)
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return Logger().With(args...)
}

// Log logs at the given level.
func Log(ctx context.Context, level slog.Level, msg string, args ...any) {
	Logger().Log(ctx, level, msg, args...)
}

// GetBufferedLogs returns the last n lines from the log buffer.
// Returns nil if buffer is disabled.
func GetBufferedLogs(n int) []string {
	mu.RLock()
	defer mu.RUnlock()
	if logBuffer == nil {
		return nil
	}
	return logBuffer.Lines(n)
}

// GetBufferStats returns (total, capacity, ok). ok is false if the buffer is
// disabled.
func GetBufferStats() (total int, capacity int, ok bool) {
	mu.RLock()
	defer mu.RUnlock()
	if logBuffer == nil {
		return 0, 0, false
	}
	return logBuffer.Total(), logBuffer.Capacity(), true
}
