// internal/log/logger_test.go
package log

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// captureDefault routes the package logger to buf for the duration of a test.
func captureDefault(t *testing.T, buf *bytes.Buffer) {
	t.Helper()
	mu.Lock()
	prev := defaultLogger
	defaultLogger = slog.New(NewConsoleHandler(buf, &Config{Format: "text"}, slog.LevelDebug))
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		defaultLogger = prev
		mu.Unlock()
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Mode != "console" {
		t.Errorf("expected mode 'console', got %q", cfg.Mode)
	}
	if cfg.Level != "info" {
		t.Errorf("expected level 'info', got %q", cfg.Level)
	}
	if cfg.FilePath != "firelite.log" {
		t.Errorf("expected firelite.log, got %q", cfg.FilePath)
	}
	if cfg.BufferLines != 500 {
		t.Errorf("expected BufferLines 500, got %d", cfg.BufferLines)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestInit_CreatesBuffer(t *testing.T) {
	if err := Init(&Config{Mode: "console", Level: "info", BufferLines: 100}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer Close()

	With("conn_id", "c1").Info("realtime: client connected")
	Debug("below level")

	lines := GetBufferedLogs(10)
	if len(lines) != 1 {
		t.Fatalf("expected 1 buffered line, got %d: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "conn_id=c1") {
		t.Errorf("expected attrs in buffered line, got %q", lines[0])
	}

	total, capacity, ok := GetBufferStats()
	if !ok || total != 1 || capacity != 100 {
		t.Errorf("unexpected stats total=%d capacity=%d ok=%v", total, capacity, ok)
	}
}

func TestInit_BufferDisabled(t *testing.T) {
	if err := Init(&Config{Mode: "console", Level: "info"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer Close()

	if lines := GetBufferedLogs(10); lines != nil {
		t.Error("expected nil when buffer disabled")
	}
	if _, _, ok := GetBufferStats(); ok {
		t.Error("expected stats to report disabled buffer")
	}
}

func TestInit_FileMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "firelite.log")
	cfg := DefaultConfig()
	cfg.Mode = "file"
	cfg.FilePath = path
	cfg.Format = "json"

	if err := Init(cfg); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	Warn("store tick failed", "collection", "users")
	if err := Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), `"collection":"users"`) {
		t.Errorf("expected json record in file, got %q", data)
	}
}
