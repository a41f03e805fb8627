// internal/log/file_test.go
package log

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileHandler_Write(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	h, err := NewFileHandler(&Config{FilePath: logPath, Format: "text", MaxSizeMB: 1, MaxBackups: 3}, slog.LevelInfo)
	if err != nil {
		t.Fatalf("NewFileHandler: %v", err)
	}
	defer h.Close()

	logger := slog.New(h).With("subscription_id", "s1")
	logger.Info("test message", "key", "value")
	logger.Debug("filtered")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	output := string(data)
	if !strings.Contains(output, "test message") || !strings.Contains(output, "subscription_id=s1") {
		t.Errorf("unexpected file contents %q", output)
	}
	if strings.Contains(output, "filtered") {
		t.Error("debug record should be filtered")
	}
}

func TestFileHandler_RotationPrunesBackups(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "test.log")

	// MaxSizeMB 0 falls back to the 1KB minimum
	h, err := NewFileHandler(&Config{FilePath: logPath, Format: "text", MaxAgeDays: 7, MaxBackups: 2}, slog.LevelInfo)
	if err != nil {
		t.Fatalf("NewFileHandler: %v", err)
	}
	defer h.Close()

	logger := slog.New(h)
	for i := 0; i < 200; i++ {
		logger.Info("test message with some padding to make it larger", "iteration", i)
	}

	backups, _ := filepath.Glob(logPath + ".*")
	if len(backups) != 2 {
		t.Errorf("expected 2 backups after pruning, got %d", len(backups))
	}

	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() > 1024 {
		t.Errorf("active file exceeds max size: %d", info.Size())
	}
}

func TestFileHandler_WriteAfterClose(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	h, err := NewFileHandler(&Config{FilePath: logPath}, slog.LevelInfo)
	if err != nil {
		t.Fatalf("NewFileHandler: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if _, err := h.out.Write([]byte("x")); err == nil {
		t.Error("expected error writing to closed file")
	}
}
