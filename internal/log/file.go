package log

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// rotatingFile is an io.Writer that renames the file to a timestamped backup
// once it grows past maxSize, then prunes old backups.
type rotatingFile struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	maxSize    int64
	maxAge     time.Duration
	maxBackups int
	size       int64
}

func openRotatingFile(cfg *Config) (*rotatingFile, error) {
	dir := filepath.Dir(cfg.FilePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}

	maxSize := int64(cfg.MaxSizeMB) * 1024 * 1024
	if maxSize < 1024 {
		maxSize = 1024
	}
	rf := &rotatingFile{
		path:       cfg.FilePath,
		maxSize:    maxSize,
		maxAge:     time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
		maxBackups: cfg.MaxBackups,
	}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *rotatingFile) open() error {
	file, err := os.OpenFile(rf.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	rf.file = file
	rf.size = info.Size()
	return nil
}

func (rf *rotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return 0, os.ErrClosed
	}
	if rf.size > 0 && rf.size+int64(len(p)) > rf.maxSize {
		if err := rf.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

// rotate must be called with mu held.
func (rf *rotatingFile) rotate() error {
	rf.file.Close()

	backup := rf.path + "." + time.Now().Format("2006-01-02T15-04-05.000000000")
	if err := os.Rename(rf.path, backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename log file: %w", err)
	}
	rf.pruneBackups()
	return rf.open()
}

// pruneBackups keeps the newest maxBackups files and drops any older than
// maxAge.
func (rf *rotatingFile) pruneBackups() {
	matches, err := filepath.Glob(rf.path + ".*")
	if err != nil {
		return
	}
	// Backup suffixes are timestamps, so names sort chronologically.
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))

	cutoff := time.Now().Add(-rf.maxAge)
	for i, path := range matches {
		if i >= rf.maxBackups {
			os.Remove(path)
			continue
		}
		if rf.maxAge > 0 {
			if info, err := os.Stat(path); err == nil && info.ModTime().Before(cutoff) {
				os.Remove(path)
			}
		}
	}
}

func (rf *rotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.file == nil {
		return nil
	}
	err := rf.file.Close()
	rf.file = nil
	return err
}

// FileHandler writes formatted records to a size-rotated file.
type FileHandler struct {
	slog.Handler
	out *rotatingFile
}

// NewFileHandler opens cfg.FilePath and returns a handler writing to it.
func NewFileHandler(cfg *Config, level slog.Level) (*FileHandler, error) {
	out, err := openRotatingFile(cfg)
	if err != nil {
		return nil, err
	}
	return &FileHandler{
		Handler: newFormatHandler(out, cfg.Format, level),
		out:     out,
	}, nil
}

// Close closes the underlying file. Handlers derived with WithAttrs share it.
func (h *FileHandler) Close() error {
	return h.out.Close()
}
