package log

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// RingBuffer is a thread-safe circular buffer for log lines.
type RingBuffer struct {
	mu    sync.RWMutex
	lines []string
	next  int // next write position
	count int
}

// NewRingBuffer creates a new ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &RingBuffer{lines: make([]string, capacity)}
}

// Add adds a line to the buffer, evicting the oldest if full.
func (rb *RingBuffer) Add(line string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.lines[rb.next] = line
	rb.next = (rb.next + 1) % len(rb.lines)
	if rb.count < len(rb.lines) {
		rb.count++
	}
}

// Lines returns the last n lines, oldest first.
func (rb *RingBuffer) Lines(n int) []string {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n > rb.count {
		n = rb.count
	}
	if n <= 0 {
		return []string{}
	}

	out := make([]string, n)
	first := rb.next - n
	if first < 0 {
		first += len(rb.lines)
	}
	for i := range out {
		out[i] = rb.lines[(first+i)%len(rb.lines)]
	}
	return out
}

// Total returns the number of lines currently in the buffer.
func (rb *RingBuffer) Total() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Capacity returns the buffer capacity.
func (rb *RingBuffer) Capacity() int {
	return len(rb.lines)
}

// lineWriter adapts the ring buffer to io.Writer. slog handlers emit one
// record per Write call.
type lineWriter struct {
	rb *RingBuffer
}

func (w lineWriter) Write(p []byte) (int, error) {
	w.rb.Add(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// BufferHandler tees records into a ring buffer as text lines and forwards
// them to the wrapped handler. Attributes and groups apply to both sides.
type BufferHandler struct {
	wrapped slog.Handler
	text    slog.Handler
}

// NewBufferHandler captures records at or above level. wrapped may be nil.
func NewBufferHandler(wrapped slog.Handler, buffer *RingBuffer, level slog.Level) *BufferHandler {
	return &BufferHandler{
		wrapped: wrapped,
		text:    slog.NewTextHandler(lineWriter{rb: buffer}, &slog.HandlerOptions{Level: level}),
	}
}

func (h *BufferHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.text.Enabled(ctx, level) {
		return true
	}
	return h.wrapped != nil && h.wrapped.Enabled(ctx, level)
}

func (h *BufferHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.text.Enabled(ctx, r.Level) {
		_ = h.text.Handle(ctx, r.Clone())
	}
	if h.wrapped != nil && h.wrapped.Enabled(ctx, r.Level) {
		return h.wrapped.Handle(ctx, r)
	}
	return nil
}

func (h *BufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := &BufferHandler{text: h.text.WithAttrs(attrs)}
	if h.wrapped != nil {
		c.wrapped = h.wrapped.WithAttrs(attrs)
	}
	return c
}

func (h *BufferHandler) WithGroup(name string) slog.Handler {
	c := &BufferHandler{text: h.text.WithGroup(name)}
	if h.wrapped != nil {
		c.wrapped = h.wrapped.WithGroup(name)
	}
	return c
}
