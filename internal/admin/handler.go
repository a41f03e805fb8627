// Package admin serves operator endpoints: the in-memory log tail and a
// status summary of the running server.
package admin

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/markb/firelite/internal/realtime"
)

const (
	defaultLogLines = 100
	maxLogLines     = 5000
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LogsResponse is the body of GET /admin/v1/logs.
type LogsResponse struct {
	Enabled  bool     `json:"enabled"`
	Total    int      `json:"total"`
	Capacity int      `json:"capacity"`
	Lines    []string `json:"lines"`
}

// StatusResponse is the body of GET /admin/v1/status.
type StatusResponse struct {
	Version       string `json:"version"`
	Backend       string `json:"backend"`
	StartedAt     string `json:"started_at"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Connections   int    `json:"connections"`
	Authenticated int    `json:"authenticated"`
	Subscriptions int    `json:"subscriptions"`
}

// StatsSource reports realtime counters.
type StatsSource interface {
	Stats() realtime.Stats
}

// LogSource reads the log tail. The log package satisfies it through
// LogFuncs.
type LogSource interface {
	Lines(n int) []string
	Stats() (total, capacity int, ok bool)
}

// LogFuncs adapts a pair of functions to LogSource.
type LogFuncs struct {
	LinesFunc func(n int) []string
	StatsFunc func() (total, capacity int, ok bool)
}

func (f LogFuncs) Lines(n int) []string                  { return f.LinesFunc(n) }
func (f LogFuncs) Stats() (total, capacity int, ok bool) { return f.StatsFunc() }

// Options describes the running server.
type Options struct {
	Version string
	Backend string
}

// Handler handles admin API requests.
type Handler struct {
	logs      LogSource
	realtime  StatsSource
	opts      Options
	startedAt time.Time
	now       func() time.Time
}

// NewHandler creates a new admin Handler. rt may be nil when realtime is
// not running.
func NewHandler(logs LogSource, rt StatsSource, opts Options) *Handler {
	return &Handler{
		logs:      logs,
		realtime:  rt,
		opts:      opts,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// HandleLogs returns the last ?lines=N buffered log lines, oldest first.
func (h *Handler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	n := defaultLogLines
	if raw := r.URL.Query().Get("lines"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			h.writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "lines must be a positive integer")
			return
		}
		n = min(v, maxLogLines)
	}

	resp := LogsResponse{Lines: []string{}}
	if total, capacity, ok := h.logs.Stats(); ok {
		resp.Enabled = true
		resp.Total = total
		resp.Capacity = capacity
		if lines := h.logs.Lines(n); lines != nil {
			resp.Lines = lines
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleStatus summarises the server and its realtime load.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version:       h.opts.Version,
		Backend:       h.opts.Backend,
		StartedAt:     h.startedAt.UTC().Format(time.RFC3339),
		UptimeSeconds: int64(h.now().Sub(h.startedAt) / time.Second),
	}
	if h.realtime != nil {
		stats := h.realtime.Stats()
		resp.Connections = stats.Connections
		resp.Authenticated = stats.Authenticated
		resp.Subscriptions = stats.Subscriptions
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
