package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/markb/firelite/internal/docstore"
	"github.com/markb/firelite/internal/log"
	"github.com/markb/firelite/internal/observability"
	"github.com/markb/firelite/internal/query"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Config holds realtime configuration
type Config struct {
	// Ping period, and the pong grace after each ping
	HeartbeatInterval time.Duration
	PingTimeout       time.Duration

	// Process-wide connection cap
	MaxClients int

	// Change detector period and concurrency
	PollInterval time.Duration
	PollWorkers  int

	// Per-connection subscription cap, 0 for unlimited
	MaxSubscriptions int

	// Emit a modified event on every tick even when nothing changed
	EmitUnchanged bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 25 * time.Second,
		PingTimeout:       5 * time.Second,
		MaxClients:        1000,
		PollInterval:      time.Second,
		PollWorkers:       64,
		MaxSubscriptions:  100,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = d.PingTimeout
	}
	if c.MaxClients <= 0 {
		c.MaxClients = d.MaxClients
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.PollWorkers <= 0 {
		c.PollWorkers = d.PollWorkers
	}
	if c.MaxSubscriptions < 0 {
		c.MaxSubscriptions = 0
	}
	return c
}

// DocumentSource is the read side of the document store. docstore.Store
// satisfies it.
type DocumentSource interface {
	Get(ctx context.Context, collection, id string) (*docstore.Document, error)
	Find(ctx context.Context, collection string, q query.Query) ([]*docstore.Document, error)
}

// TokenVerifier resolves an access token to a user id. auth.Service
// satisfies it.
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// Service owns every realtime connection and subscription of the process.
type Service struct {
	cfg      Config
	store    DocumentSource
	verifier TokenVerifier
	sched    *Scheduler
	upgrader websocket.Upgrader

	metrics *observability.Metrics
	tracer  trace.Tracer

	mu            sync.RWMutex
	sessions      map[string]*Session      // connID -> Session
	subscriptions map[string]*Subscription // subscriptionID -> Subscription
	closed        bool
}

// NewService creates and starts a realtime service. tel may be nil.
func NewService(store DocumentSource, verifier TokenVerifier, cfg Config, tel *observability.Telemetry) *Service {
	cfg = cfg.withDefaults()
	s := &Service{
		cfg:      cfg,
		store:    store,
		verifier: verifier,
		sched:    NewScheduler(cfg.PollInterval, cfg.PollWorkers),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins (CORS handled elsewhere)
			},
		},
		tracer:        tracenoop.NewTracerProvider().Tracer(observability.InstrumentationName),
		sessions:      make(map[string]*Session),
		subscriptions: make(map[string]*Subscription),
	}
	if tel != nil {
		s.metrics = tel.Metrics()
		s.tracer = tel.Tracer()
	}
	s.sched.Start()
	return s
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Close disconnects every session and stops the change detectors.
func (s *Service) Close() {
	for _, sess := range s.closeRegistry() {
		sess.shutdown()
	}
	s.sched.Stop()
	log.Info("realtime: service stopped")
}
