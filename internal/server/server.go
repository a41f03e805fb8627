// Package server wires the HTTP surface: document REST routes, the realtime
// websocket endpoint and the admin endpoints, behind CORS, request logging
// and tracing middleware.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/markb/firelite/internal/admin"
	"github.com/markb/firelite/internal/auth"
	"github.com/markb/firelite/internal/docstore"
	"github.com/markb/firelite/internal/log"
	"github.com/markb/firelite/internal/observability"
	"github.com/markb/firelite/internal/realtime"
	"github.com/markb/firelite/internal/rest"
	"golang.org/x/crypto/acme/autocert"
)

// Config holds server configuration.
type Config struct {
	JWTSecret string
	Realtime  realtime.Config

	// Telemetry instruments requests when set.
	Telemetry *observability.Telemetry

	// Reported by /admin/v1/status.
	Version string
	Backend string
}

type Server struct {
	router          *chi.Mux
	store           docstore.Store
	authService     *auth.Service
	restHandler     *rest.Handler
	adminHandler    *admin.Handler
	realtimeService *realtime.Service
	telemetry       *observability.Telemetry

	// HTTP server for graceful shutdown
	httpServer *http.Server

	// HTTPS fields
	httpsServer  *http.Server
	httpRedirect *http.Server
	autocertMgr  *autocert.Manager
}

// New builds the server and starts the realtime service. The store stays
// owned by the caller.
func New(store docstore.Store, cfg Config) *Server {
	authService := auth.NewService(cfg.JWTSecret)
	rt := realtime.NewService(store, authService, cfg.Realtime, cfg.Telemetry)

	s := &Server{
		router:          chi.NewRouter(),
		store:           store,
		authService:     authService,
		restHandler:     rest.NewHandler(store),
		realtimeService: rt,
		telemetry:       cfg.Telemetry,
	}
	s.adminHandler = admin.NewHandler(
		admin.LogFuncs{LinesFunc: log.GetBufferedLogs, StatsFunc: log.GetBufferStats},
		rt,
		admin.Options{Version: cfg.Version, Backend: cfg.Backend},
	)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// CORS middleware for browser-based apps
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.router.Use(log.RequestLogger)
	if s.telemetry != nil {
		s.router.Use(observability.HTTPMiddleware(s.telemetry))
	}
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.SetHeader("Content-Type", "application/json"))

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/{collection}", s.restHandler.HandleCreate)
		r.Post("/{collection}/query", s.restHandler.HandleQuery)
		r.Get("/{collection}/{id}", s.restHandler.HandleGet)
		r.Put("/{collection}/{id}", s.restHandler.HandleSet)
		r.Patch("/{collection}/{id}", s.restHandler.HandleUpdate)
		r.Delete("/{collection}/{id}", s.restHandler.HandleDelete)
	})

	// Authentication happens inside the protocol, after the upgrade.
	s.router.Route("/realtime/v1", func(r chi.Router) {
		r.Get("/websocket", s.realtimeService.HandleWebSocket)
		r.With(s.authMiddleware).Get("/stats", s.realtimeService.HandleStats)
	})

	s.router.Route("/admin/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/logs", s.adminHandler.HandleLogs)
		r.Get("/status", s.adminHandler.HandleStatus)
	})
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// RealtimeService returns the realtime service.
func (s *Server) RealtimeService() *realtime.Service {
	return s.realtimeService
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	log.Info("server: listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests, waits for in-flight ones, then closes
// every realtime session.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	if s.httpsServer != nil {
		if err := s.httpsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTPS server: %w", err))
		}
	}
	if s.httpRedirect != nil {
		if err := s.httpRedirect.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP redirect server: %w", err))
		}
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server: %w", err))
		}
	}

	// Hijacked websocket connections are not tracked by http.Server.
	s.realtimeService.Close()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"code":    code,
		"message": message,
	})
}
