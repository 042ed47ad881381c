// Package server exposes the cutover orchestrator over HTTP: an admin API
// for submitting plans, managing revert triggers, and reading run history,
// plus a WebSocket stream of live deployment events.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kubilitics/cutover/internal/config"
	"github.com/kubilitics/cutover/internal/cutover"
	"github.com/kubilitics/cutover/internal/cutover/revert"
	"github.com/kubilitics/cutover/internal/db"
	"github.com/kubilitics/cutover/internal/deploy/local"
	"github.com/kubilitics/cutover/internal/readiness"
)

// Deps carries the server's collaborators.
type Deps struct {
	Orchestrator cutover.Orchestrator
	Reverter     revert.Manager
	Readiness    readiness.Engine
	Store        db.Store
	Environment  *local.Environment
	Log          *zap.Logger
}

// Server is the cutover admin server.
type Server struct {
	cfg *config.Config
	log *zap.Logger

	orch      cutover.Orchestrator
	reverter  revert.Manager
	readiness readiness.Engine
	store     db.Store
	env       *local.Environment

	hub     *EventHub
	limiter *rateLimiter

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	running bool

	// runMu serializes cutover execution: one run in flight per server.
	runMu    sync.Mutex
	inFlight bool
}

// New creates a cutover admin server.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if deps.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := &Server{
		cfg:       cfg,
		log:       log,
		orch:      deps.Orchestrator,
		reverter:  deps.Reverter,
		readiness: deps.Readiness,
		store:     deps.Store,
		env:       deps.Environment,
		hub:       newEventHub(log),
		ctx:       ctx,
		cancel:    cancel,
	}

	if cfg.Server.RateLimitPerMin > 0 {
		srv.limiter = newRateLimiter(cfg.Server.RateLimitPerMin)
	}

	if srv.env != nil {
		srv.env.OnEvent(srv.hub.Broadcast)
	}

	return srv, nil
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // cutover runs can outlast any sane write timeout
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("http server listening", zap.Int("port", s.cfg.Server.Port))
		var err error
		if s.cfg.Server.TLSEnabled {
			err = s.httpServer.ListenAndServeTLS(s.cfg.Server.TLSCertPath, s.cfg.Server.TLSKeyPath)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.log.Error("http server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.log.Info("stopping cutover server")

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("http shutdown error", zap.Error(err))
		}
	}

	s.hub.Close()
	if s.limiter != nil {
		s.limiter.stop()
	}
	s.cancel()
	s.wg.Wait()

	s.log.Info("cutover server stopped")
	return nil
}

// Wait blocks until the server is stopped.
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// registerHandlers registers HTTP handlers. Mutating endpoints go through
// the per-client rate limiter when one is configured.
func (s *Server) registerHandlers(mux *http.ServeMux) {
	limited := func(h http.HandlerFunc) http.HandlerFunc {
		if s.limiter == nil {
			return h
		}
		return s.limiter.wrap(h)
	}

	// Probes and telemetry
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	// Cutover operations
	mux.HandleFunc("/api/v1/cutover", limited(s.handleCutover))
	mux.HandleFunc("/api/v1/cutover/dry-run", limited(s.handleDryRun))
	mux.HandleFunc("/api/v1/emergency-stop", limited(s.handleEmergencyStop))
	mux.HandleFunc("/api/v1/phase", s.handlePhase)

	// Revert triggers
	mux.HandleFunc("/api/v1/triggers", limited(s.handleTriggers))
	mux.HandleFunc("/api/v1/triggers/state", s.handleTriggerState)
	mux.HandleFunc("/api/v1/triggers/", limited(s.handleTriggerByName))

	// History
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/runs/", s.handleRunByID)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/reverts", s.handleReverts)

	// Environment metric injection for the in-process environment
	mux.HandleFunc("/api/v1/environment/metrics", limited(s.handleEnvironmentMetrics))

	// Live event stream
	mux.HandleFunc("/ws/events", s.handleEventStream)
}
