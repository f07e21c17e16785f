// Package api exposes the engine's observability surface: a small HTTP
// endpoint for metrics and health, and the tracer setup. It never serves
// key/value data.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sajjad-MoBe/kvs/internal/shared"
)

// Server represents the metrics HTTP server
type Server struct {
	router  *mux.Router
	http    *http.Server
	started time.Time
	logger  *shared.Logger
}

// NewServer creates a new metrics server instance. Handlers only touch the
// gatherer, which is safe for concurrent use, never the engine itself.
func NewServer(gatherer prometheus.Gatherer, logger *shared.Logger) *Server {
	if logger == nil {
		logger = shared.DefaultLogger
	}
	s := &Server{
		router:  mux.NewRouter(),
		started: time.Now(),
		logger:  logger,
	}
	s.setupRoutes(gatherer)
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves in the background. It returns the address
// actually bound, which differs from addr when addr uses port 0.
func (s *Server) Start(addr string) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error: %v", err)
		}
	}()

	s.logger.Info("serving metrics on %s", listener.Addr())
	return listener.Addr().String(), nil
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// handleHealth handles GET /health requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
	if err != nil {
		s.logger.Warn("failed to write health response: %v", err)
	}
}
