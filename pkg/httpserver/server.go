// Package httpserver exposes metrics, health checks and the session
// dashboard API.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/internal/risk"
	"github.com/crossvenue/kalshi-poly-arb/internal/storage"
	"github.com/crossvenue/kalshi-poly-arb/pkg/healthprobe"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server serves metrics, probes and the read-only dashboard endpoints.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config holds server configuration. Store and Gate are optional; without
// them only metrics and probes are served.
type Config struct {
	Port           string
	Logger         *zap.Logger
	HealthChecker  *healthprobe.Checker
	Store          storage.Store
	Gate           *risk.Gate
	SimulationMode bool
}

// New creates the HTTP server.
func New(cfg *Config) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/health", cfg.HealthChecker.Health())
	r.Get("/ready", cfg.HealthChecker.Ready())

	if cfg.Store != nil {
		d := newDashboard(cfg.Store, cfg.Gate, cfg.SimulationMode, cfg.Logger)
		r.Get("/api/status", d.handleStatus)
		r.Get("/api/markets", d.handleMarkets)
		r.Get("/api/opportunities", d.handleOpportunities)
		r.Get("/api/trades", d.handleTrades)
		r.Get("/api/stats", d.handleStats)
	}

	return &Server{
		server: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           r,
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

// Start blocks until the server stops or fails.
func (s *Server) Start() error {
	s.logger.Info("http-server-starting", zap.String("addr", s.server.Addr))

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http-server-shutting-down")

	err := s.server.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
