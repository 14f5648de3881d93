package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/recordbase/recordbase-server/internal/health"
	"github.com/recordbase/recordbase-server/internal/metrics"
	"go.uber.org/zap"
)

// AdminServer serves metrics and probes over plain HTTP
type AdminServer struct {
	router     *mux.Router
	httpServer *http.Server
	health     *health.HealthChecker
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// AdminServerConfig holds configuration for the admin server
type AdminServerConfig struct {
	Addr        string
	MetricsPath string
}

// NewAdminServer creates the admin HTTP server
func NewAdminServer(cfg *AdminServerConfig, hc *health.HealthChecker, m *metrics.Metrics, logger *zap.Logger) *AdminServer {
	router := mux.NewRouter()
	s := &AdminServer{
		router: router,
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		health:  hc,
		metrics: m,
		logger:  logger,
	}

	path := cfg.MetricsPath
	if path == "" {
		path = "/metrics"
	}
	router.Handle(path, m.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	router.HandleFunc("/ready", s.readyHandler).Methods(http.MethodGet)
	router.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)

	return s
}

// Handler exposes the router, mainly for tests
func (s *AdminServer) Handler() http.Handler {
	return s.router
}

// Serve serves on ln until Shutdown
func (s *AdminServer) Serve(ln net.Listener) error {
	s.logger.Info("Starting admin server", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the admin server
func (s *AdminServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping admin server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin server shutdown failed: %w", err)
	}
	return nil
}

func (s *AdminServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *AdminServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if !s.health.IsReady() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
			"checks": s.health.GetChecks(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *AdminServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"node":   s.health.GetStatus(),
		"checks": s.health.GetChecks(),
	})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
