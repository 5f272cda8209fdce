package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tallystack/tally/internal/models"
)

// HealthChecks is a concurrency-safe registry of per-component statuses.
// Components report "ok" or a short failure description; readiness requires
// every registered component to be "ok".
type HealthChecks struct {
	mu     sync.RWMutex
	checks map[string]string
}

// NewHealthChecks creates an empty HealthChecks registry.
func NewHealthChecks() *HealthChecks {
	return &HealthChecks{checks: make(map[string]string)}
}

// Update records the status for a component.
func (h *HealthChecks) Update(component string, status string) {
	h.mu.Lock()
	h.checks[component] = status
	h.mu.Unlock()
}

// All returns a copy of the current component statuses.
func (h *HealthChecks) All() map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]string, len(h.checks))
	for component, status := range h.checks {
		out[component] = status
	}
	return out
}

// AllOK reports whether every registered component is "ok". An empty
// registry counts as healthy.
func (h *HealthChecks) AllOK() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, status := range h.checks {
		if status != "ok" {
			return false
		}
	}
	return true
}

// Server serves Prometheus metrics plus liveness and readiness probes.
type Server struct {
	httpServer   *http.Server
	registry     *prometheus.Registry
	healthChecks *HealthChecks

	mu    sync.RWMutex
	ready bool
}

// NewServer builds the metrics/health server on the given port. registry may
// be nil, in which case the process-wide default registerer is served. The
// server starts not-ready; main flips it once all components are up.
func NewServer(port int, metricsPath string, healthPath string, readyPath string, registry *prometheus.Registry) *Server {
	s := &Server{
		registry:     registry,
		healthChecks: NewHealthChecks(),
	}

	mux := http.NewServeMux()
	if registry != nil {
		mux.Handle(metricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	} else {
		mux.Handle(metricsPath, promhttp.Handler())
	}
	mux.HandleFunc(healthPath, s.handleHealth)
	mux.HandleFunc(readyPath, s.handleReady)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return s
}

// Start serves HTTP until the server is shut down. ErrServerClosed is
// swallowed so a graceful shutdown reads as a clean exit.
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// UpdateHealthCheck records the status of the named component.
func (s *Server) UpdateHealthCheck(component string, status string) {
	s.healthChecks.Update(component, status)
}

// SetReady flips the overall readiness gate.
func (s *Server) SetReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

func (s *Server) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// handleHealth answers the liveness probe. A responding process is alive,
// so this always returns 200.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(models.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady answers the readiness probe: 200 only when the readiness gate
// is open and every component check passes, 503 otherwise, with the
// per-component statuses included either way.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	status, code := "ok", http.StatusOK
	if !s.isReady() || !s.healthChecks.AllOK() {
		status, code = "unavailable", http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(models.ReadinessResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    s.healthChecks.All(),
	})
}
