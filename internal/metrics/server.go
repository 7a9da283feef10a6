package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bryonbaker/playerstats/internal/models"
)

// Components reported on the readiness probe.
const (
	ComponentDatabase   = "database"
	ComponentScheduler  = "scheduler"
	ComponentWorkerPool = "worker_pool"
)

// Component statuses. Anything other than StatusOK fails readiness.
const (
	StatusOK          = "ok"
	StatusUnavailable = "unavailable"
	StatusMissing     = "missing"
)

// HealthChecks tracks per-component status. Components named with Require
// fail readiness until they report.
type HealthChecks struct {
	mu       sync.RWMutex
	checks   map[string]string
	required map[string]struct{}
}

// NewHealthChecks creates an empty HealthChecks.
func NewHealthChecks() *HealthChecks {
	return &HealthChecks{
		checks:   make(map[string]string),
		required: make(map[string]struct{}),
	}
}

// Require marks components that must report StatusOK before the service is
// ready.
func (h *HealthChecks) Require(components ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range components {
		h.required[c] = struct{}{}
	}
}

// Update sets the status for the given component.
func (h *HealthChecks) Update(component string, status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[component] = status
}

// Snapshot returns every known component's status, with required components
// that never reported shown as StatusMissing, and the names of the components
// that are not ok.
func (h *HealthChecks) Snapshot() (map[string]string, []string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]string, len(h.checks)+len(h.required))
	for c := range h.required {
		out[c] = StatusMissing
	}
	for c, status := range h.checks {
		out[c] = status
	}

	var failing []string
	for c, status := range out {
		if status != StatusOK {
			failing = append(failing, c)
		}
	}
	sort.Strings(failing)
	return out, failing
}

// Server serves Prometheus metrics, the liveness and readiness endpoints, and
// the routes registered with Handle on one listener.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	health     *HealthChecks

	mu    sync.RWMutex
	ready bool
}

// NewServer creates the HTTP server. An empty metricsPath disables the
// metrics endpoint; a nil registry exposes the default one.
func NewServer(port int, metricsPath string, healthPath string, readyPath string, registry *prometheus.Registry) *Server {
	s := &Server{
		mux:    http.NewServeMux(),
		health: NewHealthChecks(),
	}

	switch {
	case metricsPath == "":
	case registry != nil:
		s.mux.Handle(metricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	default:
		s.mux.Handle(metricsPath, promhttp.Handler())
	}
	s.mux.HandleFunc(healthPath, s.handleHealth)
	s.mux.HandleFunc(readyPath, s.handleReady)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handle registers an additional handler. It must be called before Start.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the server is shut down. http.ErrServerClosed is not
// returned.
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Require marks components that must report ok before readiness passes.
func (s *Server) Require(components ...string) {
	s.health.Require(components...)
}

// UpdateHealthCheck updates the status of the named component.
func (s *Server) UpdateHealthCheck(component string, status string) {
	s.health.Update(component, status)
}

// SetReady toggles readiness. It is cleared first during shutdown so the
// event source stops sending before ingress closes.
func (s *Server) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

func (s *Server) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, models.HealthResponse{
		Status:    StatusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	checks, failing := s.health.Snapshot()

	resp := models.ReadinessResponse{
		Status:    StatusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
	code := http.StatusOK
	if !s.isReady() || len(failing) > 0 {
		resp.Status = StatusUnavailable
		code = http.StatusServiceUnavailable
	}
	writeStatus(w, code, resp)
}

func writeStatus(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
