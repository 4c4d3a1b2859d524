package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// HealthCheck probes one backing service
type HealthCheck func(ctx context.Context) error

// InFlightCounter reports the number of shared fetches running
type InFlightCounter interface {
	InFlight() int
}

// HealthHandler reports service and backend health
type HealthHandler struct {
	service  string
	checks   map[string]HealthCheck
	inflight InFlightCounter
}

// NewHealthHandler creates a new health handler. checks may be nil.
func NewHealthHandler(service string, checks map[string]HealthCheck, inflight InFlightCounter) *HealthHandler {
	return &HealthHandler{
		service:  service,
		checks:   checks,
		inflight: inflight,
	}
}

// GetHealth returns server health status
// GET /health
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	code := http.StatusOK
	backends := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			backends[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		backends[name] = "ok"
	}

	resp := map[string]interface{}{
		"status":  status,
		"service": h.service,
	}
	if len(backends) > 0 {
		resp["backends"] = backends
	}
	if h.inflight != nil {
		resp["in_flight"] = h.inflight.InFlight()
	}

	respondJSON(w, code, resp)
}
