package handler

import (
	"context"
	"net/http"

	"github.com/edo-homes/portal/internal/apiclient"
)

// Pinger checks that the backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) apiclient.Connectivity
}

// ConnChecker reports broker connectivity.
type ConnChecker interface {
	IsConnected() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	backend Pinger
	nats    ConnChecker
}

// NewHealthHandler creates a new health handler. nats is nil when the
// event stream is disabled.
func NewHealthHandler(backend Pinger, nats ConnChecker) *HealthHandler {
	return &HealthHandler{
		backend: backend,
		nats:    nats,
	}
}

type readiness struct {
	Status  string                 `json:"status"`
	Backend apiclient.Connectivity `json:"backend"`
	NATS    string                 `json:"nats"`
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	resp := readiness{
		Status:  "ready",
		Backend: h.backend.Ping(r.Context()),
		NATS:    "disabled",
	}
	status := http.StatusOK

	if !resp.Backend.Success {
		resp.Status = "not ready"
		status = http.StatusServiceUnavailable
	}
	if h.nats != nil {
		resp.NATS = "connected"
		if !h.nats.IsConnected() {
			resp.NATS = "disconnected"
			resp.Status = "not ready"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, resp)
}
