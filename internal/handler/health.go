package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// Pinger reports whether the execution backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler answers readiness probes.
type HealthHandler struct {
	backend Pinger
	logger  *slog.Logger
}

func NewHealthHandler(backend Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{backend: backend, logger: logger}
}

// HandleHealth processes GET /healthz. The service is healthy only when
// the container daemon answers: an instance that cannot launch sandboxes
// should be rotated out of the load balancer, not accept work.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if h.backend == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	if err := h.backend.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
