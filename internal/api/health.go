package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/agentlink/internal/metrics"
)

// HealthHandler reports liveness and serves metrics.
type HealthHandler struct {
	*Handler
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(base *Handler) *HealthHandler {
	return &HealthHandler{Handler: base}
}

// RegisterHealth registers /health and /metrics.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())
}

// Health checks the store and reports the attached agent count.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		h.logger.Warn("Health check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "unreachable"})
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"agents": len(h.sessions.List()),
	})
}
