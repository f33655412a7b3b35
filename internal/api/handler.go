// Package api provides HTTP handlers for the agentlink API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/containerd/errdefs"

	"github.com/ashureev/agentlink/internal/session"
	"github.com/ashureev/agentlink/internal/shared"
	"github.com/ashureev/agentlink/internal/store"
)

const maxBodyBytes = 1 << 20

// Handler provides common handler utilities.
type Handler struct {
	sessions *session.Manager
	repo     store.Repository
	logger   *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(sessions *session.Manager, repo store.Repository, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions: sessions,
		repo:     repo,
		logger:   logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Fail writes err with the status of its error class. Internal errors are
// logged and not echoed to the client.
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request, err error) {
	status := shared.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		Error(w, status, "internal error")
		return
	}
	Error(w, status, err.Error())
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("malformed request body: %v: %w", err, errdefs.ErrInvalidArgument)
	}
	return nil
}
