package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/agentlink/internal/shared"
	"github.com/ashureev/agentlink/internal/store"
)

// InputHandler serves drafts and input history. Neither requires the agent
// to be attached.
type InputHandler struct {
	*Handler
}

// NewInputHandler creates a new input handler.
func NewInputHandler(base *Handler) *InputHandler {
	return &InputHandler{Handler: base}
}

// RegisterRoutes registers draft and history routes.
func (h *InputHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/agents/{agentID}/draft", h.GetDraft)
	r.Put("/api/agents/{agentID}/draft", h.PutDraft)
	r.Get("/api/agents/{agentID}/history", h.GetHistory)
	r.Post("/api/agents/{agentID}/history", h.PostHistory)
}

// TextRequest is the body of draft and history writes.
type TextRequest struct {
	Text string `json:"text"`
}

// GetDraft returns the saved draft, or an empty one.
func (h *InputHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	draft, err := h.repo.GetDraft(r.Context(), agentID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	if draft == nil {
		draft = &store.Draft{AgentID: agentID}
	}
	JSON(w, http.StatusOK, draft)
}

// PutDraft saves the draft. Saving an empty text deletes it.
func (h *InputHandler) PutDraft(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	var req TextRequest
	if err := decode(r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}

	if req.Text == "" {
		if err := h.repo.DeleteDraft(r.Context(), agentID); err != nil {
			h.Fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	draft := &store.Draft{AgentID: agentID, Text: req.Text, UpdatedAt: time.Now()}
	if err := h.repo.SaveDraft(r.Context(), draft); err != nil {
		h.Fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, draft)
}

// GetHistory returns submitted input, newest first.
func (h *InputHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := shared.QueryIndex("limit", r.URL.Query().Get("limit"))
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	entries, err := h.repo.History(r.Context(), chi.URLParam(r, "agentID"), limit)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string][]store.HistoryEntry{"history": entries})
}

// PostHistory records a submitted line.
func (h *InputHandler) PostHistory(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if err := decode(r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		h.Fail(w, r, fmt.Errorf("text is required: %w", errdefs.ErrInvalidArgument))
		return
	}
	if err := h.repo.AppendHistory(r.Context(), chi.URLParam(r, "agentID"), req.Text); err != nil {
		h.Fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
