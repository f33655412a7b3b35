package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/agentlink/internal/conversation"
	"github.com/ashureev/agentlink/internal/domain"
	"github.com/ashureev/agentlink/internal/execstate"
	"github.com/ashureev/agentlink/internal/question"
	"github.com/ashureev/agentlink/internal/session"
	"github.com/ashureev/agentlink/internal/shared"
)

// AgentHandler handles attachment, conversation and question endpoints.
type AgentHandler struct {
	*Handler
}

// NewAgentHandler creates a new agent handler.
func NewAgentHandler(base *Handler) *AgentHandler {
	return &AgentHandler{Handler: base}
}

// RegisterRoutes registers agent routes.
func (h *AgentHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/agents", h.List)
	r.Post("/api/agents/{agentID}/attach", h.Attach)
	r.Delete("/api/agents/{agentID}", h.Detach)
	r.Get("/api/agents/{agentID}/conversation", h.Conversation)
	r.Get("/api/agents/{agentID}/state", h.State)
	r.Get("/api/agents/{agentID}/questions", h.Questions)
	r.Post("/api/agents/{agentID}/questions/{requestID}/response", h.Respond)
	r.Post("/api/agents/{agentID}/questions/{requestID}/cancel", h.Cancel)
}

// AttachRequest is the body of an attach call.
type AttachRequest struct {
	FromPosition domain.Cursor `json:"fromPosition"`
}

// ConversationResponse is a window of the conversation log.
type ConversationResponse struct {
	From    int                  `json:"from"`
	Cursor  domain.Cursor        `json:"cursor"`
	Entries []conversation.Entry `json:"entries"`
}

// StateResponse is the execution state as rendered. Questions are the
// pending questions with their auto-submit countdowns.
type StateResponse struct {
	State     execstate.View           `json:"state"`
	Queue     []domain.QuestionRequest `json:"queue"`
	Questions []question.Request       `json:"questions"`
}

// RespondRequest carries a question result.
type RespondRequest struct {
	Result json.RawMessage `json:"result"`
}

// List returns every attached agent.
func (h *AgentHandler) List(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{"agents": h.sessions.List()})
}

// Attach starts following an agent. Attaching twice is a no-op.
func (h *AgentHandler) Attach(w http.ResponseWriter, r *http.Request) {
	var req AttachRequest
	if err := decode(r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}

	s, created, err := h.sessions.Attach(chi.URLParam(r, "agentID"), req.FromPosition)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	JSON(w, status, s.Info())
}

// Detach stops following an agent.
func (h *AgentHandler) Detach(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Detach(chi.URLParam(r, "agentID")); err != nil {
		h.Fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Conversation returns the log from index since on.
func (h *AgentHandler) Conversation(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	since, err := shared.QueryIndex("since", r.URL.Query().Get("since"))
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	since = min(since, s.Conversation().Len())
	entries, cursor := s.Conversation().Since(since)
	JSON(w, http.StatusOK, ConversationResponse{
		From:    since,
		Cursor:  cursor,
		Entries: entries,
	})
}

// State returns the execution state view.
func (h *AgentHandler) State(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, StateResponse{
		State:     s.Tracker().View(),
		Queue:     s.Tracker().Queue(),
		Questions: s.Questions().Pending(),
	})
}

// Questions returns every known question request with its local status.
func (h *AgentHandler) Questions(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, map[string][]question.Request{"questions": s.Questions().List()})
}

// Respond validates and submits a result for a pending question.
func (h *AgentHandler) Respond(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req RespondRequest
	if err := decode(r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}

	requestID := chi.URLParam(r, "requestID")
	if err := s.Submit(r.Context(), requestID, req.Result); err != nil {
		h.Fail(w, r, err)
		return
	}
	h.writeQuestion(w, r, s, requestID)
}

// Cancel answers a pending question with null.
func (h *AgentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	requestID := chi.URLParam(r, "requestID")
	if err := s.Cancel(r.Context(), requestID); err != nil {
		h.Fail(w, r, err)
		return
	}
	h.writeQuestion(w, r, s, requestID)
}

func (h *AgentHandler) writeQuestion(w http.ResponseWriter, r *http.Request, s *session.Session, requestID string) {
	q, err := s.Questions().Get(requestID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, q)
}

func (h *AgentHandler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(chi.URLParam(r, "agentID"))
	if err != nil {
		h.Fail(w, r, err)
		return nil, false
	}
	s.Touch()
	return s, true
}
