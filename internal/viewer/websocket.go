package viewer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ashureev/agentlink/internal/conversation"
	"github.com/ashureev/agentlink/internal/domain"
	"github.com/ashureev/agentlink/internal/execstate"
	"github.com/ashureev/agentlink/internal/metrics"
	"github.com/ashureev/agentlink/internal/question"
	"github.com/ashureev/agentlink/internal/session"
	"github.com/ashureev/agentlink/internal/shared"
)

// Message types pushed to viewers.
const (
	TypeHello        = "hello"
	TypeConversation = "conversation"
	TypeState        = "state"
	TypePong         = "pong"
	TypeAck          = "response.ack"
	TypeError        = "response.error"
)

const writeTimeout = 10 * time.Second

// SessionSource resolves attached agents.
type SessionSource interface {
	Get(agentID string) (*session.Session, error)
}

// WebSocketHandler streams conversation and state updates of one agent and
// accepts question responses.
type WebSocketHandler struct {
	sessions      SessionSource
	conns         *ConnManager
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(sessions SessionSource, conns *ConnManager, allowedOrigin string, isDev bool, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		sessions:      sessions,
		conns:         conns,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

// inbound is a message from a viewer.
type inbound struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// ConversationUpdate carries entries from index From on. The entry at From
// replaces whatever the viewer held at that index.
type ConversationUpdate struct {
	Type    string               `json:"type"`
	From    int                  `json:"from"`
	Cursor  domain.Cursor        `json:"cursor"`
	Entries []conversation.Entry `json:"entries"`
}

// StateUpdate carries the execution state view and the pending questions.
type StateUpdate struct {
	Type      string             `json:"type"`
	State     execstate.View     `json:"state"`
	Questions []question.Request `json:"questions"`
}

// Reply answers an inbound message.
type Reply struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Status    int    `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
	ConnID    string `json:"connId,omitempty"`
	AgentID   string `json:"agentId,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	logger := h.logger.With("agent_id", agentID)

	s, err := h.sessions.Get(agentID)
	if err != nil {
		http.Error(w, err.Error(), shared.HTTPStatus(err))
		return
	}
	since, err := shared.QueryIndex("since", r.URL.Query().Get("since"))
	if err != nil {
		http.Error(w, err.Error(), shared.HTTPStatus(err))
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "viewer closed"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	connID := uuid.NewString()
	logger = logger.With("conn_id", connID)
	h.conns.Register(agentID, connID, ws)
	defer h.conns.Unregister(agentID, connID, ws)
	s.Retain()
	defer s.Release()
	metrics.ViewerConnections.Inc()
	defer metrics.ViewerConnections.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	v := &viewer{
		ws:      ws,
		session: s,
		logger:  logger,
		dirty:   make(chan struct{}, 1),
		replies: make(chan any, 16),
		sent:    since,
	}
	removeConv := s.Conversation().AddObserver(func(conversation.Change) { v.markDirty() })
	defer removeConv()
	removeState := s.Tracker().AddObserver(func(execstate.View) { v.markDirty() })
	defer removeState()

	if err := v.write(ctx, Reply{Type: TypeHello, ConnID: connID, AgentID: agentID}); err != nil {
		logger.Debug("Failed to send hello", "error", err)
		return
	}
	v.markDirty()

	go func() {
		defer cancel()
		v.inputLoop(ctx)
	}()
	v.outputLoop(ctx)
	logger.Info("Viewer session ended")
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// viewer is the state of one connection. Only outputLoop writes to ws.
type viewer struct {
	ws      *websocket.Conn
	session *session.Session
	logger  *slog.Logger
	dirty   chan struct{}
	replies chan any
	// sent is the number of entries the viewer holds. The last of them may
	// have grown since, so updates restart one entry earlier.
	sent       int
	primed     bool
	lastCursor domain.Cursor
	lastState  []byte

	// watching is the surfaced question whose countdown drives state pushes.
	watching  string
	stopWatch context.CancelFunc
}

func (v *viewer) markDirty() {
	select {
	case v.dirty <- struct{}{}:
	default:
	}
}

func (v *viewer) inputLoop(ctx context.Context) {
	for {
		_, data, err := v.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				v.logger.Debug("WebSocket closed by client")
			} else if ctx.Err() == nil {
				v.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			v.reply(ctx, Reply{Type: TypeError, Status: http.StatusBadRequest, Error: "malformed message"})
			continue
		}

		switch msg.Type {
		case "ping":
			v.reply(ctx, Reply{Type: TypePong})
		case "respond", "cancel":
			var err error
			if msg.Type == "cancel" {
				err = v.session.Cancel(ctx, msg.RequestID)
			} else {
				err = v.session.Submit(ctx, msg.RequestID, msg.Result)
			}
			if err != nil {
				v.reply(ctx, Reply{Type: TypeError, RequestID: msg.RequestID, Status: shared.HTTPStatus(err), Error: err.Error()})
				continue
			}
			v.reply(ctx, Reply{Type: TypeAck, RequestID: msg.RequestID})
			v.markDirty()
		case "resync":
			v.reply(ctx, resync{})
		default:
			v.reply(ctx, Reply{Type: TypeError, Status: http.StatusBadRequest, Error: "unknown message type " + strconv.Quote(msg.Type)})
		}
	}
}

// resync asks outputLoop to resend the whole conversation.
type resync struct{}

func (v *viewer) reply(ctx context.Context, msg any) {
	select {
	case v.replies <- msg:
	case <-ctx.Done():
	}
}

func (v *viewer) outputLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.session.Done():
			return
		case msg := <-v.replies:
			if _, ok := msg.(resync); ok {
				v.sent = 0
				v.primed = false
				v.lastState = nil
				v.markDirty()
				continue
			}
			if err := v.write(ctx, msg); err != nil {
				return
			}
		case <-v.dirty:
			if err := v.flush(ctx); err != nil {
				return
			}
		}
	}
}

// flush sends whatever changed since the previous flush.
func (v *viewer) flush(ctx context.Context) error {
	from := min(max(v.sent-1, 0), v.session.Conversation().Len())
	entries, cursor := v.session.Conversation().Since(from)
	if !v.primed || cursor != v.lastCursor {
		update := ConversationUpdate{Type: TypeConversation, From: from, Cursor: cursor, Entries: entries}
		if err := v.write(ctx, update); err != nil {
			return err
		}
		v.primed = true
		v.lastCursor = cursor
		v.sent = from + len(entries)
	}

	state := StateUpdate{
		Type:      TypeState,
		State:     v.session.Tracker().View(),
		Questions: v.session.Questions().Pending(),
	}
	v.watchCountdown(ctx, state.State.WaitingOn)

	encoded, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if string(encoded) == string(v.lastState) {
		return nil
	}
	v.lastState = encoded
	return v.writeRaw(ctx, encoded)
}

// watchCountdown re-pushes state once per second while the surfaced question
// counts down to its auto-submit deadline.
func (v *viewer) watchCountdown(ctx context.Context, surfaced *domain.QuestionRequest) {
	id := ""
	if surfaced != nil {
		id = surfaced.RequestID
	}
	if id == v.watching {
		return
	}
	if v.stopWatch != nil {
		v.stopWatch()
		v.stopWatch = nil
	}
	v.watching = ""
	if id == "" {
		return
	}

	cd, err := v.session.Questions().Countdown(id)
	if err != nil {
		// Not offered to the coordinator yet; retried on the next flush.
		return
	}
	v.watching = id
	if !cd.Enabled() {
		return
	}
	watchCtx, cancel := context.WithCancel(ctx)
	v.stopWatch = cancel
	ticks := cd.Watch(watchCtx)
	go func() {
		for range ticks {
			v.markDirty()
		}
	}()
}

func (v *viewer) write(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return v.writeRaw(ctx, data)
}

func (v *viewer) writeRaw(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := v.ws.Write(ctx, websocket.MessageText, data); err != nil {
		v.logger.Debug("WebSocket write error", "error", err)
		return err
	}
	return nil
}
