// Package execstate tracks the execution state stream of an agent.
//
// Snapshots replace each other wholesale. The tracker only adds the policy
// for surfacing pending questions one at a time: questions are queued in the
// order they were first seen and the head of the queue stays put even when a
// later snapshot lists them in a different order.
package execstate

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/ashureev/agentlink/internal/domain"
)

// View is what renderers see of the execution state.
type View struct {
	// Received is false until the first snapshot arrives.
	Received   bool                    `json:"received"`
	Idle       bool                    `json:"idle"`
	BusyWith   *string                 `json:"busyWith"`
	StatusLine *string                 `json:"statusLine"`
	WaitingOn  *domain.QuestionRequest `json:"waitingOn"`
	// Pending counts surfaceable questions including WaitingOn.
	Pending int `json:"pending"`
}

// Observer is called with the new view after every change.
type Observer func(View)

// Tracker holds the latest execution state snapshot of one agent.
type Tracker struct {
	mu        sync.RWMutex
	received  bool
	state     domain.ExecutionState
	order     []string
	byID      map[string]domain.QuestionRequest
	dismissed map[string]struct{}
	observers map[int]Observer
	nextObs   int
	logger    *slog.Logger
}

// NewTracker creates a tracker that has not seen any snapshot yet.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		byID:      make(map[string]domain.QuestionRequest),
		dismissed: make(map[string]struct{}),
		observers: make(map[int]Observer),
		logger:    logger,
	}
}

// Apply replaces the current snapshot.
func (t *Tracker) Apply(st domain.ExecutionState) {
	t.mu.Lock()
	t.received = true
	t.state = st

	present := make(map[string]domain.QuestionRequest, len(st.WaitingOn))
	for _, req := range st.WaitingOn {
		if _, dup := present[req.RequestID]; dup {
			continue
		}
		present[req.RequestID] = req
	}

	order := t.order[:0:0]
	for _, id := range t.order {
		if _, ok := present[id]; ok {
			order = append(order, id)
		}
	}
	for _, req := range st.WaitingOn {
		if slices.Contains(order, req.RequestID) {
			continue
		}
		order = append(order, req.RequestID)
	}
	for id := range t.dismissed {
		if _, ok := present[id]; !ok {
			delete(t.dismissed, id)
		}
	}
	t.order = order
	t.byID = present

	view := t.viewLocked()
	observers := t.observersLocked()
	t.mu.Unlock()

	if len(order) > 1 {
		t.logger.Debug("Multiple questions pending", "pending", len(order))
	}
	for _, o := range observers {
		o(view)
	}
}

// Dismiss hides a question that was answered locally. It stays hidden until
// the server stops listing it.
func (t *Tracker) Dismiss(requestID string) {
	t.mu.Lock()
	if _, ok := t.byID[requestID]; !ok {
		t.mu.Unlock()
		return
	}
	t.dismissed[requestID] = struct{}{}
	view := t.viewLocked()
	observers := t.observersLocked()
	t.mu.Unlock()

	for _, o := range observers {
		o(view)
	}
}

// View returns the current view.
func (t *Tracker) View() View {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.viewLocked()
}

// Queue returns the surfaceable pending questions in presentation order.
func (t *Tracker) Queue() []domain.QuestionRequest {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.queueLocked()
}

// Snapshot returns the last raw snapshot.
func (t *Tracker) Snapshot() domain.ExecutionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := t.state
	st.WaitingOn = slices.Clone(st.WaitingOn)
	return st
}

// AddObserver registers o and returns a function that removes it.
func (t *Tracker) AddObserver(o Observer) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextObs
	t.nextObs++
	t.observers[id] = o
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.observers, id)
	}
}

func (t *Tracker) queueLocked() []domain.QuestionRequest {
	out := make([]domain.QuestionRequest, 0, len(t.order))
	for _, id := range t.order {
		if _, hidden := t.dismissed[id]; hidden {
			continue
		}
		out = append(out, t.byID[id])
	}
	return out
}

func (t *Tracker) viewLocked() View {
	v := View{
		Received:   t.received,
		Idle:       t.state.Idle,
		BusyWith:   t.state.BusyWith,
		StatusLine: t.state.StatusLine,
	}
	queue := t.queueLocked()
	v.Pending = len(queue)
	if len(queue) > 0 {
		head := queue[0]
		v.WaitingOn = &head
	}
	return v
}

func (t *Tracker) observersLocked() []Observer {
	out := make([]Observer, 0, len(t.observers))
	for _, o := range t.observers {
		out = append(out, o)
	}
	return out
}
