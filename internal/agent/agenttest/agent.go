// Package agenttest provides an in-memory agent for tests.
package agenttest

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/ashureev/agentlink/internal/agent"
	"github.com/ashureev/agentlink/internal/domain"
)

// ErrDisconnected is yielded by open streams when Disconnect is called.
var ErrDisconnected = errors.New("agenttest: disconnected")

// Agent is a scriptable in-memory agent. Every Publish call becomes one
// batch whose position is the number of batches published so far.
type Agent struct {
	mu        sync.Mutex
	batches   []domain.Batch
	state     *domain.ExecutionState
	changed   chan struct{}
	dropped   chan struct{}
	responses []domain.Response
	sendErr   error
	echo      bool
	opens     []domain.Cursor
	closed    bool
}

// Ensure Agent implements agent.Client.
var _ agent.Client = (*Agent)(nil)

// New returns an agent with an empty log that echoes responses into its log.
func New() *Agent {
	return &Agent{
		changed: make(chan struct{}),
		dropped: make(chan struct{}),
		echo:    true,
	}
}

// SetEcho controls whether SendResponse publishes a question.response event.
func (a *Agent) SetEcho(echo bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.echo = echo
}

// Publish appends one batch and returns its position.
func (a *Agent) Publish(events ...domain.Event) domain.Cursor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.publishLocked(events)
}

func (a *Agent) publishLocked(events []domain.Event) domain.Cursor {
	pos := domain.Cursor(len(a.batches) + 1)
	a.batches = append(a.batches, domain.Batch{Events: events, Position: pos})
	a.notifyLocked()
	return pos
}

// SetState replaces the current execution state.
func (a *Agent) SetState(st domain.ExecutionState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = &st
	a.notifyLocked()
}

// FailResponses makes SendResponse return err until called with nil.
func (a *Agent) FailResponses(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sendErr = err
}

// Disconnect ends every open stream with ErrDisconnected.
func (a *Agent) Disconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	close(a.dropped)
	a.dropped = make(chan struct{})
}

// Responses returns the responses received so far.
func (a *Agent) Responses() []domain.Response {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.Response, len(a.responses))
	copy(out, a.responses)
	return out
}

// Opens returns the cursor of every StreamEvents call so far.
func (a *Agent) Opens() []domain.Cursor {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.Cursor, len(a.opens))
	copy(out, a.opens)
	return out
}

func (a *Agent) notifyLocked() {
	close(a.changed)
	a.changed = make(chan struct{})
}

// StreamEvents yields every batch after from and then waits for more.
func (a *Agent) StreamEvents(ctx context.Context, agentID string, from domain.Cursor) iter.Seq2[*domain.Batch, error] {
	return func(yield func(*domain.Batch, error) bool) {
		a.mu.Lock()
		a.opens = append(a.opens, from)
		a.mu.Unlock()

		next := int(from)
		for {
			a.mu.Lock()
			pending := a.batches[min(next, len(a.batches)):]
			changed, dropped := a.changed, a.dropped
			a.mu.Unlock()

			for _, b := range pending {
				if !yield(&b, nil) {
					return
				}
				next = int(b.Position)
			}

			select {
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			case <-dropped:
				yield(nil, ErrDisconnected)
				return
			case <-changed:
			}
		}
	}
}

// StreamExecutionState yields the current state, if any, and every change.
func (a *Agent) StreamExecutionState(ctx context.Context, agentID string) iter.Seq2[*domain.ExecutionState, error] {
	return func(yield func(*domain.ExecutionState, error) bool) {
		var last *domain.ExecutionState
		for {
			a.mu.Lock()
			current := a.state
			changed, dropped := a.changed, a.dropped
			a.mu.Unlock()

			if current != nil && current != last {
				st := *current
				if !yield(&st, nil) {
					return
				}
				last = current
			}

			select {
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			case <-dropped:
				yield(nil, ErrDisconnected)
				return
			case <-changed:
			}
		}
	}
}

// SendResponse records resp. When echo is on, the response also shows up in
// the event log and the request is dropped from the waiting list, as a real
// agent would do.
func (a *Agent) SendResponse(ctx context.Context, agentID string, resp domain.Response) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return a.sendErr
	}
	a.responses = append(a.responses, resp)
	if !a.echo {
		return nil
	}

	result, err := json.Marshal(resp.Result)
	if err != nil {
		return err
	}
	a.publishLocked([]domain.Event{{
		Type:      domain.EventQuestionResponse,
		Timestamp: time.Now().UnixMilli(),
		RequestID: resp.RequestID,
		Result:    result,
	}})
	if a.state != nil {
		st := *a.state
		st.WaitingOn = nil
		for _, q := range a.state.WaitingOn {
			if q.RequestID != resp.RequestID {
				st.WaitingOn = append(st.WaitingOn, q)
			}
		}
		a.state = &st
	}
	return nil
}

// Close marks the agent closed.
func (a *Agent) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}

// Closed reports whether Close was called.
func (a *Agent) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
