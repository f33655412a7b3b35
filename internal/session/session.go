// Package session manages attachments to remote agents.
//
// A Session owns the reconstructed state of one agent: its conversation
// log, its execution state and its question coordinator. Two resumable
// subscriptions feed it for as long as it is attached.
package session

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ashureev/agentlink/internal/agent"
	"github.com/ashureev/agentlink/internal/conversation"
	"github.com/ashureev/agentlink/internal/domain"
	"github.com/ashureev/agentlink/internal/execstate"
	"github.com/ashureev/agentlink/internal/question"
	"github.com/ashureev/agentlink/internal/stream"
)

// Options configures sessions created by a Manager.
type Options struct {
	Backoff stream.Backoff
	Logger  *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// ResponseRate limits response submissions per agent. Zero disables it.
	ResponseRate  rate.Limit
	ResponseBurst int
}

// Info summarizes a session for listings.
type Info struct {
	AgentID     string        `json:"agentId"`
	AttachedAt  time.Time     `json:"attachedAt"`
	LastActive  time.Time     `json:"lastActive"`
	Cursor      domain.Cursor `json:"cursor"`
	Entries     int           `json:"entries"`
	Pending     int           `json:"pending"`
	Viewers     int           `json:"viewers"`
	Disconnects int64         `json:"disconnects"`
}

// Session is one attached agent.
type Session struct {
	agentID      string
	conversation *conversation.State
	tracker      *execstate.Tracker
	questions    *question.Coordinator
	logger       *slog.Logger
	now          func() time.Time

	attachedAt  time.Time
	lastActive  atomic.Int64
	viewers     atomic.Int32
	disconnects atomic.Int64

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// attach creates a session and starts its subscriptions.
func attach(agentID string, client agent.Client, from domain.Cursor, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("agent_id", agentID)
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Session{
		agentID:      agentID,
		conversation: conversation.NewState(from, logger),
		tracker:      execstate.NewTracker(logger),
		logger:       logger,
		now:          now,
		attachedAt:   now(),
		done:         make(chan struct{}),
	}
	s.Touch()

	var limiter *rate.Limiter
	if opts.ResponseRate > 0 {
		burst := opts.ResponseBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(opts.ResponseRate, burst)
	}
	s.questions = question.NewCoordinator(agentID, client, question.Options{
		Logger:      logger,
		Now:         now,
		Limiter:     limiter,
		OnSubmitted: s.tracker.Dismiss,
	})

	s.conversation.AddObserver(func(c conversation.Change) {
		s.questions.Observe(c.Events)
		for _, ev := range c.Events {
			if ev.Type == domain.EventQuestionResponse {
				s.tracker.Dismiss(ev.RequestID)
			}
		}
	})

	events := &stream.Subscription[*domain.Batch]{
		Name:    "events",
		AgentID: agentID,
		Open: func(ctx context.Context, cursor domain.Cursor) iter.Seq2[*domain.Batch, error] {
			return client.StreamEvents(ctx, agentID, cursor)
		},
		Apply: func(b *domain.Batch) (domain.Cursor, error) {
			if b == nil {
				return s.conversation.Cursor(), nil
			}
			return s.conversation.Apply(*b)
		},
		Backoff:      opts.Backoff,
		Logger:       logger,
		OnDisconnect: s.onDisconnect,
	}
	state := &stream.Subscription[*domain.ExecutionState]{
		Name:    "state",
		AgentID: agentID,
		Open: func(ctx context.Context, _ domain.Cursor) iter.Seq2[*domain.ExecutionState, error] {
			return client.StreamExecutionState(ctx, agentID)
		},
		Apply: func(st *domain.ExecutionState) (domain.Cursor, error) {
			if st == nil {
				return domain.StartOfStream, nil
			}
			for _, req := range st.WaitingOn {
				s.questions.Offer(req)
			}
			s.tracker.Apply(*st)
			return domain.StartOfStream, nil
		},
		Backoff:      opts.Backoff,
		Logger:       logger,
		OnDisconnect: s.onDisconnect,
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = events.Run(ctx, from)
	}()
	go func() {
		defer wg.Done()
		_ = state.Run(ctx, domain.StartOfStream)
	}()
	go func() {
		wg.Wait()
		close(s.done)
	}()

	logger.Info("Agent attached", "from", from)
	return s
}

func (s *Session) onDisconnect(error) {
	s.disconnects.Add(1)
}

// AgentID returns the id of the attached agent.
func (s *Session) AgentID() string { return s.agentID }

// Conversation returns the conversation log.
func (s *Session) Conversation() *conversation.State { return s.conversation }

// Tracker returns the execution state tracker.
func (s *Session) Tracker() *execstate.Tracker { return s.tracker }

// Questions returns the question coordinator.
func (s *Session) Questions() *question.Coordinator { return s.questions }

// Submit answers a pending question.
func (s *Session) Submit(ctx context.Context, requestID string, result json.RawMessage) error {
	s.Touch()
	return s.questions.Submit(ctx, requestID, result)
}

// Cancel answers a pending question with null.
func (s *Session) Cancel(ctx context.Context, requestID string) error {
	s.Touch()
	return s.questions.Cancel(ctx, requestID)
}

// Touch marks the session as used now.
func (s *Session) Touch() {
	s.lastActive.Store(s.now().UnixNano())
}

// LastActive returns the last time the session was used.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Retain registers a live viewer. Sessions with viewers are never reaped.
func (s *Session) Retain() {
	s.viewers.Add(1)
	s.Touch()
}

// Release unregisters a viewer added with Retain.
func (s *Session) Release() {
	s.viewers.Add(-1)
	s.Touch()
}

// Viewers returns the number of live viewers.
func (s *Session) Viewers() int {
	return int(s.viewers.Load())
}

// Info returns a summary of the session.
func (s *Session) Info() Info {
	return Info{
		AgentID:     s.agentID,
		AttachedAt:  s.attachedAt,
		LastActive:  s.LastActive(),
		Cursor:      s.conversation.Cursor(),
		Entries:     s.conversation.Len(),
		Pending:     s.tracker.View().Pending,
		Viewers:     s.Viewers(),
		Disconnects: s.disconnects.Load(),
	}
}

// Done is closed once both subscriptions have stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// close stops the subscriptions and waits for them.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.logger.Info("Agent detached", "cursor", s.conversation.Cursor())
	})
}
