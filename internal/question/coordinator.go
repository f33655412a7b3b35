package question

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"golang.org/x/time/rate"

	"github.com/ashureev/agentlink/internal/domain"
	"github.com/ashureev/agentlink/internal/metrics"
)

// Status is the local state of a question request.
type Status string

const (
	// StatusPending means no response has been sent or observed.
	StatusPending Status = "pending"
	// StatusSubmitting means a response call is in flight.
	StatusSubmitting Status = "submitting"
	// StatusSubmitted means the agent acknowledged our response.
	StatusSubmitted Status = "submitted"
	// StatusAnswered means a question.response was observed in the log.
	StatusAnswered Status = "answered"
)

// Open reports whether a response may still be sent.
func (s Status) Open() bool { return s == StatusPending }

// Sender delivers a response to the agent.
type Sender interface {
	SendResponse(ctx context.Context, agentID string, resp domain.Response) error
}

// Request is a question request together with its local status.
type Request struct {
	domain.QuestionRequest
	Status   Status          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
	// Deadline is the auto-submit deadline in unix milliseconds and
	// Remaining the whole seconds left at the time of the read. Both are
	// unset when auto-submit is disabled.
	Deadline  int64 `json:"deadline,omitempty"`
	Remaining *int  `json:"remaining,omitempty"`
}

// Options configures a Coordinator.
type Options struct {
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// Limiter, if set, bounds the rate of response calls.
	Limiter *rate.Limiter
	// OnSubmitted is called after the agent acknowledged a response.
	OnSubmitted func(requestID string)
}

type request struct {
	req      domain.QuestionRequest
	status   Status
	response json.RawMessage
}

// Coordinator pairs question requests with at most one response each.
type Coordinator struct {
	agentID string
	sender  Sender
	opts    Options
	logger  *slog.Logger

	mu       sync.RWMutex
	requests map[string]*request
	order    []string
	orphans  []domain.Event
}

// NewCoordinator creates a coordinator for one agent.
func NewCoordinator(agentID string, sender Sender, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		agentID:  agentID,
		sender:   sender,
		opts:     opts,
		logger:   opts.Logger.With("agent_id", agentID),
		requests: make(map[string]*request),
	}
}

// Offer registers a pending request. Requests already known are left as is.
func (c *Coordinator) Offer(req domain.QuestionRequest) {
	if req.RequestID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offerLocked(req)
}

func (c *Coordinator) offerLocked(req domain.QuestionRequest) {
	if _, ok := c.requests[req.RequestID]; ok {
		return
	}
	c.requests[req.RequestID] = &request{req: req, status: StatusPending}
	c.order = append(c.order, req.RequestID)
}

// Observe records question.request and question.response events from the
// conversation log. A response without a known request is kept as an orphan.
func (c *Coordinator) Observe(events []domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range events {
		switch ev.Type {
		case domain.EventQuestionRequest:
			if req, ok := ev.QuestionRequest(); ok {
				c.offerLocked(req)
			}
		case domain.EventQuestionResponse:
			r, ok := c.requests[ev.RequestID]
			if !ok {
				c.logger.Warn("Response without matching request", "request_id", ev.RequestID)
				c.orphans = append(c.orphans, ev)
				continue
			}
			r.status = StatusAnswered
			r.response = ev.Result
		}
	}
}

// Get returns a request by id.
func (c *Coordinator) Get(requestID string) (Request, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.requests[requestID]
	if !ok {
		return Request{}, fmt.Errorf("question %s: %w", requestID, errdefs.ErrNotFound)
	}
	return r.export(c.opts.Now), nil
}

// List returns every known request in first-seen order.
func (c *Coordinator) List() []Request {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Request, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.requests[id].export(c.opts.Now))
	}
	return out
}

// Pending returns requests that may still be answered, in first-seen order.
func (c *Coordinator) Pending() []Request {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Request
	for _, id := range c.order {
		if r := c.requests[id]; r.status.Open() {
			out = append(out, r.export(c.opts.Now))
		}
	}
	return out
}

// Orphans returns responses that matched no known request.
func (c *Coordinator) Orphans() []domain.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Event, len(c.orphans))
	copy(out, c.orphans)
	return out
}

// Countdown returns the auto-submit countdown of a request.
func (c *Coordinator) Countdown(requestID string) (Countdown, error) {
	r, err := c.Get(requestID)
	if err != nil {
		return Countdown{}, err
	}
	return NewCountdown(r.QuestionRequest, c.opts.Now), nil
}

// Submit validates result and sends it as the response to requestID.
// Validation failures return a *ValidationError and send nothing. A failed
// call leaves the request pending so it can be retried.
func (c *Coordinator) Submit(ctx context.Context, requestID string, result json.RawMessage) error {
	return c.respond(ctx, requestID, result, false)
}

// Cancel sends a null response to requestID.
func (c *Coordinator) Cancel(ctx context.Context, requestID string) error {
	return c.respond(ctx, requestID, nil, true)
}

func (c *Coordinator) respond(ctx context.Context, requestID string, raw json.RawMessage, cancel bool) error {
	r, err := c.Get(requestID)
	if err != nil {
		return err
	}
	if !r.Status.Open() {
		metrics.QuestionResponses.WithLabelValues("duplicate").Inc()
		return fmt.Errorf("question %s is %s: %w", requestID, r.Status, errdefs.ErrConflict)
	}

	var result any
	if !cancel {
		result, err = Validate(r.Question, raw)
		if err != nil {
			metrics.QuestionResponses.WithLabelValues("invalid").Inc()
			return err
		}
	}

	if l := c.opts.Limiter; l != nil && !l.Allow() {
		metrics.QuestionResponses.WithLabelValues("limited").Inc()
		return fmt.Errorf("question %s: too many responses: %w", requestID, errdefs.ErrResourceExhausted)
	}

	resp := domain.NewResponse(requestID, result, c.opts.Now())
	encoded, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	if err := c.transition(requestID, StatusPending, StatusSubmitting, nil); err != nil {
		metrics.QuestionResponses.WithLabelValues("duplicate").Inc()
		return err
	}

	if err := c.sender.SendResponse(ctx, c.agentID, resp); err != nil {
		_ = c.transition(requestID, StatusSubmitting, StatusPending, nil)
		metrics.QuestionResponses.WithLabelValues("failed").Inc()
		c.logger.Warn("Failed to send response", "request_id", requestID, "error", err)
		return fmt.Errorf("send response for %s: %w", requestID, errors.Join(errdefs.ErrUnavailable, err))
	}

	_ = c.transition(requestID, StatusSubmitting, StatusSubmitted, encoded)
	metrics.QuestionResponses.WithLabelValues("sent").Inc()
	c.logger.Info("Response sent", "request_id", requestID, "cancelled", result == nil)
	if c.opts.OnSubmitted != nil {
		c.opts.OnSubmitted(requestID)
	}
	return nil
}

// transition moves a request from one status to another. It fails with a
// conflict if the request is no longer in the expected status, which also
// covers a question.response observed while a call was in flight.
func (c *Coordinator) transition(requestID string, from, to Status, response json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.requests[requestID]
	if !ok {
		return fmt.Errorf("question %s: %w", requestID, errdefs.ErrNotFound)
	}
	if r.status != from {
		return fmt.Errorf("question %s is %s: %w", requestID, r.status, errdefs.ErrConflict)
	}
	r.status = to
	if response != nil {
		r.response = response
	}
	return nil
}

func (r *request) export(now func() time.Time) Request {
	out := Request{
		QuestionRequest: r.req,
		Status:          r.status,
		Response:        r.response,
	}
	if cd := NewCountdown(r.req, now); cd.Enabled() {
		left := cd.Remaining()
		out.Deadline = cd.Deadline().UnixMilli()
		out.Remaining = &left
	}
	return out
}
