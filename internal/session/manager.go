package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"

	"github.com/ashureev/agentlink/internal/agent"
	"github.com/ashureev/agentlink/internal/domain"
	"github.com/ashureev/agentlink/internal/metrics"
)

// DetachCallback is called after a session is detached.
type DetachCallback func(agentID string)

// Manager manages attached agents.
type Manager struct {
	client agent.Client
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	active   map[string]*Session
	onDetach []DetachCallback
}

// NewManager creates a manager that attaches through client.
func NewManager(client agent.Client, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		client: client,
		opts:   opts,
		logger: opts.Logger,
		active: make(map[string]*Session),
	}
}

// OnDetach registers a callback run after every detach.
func (m *Manager) OnDetach(cb DetachCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDetach = append(m.onDetach, cb)
}

// Attach attaches agentID starting at from. If the agent is already attached
// the existing session is returned and created is false.
func (m *Manager) Attach(agentID string, from domain.Cursor) (s *Session, created bool, err error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, false, fmt.Errorf("agent id is required: %w", errdefs.ErrInvalidArgument)
	}
	if from < domain.StartOfStream {
		return nil, false, fmt.Errorf("position %d is negative: %w", from, errdefs.ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.active[agentID]; ok {
		existing.Touch()
		return existing, false, nil
	}
	s = attach(agentID, m.client, from, m.opts)
	m.active[agentID] = s
	metrics.AttachedAgents.Inc()
	return s, true, nil
}

// Get returns the session of agentID.
func (m *Manager) Get(agentID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.active[agentID]
	if !ok {
		return nil, fmt.Errorf("agent %s is not attached: %w", agentID, errdefs.ErrNotFound)
	}
	return s, nil
}

// Detach stops the session of agentID and discards its state.
func (m *Manager) Detach(agentID string) error {
	m.mu.Lock()
	s, ok := m.active[agentID]
	if ok {
		delete(m.active, agentID)
	}
	callbacks := slices.Clone(m.onDetach)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("agent %s is not attached: %w", agentID, errdefs.ErrNotFound)
	}
	s.close()
	metrics.AttachedAgents.Dec()
	for _, cb := range callbacks {
		cb(agentID)
	}
	return nil
}

// List returns every attached session ordered by agent id.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.active))
	for _, s := range m.active {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.AgentID, b.AgentID) })
	return out
}

// Close detaches every session.
func (m *Manager) Close() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.Detach(id); err != nil {
			m.logger.Debug("Detach during close failed", "agent_id", id, "error", err)
		}
	}
}

// StartReaper runs a background goroutine that periodically detaches
// sessions idle for longer than ttl and without viewers.
func (m *Manager) StartReaper(ctx context.Context, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		m.logger.Info("Idle reaper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				m.reapIdle(ttl)
			case <-ctx.Done():
				m.logger.Info("Idle reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// reapIdle detaches expired sessions and returns their ids.
func (m *Manager) reapIdle(ttl time.Duration) []string {
	now := time.Now
	if m.opts.Now != nil {
		now = m.opts.Now
	}
	cutoff := now().Add(-ttl)

	m.mu.RLock()
	var expired []string
	for id, s := range m.active {
		if s.Viewers() == 0 && s.LastActive().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return nil
	}
	m.logger.Info("Idle reaper found expired sessions", "count", len(expired))

	for _, id := range expired {
		if err := m.Detach(id); err != nil {
			m.logger.Warn("Idle reaper failed to detach agent", "agent_id", id, "error", err)
		}
	}
	return expired
}
