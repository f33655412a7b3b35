// Package store provides caller-local persistence for drafts and input
// history. The conversation state itself is never persisted.
package store

import (
	"context"
	"time"
)

// Draft is unsent input for an agent.
type Draft struct {
	AgentID   string    `json:"agentId"`
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HistoryEntry is one line of submitted input.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	AgentID   string    `json:"agentId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Repository defines the interface for persisting drafts and input history.
type Repository interface {
	// GetDraft retrieves the draft of an agent, or nil if there is none.
	GetDraft(ctx context.Context, agentID string) (*Draft, error)

	// SaveDraft creates or replaces the draft of an agent.
	SaveDraft(ctx context.Context, draft *Draft) error

	// DeleteDraft removes the draft of an agent.
	DeleteDraft(ctx context.Context, agentID string) error

	// AppendHistory records submitted input. A line equal to the most
	// recent one is not recorded again.
	AppendHistory(ctx context.Context, agentID, text string) error

	// History returns up to limit entries for an agent, newest first.
	History(ctx context.Context, agentID string, limit int) ([]HistoryEntry, error)

	// PruneHistory removes history entries older than ttl.
	PruneHistory(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
