package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/agentlink/internal/shared"
)

// MaxHistoryPerAgent bounds the history kept for one agent.
const MaxHistoryPerAgent = 500

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	historyMu sync.Mutex // Serializes history appends to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository. ":memory:" opens a
// private in-memory database.
func NewSQLite(dbPath string) (Repository, error) {
	var dsn string
	if dbPath == ":memory:" {
		dsn = "file::memory:?_pragma=busy_timeout(5000)"
	} else {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		// Open database with WAL mode for better concurrency.
		dsn = dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS drafts (
		agent_id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS input_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_input_history_agent ON input_history(agent_id, id);
	CREATE INDEX IF NOT EXISTS idx_input_history_created ON input_history(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetDraft retrieves the draft of an agent.
func (s *SQLiteStore) GetDraft(ctx context.Context, agentID string) (*Draft, error) {
	query := `SELECT agent_id, text, updated_at FROM drafts WHERE agent_id = ?`
	row := s.db.QueryRowContext(ctx, query, agentID)

	var draft Draft
	var updatedAt int64
	err := row.Scan(&draft.AgentID, &draft.Text, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan draft row: %w", err)
	}
	draft.UpdatedAt = time.UnixMilli(updatedAt)
	return &draft, nil
}

// SaveDraft creates or replaces the draft of an agent.
func (s *SQLiteStore) SaveDraft(ctx context.Context, draft *Draft) error {
	query := `
	INSERT INTO drafts (agent_id, text, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(agent_id) DO UPDATE SET
		text = excluded.text,
		updated_at = excluded.updated_at`

	updatedAt := draft.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "save draft", func() error {
		if _, err := s.db.ExecContext(ctx, query, draft.AgentID, draft.Text, updatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("upsert draft: %w", err)
		}
		return nil
	})
}

// DeleteDraft removes the draft of an agent.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) DeleteDraft(ctx context.Context, agentID string) error {
	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "delete draft", func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE agent_id = ?`, agentID); err != nil {
			return fmt.Errorf("delete draft: %w", err)
		}
		return nil
	})
}

// AppendHistory records submitted input and trims the agent's history to
// MaxHistoryPerAgent entries.
func (s *SQLiteStore) AppendHistory(ctx context.Context, agentID, text string) error {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "append history", func() error {
		return s.appendHistoryOnce(ctx, agentID, text)
	})
}

func (s *SQLiteStore) appendHistoryOnce(ctx context.Context, agentID, text string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Warn("failed to roll back history tx", "error", rbErr)
			}
		}
	}()

	var last string
	err = tx.QueryRowContext(ctx,
		`SELECT text FROM input_history WHERE agent_id = ? ORDER BY id DESC LIMIT 1`, agentID,
	).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = nil
	case err != nil:
		return fmt.Errorf("read last history entry: %w", err)
	case last == text:
		return tx.Commit()
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO input_history (agent_id, text, created_at) VALUES (?, ?, ?)`,
		agentID, text, time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		DELETE FROM input_history
		WHERE agent_id = ? AND id NOT IN (
			SELECT id FROM input_history WHERE agent_id = ? ORDER BY id DESC LIMIT ?
		)`, agentID, agentID, MaxHistoryPerAgent,
	); err != nil {
		return fmt.Errorf("trim history: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit history tx: %w", err)
	}
	return nil
}

// History returns up to limit entries for an agent, newest first.
func (s *SQLiteStore) History(ctx context.Context, agentID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 || limit > MaxHistoryPerAgent {
		limit = MaxHistoryPerAgent
	}
	query := `
		SELECT id, agent_id, text, created_at
		FROM input_history WHERE agent_id = ?
		ORDER BY id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close history rows", "error", closeErr)
		}
	}()

	entries := []HistoryEntry{}
	for rows.Next() {
		var e HistoryEntry
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// PruneHistory removes history entries older than ttl.
func (s *SQLiteStore) PruneHistory(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).UnixMilli()
	var deleted int64
	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "prune history", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM input_history WHERE created_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("prune history: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}
