package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "agentlink.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestDraftLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)

	draft, err := repo.GetDraft(ctx, "agent-1")
	require.NoError(t, err)
	assert.Nil(t, draft)

	at := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, repo.SaveDraft(ctx, &Draft{AgentID: "agent-1", Text: "half a thou", UpdatedAt: at}))
	require.NoError(t, repo.SaveDraft(ctx, &Draft{AgentID: "agent-1", Text: "half a thought", UpdatedAt: at}))

	draft, err = repo.GetDraft(ctx, "agent-1")
	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.Equal(t, "half a thought", draft.Text)
	assert.True(t, at.Equal(draft.UpdatedAt))

	require.NoError(t, repo.DeleteDraft(ctx, "agent-1"))
	draft, err = repo.GetDraft(ctx, "agent-1")
	require.NoError(t, err)
	assert.Nil(t, draft)
}

func TestHistoryNewestFirstWithoutRepeats(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)

	for _, line := range []string{"ls", "ls", "make", "ls"} {
		require.NoError(t, repo.AppendHistory(ctx, "agent-1", line))
	}
	require.NoError(t, repo.AppendHistory(ctx, "agent-2", "other"))

	entries, err := repo.History(ctx, "agent-1", 10)
	require.NoError(t, err)
	var texts []string
	for _, e := range entries {
		texts = append(texts, e.Text)
		assert.Equal(t, "agent-1", e.AgentID)
	}
	assert.Equal(t, []string{"ls", "make", "ls"}, texts)

	entries, err = repo.History(ctx, "agent-1", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ls", entries[0].Text)

	entries, err = repo.History(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestHistoryIsTrimmed(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)

	for i := range MaxHistoryPerAgent + 5 {
		require.NoError(t, repo.AppendHistory(ctx, "agent-1", fmt.Sprintf("cmd %d", i)))
	}
	entries, err := repo.History(ctx, "agent-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, MaxHistoryPerAgent)
	assert.Equal(t, fmt.Sprintf("cmd %d", MaxHistoryPerAgent+4), entries[0].Text)
}

func TestPruneHistory(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)
	require.NoError(t, repo.AppendHistory(ctx, "agent-1", "old"))

	deleted, err := repo.PruneHistory(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = repo.PruneHistory(ctx, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestInMemoryStore(t *testing.T) {
	repo, err := NewSQLite(":memory:")
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.Ping(context.Background()))
	require.NoError(t, repo.AppendHistory(context.Background(), "a", "x"))
	entries, err := repo.History(context.Background(), "a", 5)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
