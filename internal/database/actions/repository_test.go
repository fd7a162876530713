package actions

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/shelfsync/internal/database"
	"github.com/mrlokans/shelfsync/internal/entities"
)

func setupTestDB(t *testing.T) *Repository {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "actions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db)
}

func newAction(id string, status entities.ActionStatus, priority int, enqueued time.Time, seq int64) entities.QueuedAction {
	return entities.QueuedAction{
		ID:         id,
		Type:       entities.ActionUpdateProgress,
		Payload:    []byte(`{"book_id":"b1","page":1}`),
		AnchorKey:  "progress:b1",
		Status:     status,
		Priority:   priority,
		EnqueuedAt: enqueued,
		Sequence:   seq,
		MaxRetries: 3,
	}
}

func TestRepository_ListByStatusUsesReplayOrder(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	for _, a := range []entities.QueuedAction{
		newAction("low-old", entities.ActionStatusPending, 1, base, 1),
		newAction("high-new", entities.ActionStatusPending, 9, base.Add(time.Minute), 2),
		newAction("low-tie-b", entities.ActionStatusPending, 1, base.Add(time.Second), 4),
		newAction("low-tie-a", entities.ActionStatusPending, 1, base.Add(time.Second), 3),
		newAction("failed", entities.ActionStatusFailed, 5, base, 5),
	} {
		_, err := repo.Insert(ctx, a)
		require.NoError(t, err)
	}

	pending, err := repo.ListByStatus(ctx, entities.ActionStatusPending)
	require.NoError(t, err)

	var ids []string
	for _, a := range pending {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"high-new", "low-old", "low-tie-a", "low-tie-b"}, ids)

	both, err := repo.ListByStatus(ctx, entities.ActionStatusPending, entities.ActionStatusFailed)
	require.NoError(t, err)
	assert.Len(t, both, 5)
	assert.Equal(t, "high-new", both[0].ID)
	assert.Equal(t, "failed", both[1].ID)

	all, err := repo.ListByStatus(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestRepository_RetryableAndExhausted(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	retryable := newAction("r", entities.ActionStatusFailed, 5, now, 1)
	retryable.RetryCount = 1
	exhausted := newAction("x", entities.ActionStatusFailed, 5, now, 2)
	exhausted.RetryCount = 3

	for _, a := range []entities.QueuedAction{retryable, exhausted} {
		_, err := repo.Insert(ctx, a)
		require.NoError(t, err)
	}

	list, err := repo.ListRetryable(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "r", list[0].ID)

	n, err := repo.CountPermanentlyFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[entities.ActionStatusFailed])
	assert.Equal(t, int64(0), counts[entities.ActionStatusPending])
}

func TestRepository_TransitionWithClaimableGuard(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	exhausted := newAction("x", entities.ActionStatusFailed, 5, now, 1)
	exhausted.RetryCount = 3
	for _, a := range []entities.QueuedAction{
		newAction("p", entities.ActionStatusPending, 5, now, 2),
		exhausted,
	} {
		_, err := repo.Insert(ctx, a)
		require.NoError(t, err)
	}

	toSyncing := map[string]any{"status": entities.ActionStatusSyncing}

	changed, err := repo.Transition(ctx, "p", toSyncing, Claimable)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.Transition(ctx, "p", toSyncing, Claimable)
	require.NoError(t, err)
	assert.False(t, changed, "syncing is not claimable twice")

	changed, err = repo.Transition(ctx, "x", toSyncing, Claimable)
	require.NoError(t, err)
	assert.False(t, changed, "exhausted actions stay put")

	got, err := repo.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, entities.ActionStatusSyncing, got.Status)
}

func TestRepository_DeleteIfAndByStatus(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, a := range []entities.QueuedAction{
		newAction("p", entities.ActionStatusPending, 5, now, 1),
		newAction("f", entities.ActionStatusFailed, 5, now, 2),
		newAction("c", entities.ActionStatusCompleted, 5, now, 3),
	} {
		_, err := repo.Insert(ctx, a)
		require.NoError(t, err)
	}

	removed, err := repo.DeleteIf(ctx, "p", StatusIn(entities.ActionStatusFailed))
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = repo.DeleteIf(ctx, "f", StatusIn(entities.ActionStatusFailed))
	require.NoError(t, err)
	assert.True(t, removed)

	n, err := repo.DeleteByStatus(ctx, entities.ActionStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	remaining, err := repo.ListByStatus(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "p", remaining[0].ID)

	removed, err = repo.Delete(ctx, "p")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = repo.Delete(ctx, "p")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRepository_ListByAnchorAndMaxSequence(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	seq, err := repo.MaxSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)

	now := time.Now().UTC()
	other := newAction("other", entities.ActionStatusPending, 5, now, 42)
	other.AnchorKey = "progress:b2"
	for _, a := range []entities.QueuedAction{
		newAction("a1", entities.ActionStatusPending, 5, now, 7),
		newAction("a2", entities.ActionStatusPending, 5, now, 8),
		other,
	} {
		_, err := repo.Insert(ctx, a)
		require.NoError(t, err)
	}

	anchored, err := repo.ListByAnchor(ctx, "progress:b1")
	require.NoError(t, err)
	require.Len(t, anchored, 2)
	assert.Equal(t, "a1", anchored[0].ID)

	seq, err = repo.MaxSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)
}
