package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/shelfsync/internal/database"
	"github.com/mrlokans/shelfsync/internal/entities"
	"github.com/mrlokans/shelfsync/internal/errs"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func setupQueue(t *testing.T) (*Queue, *fakeClock, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	db, err := database.NewDatabase(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	return New(db, Config{MaxRetries: 3, Now: clock.Now}), clock, path
}

func progress(book string, page int) map[string]any {
	return map[string]any{"book_id": book, "page": page}
}

func TestQueue_EnqueueDefaults(t *testing.T) {
	q, clock, _ := setupQueue(t)
	ctx := context.Background()

	action, err := q.Enqueue(ctx, entities.ActionUpdateProgress, progress("b1", 42), Options{})
	require.NoError(t, err)

	assert.NotEmpty(t, action.ID)
	assert.Equal(t, entities.ActionStatusPending, action.Status)
	assert.Equal(t, 5, action.Priority)
	assert.Equal(t, 3, action.MaxRetries)
	assert.Equal(t, 0, action.RetryCount)
	assert.Equal(t, "progress:b1", action.AnchorKey)
	assert.Equal(t, clock.t, action.EnqueuedAt)
	assert.Contains(t, string(action.Payload), `"updated_at":"2024-05-01T09:00:00Z"`)

	stored, err := q.Get(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, action.ID, stored.ID)
}

func TestQueue_EnqueueValidation(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		typ     entities.ActionType
		payload any
		opts    Options
	}{
		{"unknown type", "rename_book", progress("b1", 1), Options{}},
		{"priority too high", entities.ActionUpdateProgress, progress("b1", 1), Options{Priority: 11}},
		{"priority negative", entities.ActionUpdateProgress, progress("b1", 1), Options{Priority: -1}},
		{"negative retries", entities.ActionUpdateProgress, progress("b1", 1), Options{MaxRetries: -2}},
		{"nil payload", entities.ActionUpdateProgress, nil, Options{}},
		{"invalid payload", entities.ActionCreateNote, map[string]any{"note_id": "n1"}, Options{}},
		{"malformed json", entities.ActionDeleteNote, []byte(`{`), Options{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := q.Enqueue(ctx, tt.typ, tt.payload, tt.opts)
			assert.True(t, errors.Is(err, errs.ErrInvalidInput), "got %v", err)
		})
	}

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Total())
}

func TestQueue_ListPendingOrder(t *testing.T) {
	q, clock, _ := setupQueue(t)
	ctx := context.Background()

	create, err := q.Enqueue(ctx, entities.ActionCreateNote,
		map[string]any{"note_id": "n1", "book_id": "b1", "content": "first"}, Options{})
	require.NoError(t, err)
	// Same clock reading: insertion order must still hold
	update, err := q.Enqueue(ctx, entities.ActionUpdateNote,
		map[string]any{"note_id": "n1", "content": "second"}, Options{})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	urgent, err := q.Enqueue(ctx, entities.ActionUpdateBookmark,
		map[string]any{"book_id": "b1", "position": "p1"}, Options{Priority: 9})
	require.NoError(t, err)

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, urgent.ID, pending[0].ID)
	assert.Equal(t, create.ID, pending[1].ID)
	assert.Equal(t, update.ID, pending[2].ID)
	assert.Less(t, pending[1].Sequence, pending[2].Sequence)
}

func TestQueue_SurvivesRestart(t *testing.T) {
	q, _, path := setupQueue(t)
	ctx := context.Background()

	action, err := q.Enqueue(ctx, entities.ActionDeleteHighlight, map[string]any{"highlight_id": "h1"}, Options{})
	require.NoError(t, err)

	reopened, err := database.NewDatabase(path)
	require.NoError(t, err)
	defer reopened.Close()

	q2 := New(reopened, Config{})
	pending, err := q2.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, action.ID, pending[0].ID)
	assert.Equal(t, action.Payload.String(), pending[0].Payload.String())

	next, err := q2.Enqueue(ctx, entities.ActionDeleteHighlight, map[string]any{"highlight_id": "h2"}, Options{})
	require.NoError(t, err)
	assert.Greater(t, next.Sequence, action.Sequence)
}

func TestQueue_CompletionIsIdempotent(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	action, err := q.Enqueue(ctx, entities.ActionUpdateProgress, progress("b1", 1), Options{})
	require.NoError(t, err)

	var completed int
	q.OnChange(func(e Event) {
		if e.Kind == EventCompleted {
			completed++
		}
	})

	require.NoError(t, q.MarkSyncing(ctx, action.ID))
	require.NoError(t, q.MarkCompleted(ctx, action.ID))
	require.NoError(t, q.MarkCompleted(ctx, action.ID))

	_, err = q.Get(ctx, action.ID)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	assert.Equal(t, 1, completed)
}

func TestQueue_RetryExhaustion(t *testing.T) {
	q, clock, _ := setupQueue(t)
	ctx := context.Background()

	action, err := q.Enqueue(ctx, entities.ActionUpdateProgress, progress("b1", 1), Options{MaxRetries: 3})
	require.NoError(t, err)

	var notified []PermanentFailure
	unsubscribe := q.OnPermanentFailure(func(f PermanentFailure) { notified = append(notified, f) })
	defer unsubscribe()

	for i := 1; i <= 3; i++ {
		require.NoError(t, q.MarkSyncing(ctx, action.ID))
		clock.Advance(time.Second)
		require.NoError(t, q.MarkFailed(ctx, action.ID, errors.New("503 from remote")))

		got, err := q.Get(ctx, action.ID)
		require.NoError(t, err)
		assert.Equal(t, i, got.RetryCount)
		assert.Equal(t, "503 from remote", got.LastError)
		require.NotNil(t, got.LastAttemptAt)
	}

	require.Len(t, notified, 1)
	assert.Equal(t, action.ID, notified[0].Action.ID)
	assert.True(t, errors.Is(notified[0].Err, errs.ErrPermanentActionFailure))

	retryable, err := q.ListRetryable(ctx)
	require.NoError(t, err)
	assert.Empty(t, retryable)

	err = q.MarkSyncing(ctx, action.ID)
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.PermanentlyFailed)
	assert.Len(t, notified, 1)
}

func TestQueue_InvalidTransitions(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	action, err := q.Enqueue(ctx, entities.ActionUpdateProgress, progress("b1", 1), Options{})
	require.NoError(t, err)

	err = q.MarkFailed(ctx, action.ID, errors.New("boom"))
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition), "pending cannot fail")

	require.NoError(t, q.MarkSyncing(ctx, action.ID))
	err = q.MarkSyncing(ctx, action.ID)
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition), "syncing cannot be claimed twice")

	err = q.MarkSyncing(ctx, "missing")
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	err = q.MarkFailed(ctx, "missing", errors.New("boom"))
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestQueue_RetryAndDismiss(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	failOnce := func(id string) {
		require.NoError(t, q.MarkSyncing(ctx, id))
		require.NoError(t, q.MarkFailed(ctx, id, errors.New("boom")))
	}

	a, err := q.Enqueue(ctx, entities.ActionUpdateProgress, progress("b1", 1), Options{MaxRetries: 1})
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, entities.ActionUpdateProgress, progress("b2", 1), Options{MaxRetries: 1})
	require.NoError(t, err)
	failOnce(a.ID)
	failOnce(b.ID)

	retried, err := q.Retry(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.ActionStatusPending, retried.Status)
	assert.Equal(t, 0, retried.RetryCount)
	assert.Empty(t, retried.LastError)
	assert.Nil(t, retried.LastAttemptAt)

	_, err = q.Retry(ctx, a.ID)
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition), "pending cannot be retried")

	require.NoError(t, q.Dismiss(ctx, b.ID))
	_, err = q.Get(ctx, b.ID)
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	err = q.Dismiss(ctx, a.ID)
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition), "only failed actions can be dismissed")

	err = q.Dismiss(ctx, "missing")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestQueue_ClearCompleted(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	_, err := q.repo.Insert(ctx, entities.QueuedAction{
		Type:       entities.ActionDeleteNote,
		Payload:    []byte(`{"note_id":"n1"}`),
		Status:     entities.ActionStatusCompleted,
		EnqueuedAt: time.Now().UTC(),
		MaxRetries: 3,
	})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, entities.ActionDeleteNote, map[string]any{"note_id": "n2"}, Options{})
	require.NoError(t, err)

	n, err := q.ClearCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	all, err := q.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, entities.ActionStatusPending, all[0].Status)

	_, err = q.List(ctx, "archived")
	assert.True(t, errors.Is(err, errs.ErrInvalidInput))
}

func TestQueue_OnChangeUnsubscribe(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	var kinds []EventKind
	unsubscribe := q.OnChange(func(e Event) { kinds = append(kinds, e.Kind) })

	a, err := q.Enqueue(ctx, entities.ActionUpdateProgress, progress("b1", 1), Options{})
	require.NoError(t, err)
	require.NoError(t, q.MarkSyncing(ctx, a.ID))
	require.NoError(t, q.MarkFailed(ctx, a.ID, errors.New("boom")))

	unsubscribe()
	_, err = q.Enqueue(ctx, entities.ActionUpdateProgress, progress("b2", 1), Options{})
	require.NoError(t, err)

	assert.Equal(t, []EventKind{EventEnqueued, EventFailed}, kinds)
}

func TestQueue_ClaimableAfterFailure(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	a, err := q.Enqueue(ctx, entities.ActionUpdateProgress, progress("b1", 1), Options{})
	require.NoError(t, err)
	require.NoError(t, q.MarkSyncing(ctx, a.ID))
	require.NoError(t, q.MarkFailed(ctx, a.ID, errors.New("timeout")))

	retryable, err := q.ListRetryable(ctx)
	require.NoError(t, err)
	require.Len(t, retryable, 1)

	require.NoError(t, q.MarkSyncing(ctx, a.ID))
	syncing, err := q.ListSyncing(ctx)
	require.NoError(t, err)
	require.Len(t, syncing, 1)
	assert.Equal(t, 1, syncing[0].RetryCount)

	failed, err := q.ListFailed(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)

	n, err := q.repo.CountPermanentlyFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestQueue_ConcurrentEnqueue(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()
	const callers = 50

	var wg sync.WaitGroup
	errCh := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := q.Enqueue(ctx, entities.ActionUpdateProgress, progress(fmt.Sprintf("b%d", i), i+1), Options{})
			errCh <- err
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(callers), stats.Pending)

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, callers)
	seen := make(map[int64]bool, callers)
	for i, a := range pending {
		assert.False(t, seen[a.Sequence], "sequence %d reused", a.Sequence)
		seen[a.Sequence] = true
		if i > 0 {
			assert.Greater(t, a.Sequence, pending[i-1].Sequence)
		}
	}
}
