// Package actions provides durable storage for the action queue.
//
// Records live in the "sync_queue" partition, indexed by status, type and
// anchor key. Status changes go through Transition, which only applies
// when the stored status still matches the caller's expectation.
//
// # Usage
//
//	repo := actions.NewRepository(db)
//	pending, err := repo.ListByStatus(ctx, entities.ActionStatusPending)
package actions

import (
	"context"

	"gorm.io/gorm"

	"github.com/mrlokans/shelfsync/internal/database"
	"github.com/mrlokans/shelfsync/internal/entities"
)

// QueueOrder is the replay order: priority tier first, then age, then
// insertion sequence.
const QueueOrder = "priority DESC, enqueued_at ASC, sequence ASC"

var partition = database.Partition{
	KeyColumn: "id",
	Indexes: map[string]string{
		"status": "status",
		"type":   "type",
		"anchor": "anchor_key",
	},
	Order: QueueOrder,
}

// Repository handles all queued action database operations.
type Repository struct {
	store *database.Store[entities.QueuedAction]
}

// NewRepository creates a new actions repository.
func NewRepository(db *database.Database) *Repository {
	return &Repository{store: database.NewStore[entities.QueuedAction](db, partition)}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx *database.Database) *Repository {
	return &Repository{store: r.store.WithTx(tx)}
}

// Insert stores a new action.
func (r *Repository) Insert(ctx context.Context, action entities.QueuedAction) (string, error) {
	return r.store.Put(ctx, action)
}

// Get retrieves an action by ID.
func (r *Repository) Get(ctx context.Context, id string) (*entities.QueuedAction, error) {
	return r.store.Get(ctx, id)
}

// ListByStatus returns actions in any of the given statuses in replay order.
// With no statuses it returns the whole queue.
func (r *Repository) ListByStatus(ctx context.Context, statuses ...entities.ActionStatus) ([]entities.QueuedAction, error) {
	if len(statuses) == 1 {
		return r.store.GetAllByIndex(ctx, "status", statuses[0])
	}
	if len(statuses) == 0 {
		return r.store.GetAll(ctx)
	}
	return r.store.Find(ctx, QueueOrder, StatusIn(statuses...))
}

// ListRetryable returns failed actions that still have retry budget.
func (r *Repository) ListRetryable(ctx context.Context) ([]entities.QueuedAction, error) {
	return r.store.Find(ctx, QueueOrder, Retryable)
}

// ListByAnchor returns every action touching the same record.
func (r *Repository) ListByAnchor(ctx context.Context, anchor string) ([]entities.QueuedAction, error) {
	return r.store.GetAllByIndex(ctx, "anchor", anchor)
}

// Transition applies updates to the action only if guard still matches.
func (r *Repository) Transition(ctx context.Context, id string, updates map[string]any, guard func(*gorm.DB) *gorm.DB) (bool, error) {
	return r.store.Update(ctx, id, updates, guard)
}

// Delete removes an action and reports whether it existed.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	return r.store.Delete(ctx, id)
}

// DeleteIf removes an action only if guard matches.
func (r *Repository) DeleteIf(ctx context.Context, id string, guard func(*gorm.DB) *gorm.DB) (bool, error) {
	n, err := r.store.DeleteWhere(ctx, func(q *gorm.DB) *gorm.DB {
		return guard(q.Where("id = ?", id))
	})
	return n > 0, err
}

// DeleteByStatus removes every action in status.
func (r *Repository) DeleteByStatus(ctx context.Context, status entities.ActionStatus) (int64, error) {
	return r.store.DeleteWhere(ctx, StatusIn(status))
}

// CountByStatus returns the number of actions per status.
func (r *Repository) CountByStatus(ctx context.Context) (map[entities.ActionStatus]int64, error) {
	counts := make(map[entities.ActionStatus]int64)
	for _, status := range []entities.ActionStatus{
		entities.ActionStatusPending,
		entities.ActionStatusSyncing,
		entities.ActionStatusFailed,
	} {
		n, err := r.store.Count(ctx, StatusIn(status))
		if err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, nil
}

// CountPermanentlyFailed returns the number of failed actions with no
// retry budget left.
func (r *Repository) CountPermanentlyFailed(ctx context.Context) (int64, error) {
	return r.store.Count(ctx, Exhausted)
}

// MaxSequence returns the highest sequence number stored, or 0.
func (r *Repository) MaxSequence(ctx context.Context) (int64, error) {
	var seqs []int64
	if err := r.store.Pluck(ctx, "sequence", "sequence DESC", 1, &seqs); err != nil {
		return 0, err
	}
	if len(seqs) == 0 {
		return 0, nil
	}
	return seqs[0], nil
}

// StatusIn matches actions in any of statuses.
func StatusIn(statuses ...entities.ActionStatus) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		return q.Where("status IN ?", statuses)
	}
}

// Retryable matches failed actions below their retry ceiling.
func Retryable(q *gorm.DB) *gorm.DB {
	return q.Where("status = ? AND retry_count < max_retries", entities.ActionStatusFailed)
}

// Exhausted matches failed actions at or above their retry ceiling.
func Exhausted(q *gorm.DB) *gorm.DB {
	return q.Where("status = ? AND retry_count >= max_retries", entities.ActionStatusFailed)
}

// Claimable matches actions that may move to syncing.
func Claimable(q *gorm.DB) *gorm.DB {
	return q.Where("(status = ? OR (status = ? AND retry_count < max_retries))",
		entities.ActionStatusPending, entities.ActionStatusFailed)
}
