// Package queue is the durable action queue. Every user mutation made while
// reading is enqueued here first and replayed against the remote service by
// the sync manager.
//
// Status moves Pending -> Syncing -> (deleted | Failed). A Failed action with
// retry budget may be claimed again; once retryCount reaches maxRetries it
// stays Failed until a user retries or dismisses it.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/mrlokans/shelfsync/internal/config"
	"github.com/mrlokans/shelfsync/internal/database"
	"github.com/mrlokans/shelfsync/internal/database/actions"
	"github.com/mrlokans/shelfsync/internal/entities"
	"github.com/mrlokans/shelfsync/internal/errs"
	"github.com/mrlokans/shelfsync/internal/events"
	"github.com/mrlokans/shelfsync/internal/logging"
)

type Config struct {
	DefaultPriority int
	MaxRetries      int
	Now             func() time.Time
}

// Options override per-action defaults. Zero values mean "use the default".
type Options struct {
	Priority   int
	MaxRetries int
}

type EventKind string

const (
	EventEnqueued  EventKind = "enqueued"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventRetried   EventKind = "retried"
	EventDismissed EventKind = "dismissed"
	EventCleared   EventKind = "cleared"
)

// Event describes a change to one queued action.
type Event struct {
	Kind   EventKind             `json:"kind"`
	Action entities.QueuedAction `json:"action"`
}

// PermanentFailure is published once when an action runs out of retries.
type PermanentFailure struct {
	Action entities.QueuedAction
	Err    error
}

// Stats summarises the queue by status.
type Stats struct {
	Pending           int64 `json:"pending"`
	Syncing           int64 `json:"syncing"`
	Failed            int64 `json:"failed"`
	PermanentlyFailed int64 `json:"permanently_failed"`
}

// Total is the number of actions still waiting to reach the remote service.
func (s Stats) Total() int64 {
	return s.Pending + s.Syncing + s.Failed
}

type Queue struct {
	db   *database.Database
	repo *actions.Repository
	cfg  Config
	log  *zerolog.Logger

	seqMu   sync.Mutex
	lastSeq int64
	seeded  bool

	changes  *events.Bus[Event]
	failures *events.Bus[PermanentFailure]
}

func New(db *database.Database, cfg Config) *Queue {
	if cfg.DefaultPriority == 0 {
		cfg.DefaultPriority = config.DefaultPriority
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = config.DefaultMaxRetries
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Queue{
		db:       db,
		repo:     actions.NewRepository(db),
		cfg:      cfg,
		log:      logging.Get("queue"),
		changes:  events.NewBus[Event](),
		failures: events.NewBus[PermanentFailure](),
	}
}

func (q *Queue) now() time.Time {
	return q.cfg.Now().UTC()
}

// OnChange registers fn for every queue change.
func (q *Queue) OnChange(fn func(Event)) (unsubscribe func()) {
	return q.changes.Subscribe(fn)
}

// OnPermanentFailure registers fn for actions that exhaust their retries.
func (q *Queue) OnPermanentFailure(fn func(PermanentFailure)) (unsubscribe func()) {
	return q.failures.Subscribe(fn)
}

// Enqueue validates payload for typ and stores a new Pending action. It
// never touches the network.
func (q *Queue) Enqueue(ctx context.Context, typ entities.ActionType, payload any, opts Options) (*entities.QueuedAction, error) {
	if !typ.Valid() {
		return nil, errs.Newf(errs.CodeInvalidInput, "unknown action type %q", typ)
	}

	priority := opts.Priority
	if priority == 0 {
		priority = q.cfg.DefaultPriority
	}
	if priority < config.MinPriority || priority > config.MaxPriority {
		return nil, errs.Newf(errs.CodeInvalidInput, "priority %d is outside %d-%d", priority, config.MinPriority, config.MaxPriority)
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = q.cfg.MaxRetries
	}
	if maxRetries < 0 {
		return nil, errs.Newf(errs.CodeInvalidInput, "max retries %d must not be negative", maxRetries)
	}

	now := q.now()
	body, anchor, err := normalize(typ, payload, now)
	if err != nil {
		return nil, err
	}

	seq, err := q.nextSequence(ctx, now)
	if err != nil {
		return nil, err
	}

	action := entities.QueuedAction{
		Type:       typ,
		Payload:    body,
		AnchorKey:  anchor,
		Status:     entities.ActionStatusPending,
		Priority:   priority,
		EnqueuedAt: now,
		Sequence:   seq,
		MaxRetries: maxRetries,
	}
	id, err := q.repo.Insert(ctx, action)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", typ, err)
	}
	action.ID = id

	q.log.Debug().Str("id", id).Str("type", string(typ)).Int("priority", priority).Msg("action enqueued")
	q.changes.Publish(Event{Kind: EventEnqueued, Action: action})
	return &action, nil
}

// normalize decodes payload into the typed form for typ, validates it and
// stamps the client modification time.
func normalize(typ entities.ActionType, payload any, now time.Time) ([]byte, string, error) {
	var raw []byte
	switch v := payload.(type) {
	case nil:
		return nil, "", errs.New(errs.CodeInvalidInput, "payload is required")
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, "", errs.Wrap(errs.CodeInvalidInput, "encode payload", err)
		}
		raw = b
	}

	typed, err := entities.NewPayload(typ)
	if err != nil {
		return nil, "", errs.Wrap(errs.CodeInvalidInput, "payload", err)
	}
	if err := json.Unmarshal(raw, typed); err != nil {
		return nil, "", errs.Wrap(errs.CodeInvalidInput, "decode payload", err)
	}
	if err := typed.Validate(); err != nil {
		return nil, "", errs.Wrap(errs.CodeInvalidInput, fmt.Sprintf("%s payload", typ), err)
	}
	typed.Stamp(now)

	body, err := json.Marshal(typed)
	if err != nil {
		return nil, "", errs.Wrap(errs.CodeInvalidInput, "encode payload", err)
	}
	return body, typed.Anchor(), nil
}

// nextSequence returns a strictly increasing number seeded from the clock
// so ordering survives restarts.
func (q *Queue) nextSequence(ctx context.Context, now time.Time) (int64, error) {
	q.seqMu.Lock()
	defer q.seqMu.Unlock()

	if !q.seeded {
		last, err := q.repo.MaxSequence(ctx)
		if err != nil {
			return 0, err
		}
		q.lastSeq = last
		q.seeded = true
	}

	next := now.UnixNano()
	if next <= q.lastSeq {
		next = q.lastSeq + 1
	}
	q.lastSeq = next
	return next, nil
}

func (q *Queue) Get(ctx context.Context, id string) (*entities.QueuedAction, error) {
	return q.repo.Get(ctx, id)
}

// ListPending returns Pending actions in replay order.
func (q *Queue) ListPending(ctx context.Context) ([]entities.QueuedAction, error) {
	return q.repo.ListByStatus(ctx, entities.ActionStatusPending)
}

// ListRetryable returns Failed actions with retry budget left.
func (q *Queue) ListRetryable(ctx context.Context) ([]entities.QueuedAction, error) {
	return q.repo.ListRetryable(ctx)
}

func (q *Queue) ListSyncing(ctx context.Context) ([]entities.QueuedAction, error) {
	return q.repo.ListByStatus(ctx, entities.ActionStatusSyncing)
}

func (q *Queue) ListFailed(ctx context.Context) ([]entities.QueuedAction, error) {
	return q.repo.ListByStatus(ctx, entities.ActionStatusFailed)
}

// List returns actions in status, or every action when status is empty.
func (q *Queue) List(ctx context.Context, status entities.ActionStatus) ([]entities.QueuedAction, error) {
	if status == "" {
		return q.repo.ListByStatus(ctx)
	}
	if !status.Valid() {
		return nil, errs.Newf(errs.CodeInvalidInput, "unknown status %q", status)
	}
	return q.repo.ListByStatus(ctx, status)
}

// MarkSyncing claims an action for dispatch.
func (q *Queue) MarkSyncing(ctx context.Context, id string) error {
	now := q.now()
	changed, err := q.repo.Transition(ctx, id, map[string]any{
		"status":          entities.ActionStatusSyncing,
		"last_attempt_at": now,
	}, actions.Claimable)
	if err != nil {
		return err
	}
	if !changed {
		return q.transitionError(ctx, id, entities.ActionStatusSyncing)
	}
	q.log.Debug().Str("id", id).Msg("action syncing")
	return nil
}

// MarkCompleted removes a dispatched action. Completing an action that is
// already gone is not an error.
func (q *Queue) MarkCompleted(ctx context.Context, id string) error {
	action, err := q.repo.Get(ctx, id)
	if errs.HasCode(err, errs.CodeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	removed, err := q.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if removed {
		action.Status = entities.ActionStatusCompleted
		q.log.Debug().Str("id", id).Str("type", string(action.Type)).Msg("action completed")
		q.changes.Publish(Event{Kind: EventCompleted, Action: *action})
	}
	return nil
}

// MarkFailed records a failed dispatch of a Syncing action. When the failure
// uses up the last retry, permanent-failure observers are notified.
func (q *Queue) MarkFailed(ctx context.Context, id string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	now := q.now()

	var failed *entities.QueuedAction
	err := q.db.Transaction(ctx, func(tx *database.Database) error {
		repo := q.repo.WithTx(tx)
		changed, err := repo.Transition(ctx, id, map[string]any{
			"status":          entities.ActionStatusFailed,
			"retry_count":     gorm.Expr("retry_count + ?", 1),
			"last_error":      msg,
			"last_attempt_at": now,
		}, actions.StatusIn(entities.ActionStatusSyncing))
		if err != nil {
			return err
		}
		if !changed {
			return q.transitionErrorWith(ctx, repo, id, entities.ActionStatusFailed)
		}
		failed, err = repo.Get(ctx, id)
		return err
	})
	if err != nil {
		return err
	}

	q.log.Warn().Str("id", id).Str("type", string(failed.Type)).
		Int("retry_count", failed.RetryCount).Int("max_retries", failed.MaxRetries).
		Str("error", msg).Msg("action failed")
	q.changes.Publish(Event{Kind: EventFailed, Action: *failed})

	if failed.PermanentlyFailed() {
		q.log.Error().Str("id", id).Str("type", string(failed.Type)).Msg("action permanently failed")
		q.failures.Publish(PermanentFailure{
			Action: *failed,
			Err:    errs.Wrap(errs.CodePermanentActionFailure, fmt.Sprintf("%s %s", failed.Type, id), cause),
		})
	}
	return nil
}

// ClearCompleted deletes any Completed records left behind.
func (q *Queue) ClearCompleted(ctx context.Context) (int64, error) {
	n, err := q.repo.DeleteByStatus(ctx, entities.ActionStatusCompleted)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.changes.Publish(Event{Kind: EventCleared})
	}
	return n, nil
}

// Retry puts a Failed action back to Pending with a fresh retry budget.
func (q *Queue) Retry(ctx context.Context, id string) (*entities.QueuedAction, error) {
	changed, err := q.repo.Transition(ctx, id, map[string]any{
		"status":          entities.ActionStatusPending,
		"retry_count":     0,
		"last_error":      "",
		"last_attempt_at": nil,
	}, actions.StatusIn(entities.ActionStatusFailed))
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, q.transitionError(ctx, id, entities.ActionStatusPending)
	}

	action, err := q.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	q.log.Info().Str("id", id).Str("type", string(action.Type)).Msg("action retried")
	q.changes.Publish(Event{Kind: EventRetried, Action: *action})
	return action, nil
}

// Dismiss deletes a Failed action without replaying it.
func (q *Queue) Dismiss(ctx context.Context, id string) error {
	action, err := q.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	removed, err := q.repo.DeleteIf(ctx, id, actions.StatusIn(entities.ActionStatusFailed))
	if err != nil {
		return err
	}
	if !removed {
		return q.transitionError(ctx, id, "dismissed")
	}
	q.log.Info().Str("id", id).Str("type", string(action.Type)).Msg("action dismissed")
	q.changes.Publish(Event{Kind: EventDismissed, Action: *action})
	return nil
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	counts, err := q.repo.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	permanent, err := q.repo.CountPermanentlyFailed(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Pending:           counts[entities.ActionStatusPending],
		Syncing:           counts[entities.ActionStatusSyncing],
		Failed:            counts[entities.ActionStatusFailed],
		PermanentlyFailed: permanent,
	}, nil
}

func (q *Queue) transitionError(ctx context.Context, id string, to entities.ActionStatus) error {
	return q.transitionErrorWith(ctx, q.repo, id, to)
}

// transitionErrorWith explains why a guarded transition matched no row.
func (q *Queue) transitionErrorWith(ctx context.Context, repo *actions.Repository, id string, to entities.ActionStatus) error {
	current, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.PermanentlyFailed() && to == entities.ActionStatusSyncing {
		return errs.Newf(errs.CodeInvalidTransition, "action %s has exhausted %d retries", id, current.MaxRetries)
	}
	return errs.Newf(errs.CodeInvalidTransition, "action %s cannot move from %s to %s", id, current.Status, to)
}
