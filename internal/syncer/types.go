package syncer

import (
	"context"
	"time"

	"github.com/mrlokans/shelfsync/internal/entities"
	"github.com/mrlokans/shelfsync/internal/network"
	"github.com/mrlokans/shelfsync/internal/queue"
)

// Queue is the part of the action queue the manager drives.
type Queue interface {
	ListPending(ctx context.Context) ([]entities.QueuedAction, error)
	ListRetryable(ctx context.Context) ([]entities.QueuedAction, error)
	ListSyncing(ctx context.Context) ([]entities.QueuedAction, error)
	MarkSyncing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error) error
	Stats(ctx context.Context) (queue.Stats, error)
}

// Dispatcher sends one action to the remote service.
type Dispatcher interface {
	Dispatch(ctx context.Context, action entities.QueuedAction) error
}

// Connectivity reports whether the remote service is reachable.
type Connectivity interface {
	IsOnline() bool
	OnChange(fn func(network.State)) (unsubscribe func())
}

// ProgressReporter persists progress of a pass.
type ProgressReporter interface {
	StartSync(ctx context.Context, trigger string, totalItems int) error
	UpdateProgress(ctx context.Context, processed, succeeded, failed, skipped int, currentItem string) error
	CompleteSync(ctx context.Context, succeeded bool, errorMsg string) error
}

// Reason names what started a pass.
type Reason string

const (
	ReasonOnline   Reason = "online"
	ReasonManual   Reason = "manual"
	ReasonPeriodic Reason = "periodic"
	ReasonResume   Reason = "resume"
	ReasonStartup  Reason = "startup"
)

type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateOffline State = "offline"
	StateError   State = "error"
)

// Result aggregates one pass over the queue.
type Result struct {
	Reason            Reason    `json:"reason"`
	Started           time.Time `json:"started"`
	Finished          time.Time `json:"finished"`
	Attempted         int       `json:"attempted"`
	Completed         int       `json:"completed"`
	Failed            int       `json:"failed"`
	PermanentlyFailed int       `json:"permanently_failed"`
	Conflicts         int       `json:"conflicts"`
	Deferred          int       `json:"deferred"`
	Remaining         int64     `json:"remaining"`
	Interrupted       bool      `json:"interrupted"`
}

// Status is what observers see.
type Status struct {
	State             State      `json:"state"`
	Running           bool       `json:"running"`
	Pending           int64      `json:"pending"`
	PermanentlyFailed int64      `json:"permanently_failed"`
	LastResult        *Result    `json:"last_result,omitempty"`
	LastSyncAt        *time.Time `json:"last_sync_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
}

type Config struct {
	DispatchTimeout time.Duration
	RetryBackoff    time.Duration // Base delay; doubles per retry. Zero disables backoff
	MaxBackoff      time.Duration
	Now             func() time.Time
}
