package http

import (
	"context"

	"github.com/mikestefanello/backlite"

	"github.com/mrlokans/shelfsync/internal/cache"
	"github.com/mrlokans/shelfsync/internal/entities"
	"github.com/mrlokans/shelfsync/internal/network"
	"github.com/mrlokans/shelfsync/internal/queue"
	"github.com/mrlokans/shelfsync/internal/syncer"
	"github.com/mrlokans/shelfsync/internal/tasks"
)

// ActionQueue defines the queue operations exposed over HTTP.
type ActionQueue interface {
	Enqueue(ctx context.Context, typ entities.ActionType, payload any, opts queue.Options) (*entities.QueuedAction, error)
	Get(ctx context.Context, id string) (*entities.QueuedAction, error)
	List(ctx context.Context, status entities.ActionStatus) ([]entities.QueuedAction, error)
	Retry(ctx context.Context, id string) (*entities.QueuedAction, error)
	Dismiss(ctx context.Context, id string) error
	Stats(ctx context.Context) (queue.Stats, error)
}

// SyncService defines the sync manager operations exposed over HTTP.
type SyncService interface {
	SyncNow(ctx context.Context) (syncer.Result, error)
	Trigger(reason syncer.Reason)
	Status() syncer.Status
}

// NetworkService defines the network monitor operations exposed over HTTP.
type NetworkService interface {
	State() network.State
	ReportConnectivity(ctx context.Context, online bool)
	Resume(ctx context.Context) bool
	TestConnectivity(ctx context.Context) bool
}

// BookCache defines the content cache operations exposed over HTTP.
type BookCache interface {
	CacheBook(ctx context.Context, bookID string, src cache.Source) (*entities.CachedBook, error)
	GetCachedBook(ctx context.Context, bookID string) (*entities.CachedBook, error)
	GetMetadata(ctx context.Context, bookID string) (*entities.CacheMetadataEntry, error)
	ListMetadata(ctx context.Context, cachedOnly bool) ([]entities.CacheMetadataEntry, error)
	UncacheBook(ctx context.Context, bookID string) error
	CleanupExpired(ctx context.Context, maxAgeDays int) ([]string, error)
	Stats(ctx context.Context) (cache.Stats, error)
}

// TaskSubmitter hands work to the background task queue.
type TaskSubmitter interface {
	Submit(ctx context.Context, task backlite.Task, priority tasks.Priority) (string, error)
}

// TaskStatusReader looks up background task state.
type TaskStatusReader interface {
	Status(ctx context.Context, taskID string) (backlite.TaskStatus, error)
}
