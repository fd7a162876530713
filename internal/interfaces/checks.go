package interfaces

// This file contains compile-time interface implementation checks.
// These ensure that concrete types satisfy their interfaces at compile time,
// catching missing methods before runtime.
//
// To verify all checks pass: go build ./internal/interfaces/...

import (
	"github.com/mrlokans/shelfsync/internal/cache"
	"github.com/mrlokans/shelfsync/internal/database/sync"
	"github.com/mrlokans/shelfsync/internal/http"
	"github.com/mrlokans/shelfsync/internal/network"
	"github.com/mrlokans/shelfsync/internal/queue"
	"github.com/mrlokans/shelfsync/internal/remote"
	"github.com/mrlokans/shelfsync/internal/scheduler"
	"github.com/mrlokans/shelfsync/internal/storage"
	"github.com/mrlokans/shelfsync/internal/syncer"
	"github.com/mrlokans/shelfsync/internal/tasks"
)

// =============================================================================
// Data Access Layer
// =============================================================================

// Action queue
var _ syncer.Queue = (*queue.Queue)(nil)
var _ http.ActionQueue = (*queue.Queue)(nil)

// Content cache
var _ http.BookCache = (*cache.Cache)(nil)
var _ tasks.BookCacher = (*cache.Cache)(nil)
var _ tasks.ExpiredBookCleaner = (*cache.Cache)(nil)

// =============================================================================
// External Services
// =============================================================================

// Remote service
var _ network.Prober = (*remote.Client)(nil)
var _ cache.Fetcher = (*remote.Client)(nil)

// Object storage
var _ storage.Client = (*storage.MinioClient)(nil)
var _ cache.Fetcher = (*storage.ContentFetcher)(nil)

// =============================================================================
// Sync Engine
// =============================================================================

var _ syncer.Dispatcher = (*syncer.Router)(nil)
var _ syncer.Connectivity = (*network.Monitor)(nil)
var _ scheduler.Connectivity = (*network.Monitor)(nil)
var _ http.NetworkService = (*network.Monitor)(nil)
var _ http.SyncService = (*syncer.Manager)(nil)
var _ scheduler.SyncTrigger = (*syncer.Manager)(nil)

// =============================================================================
// Progress Tracking
// =============================================================================

// ProgressReporter implementations
var _ syncer.ProgressReporter = (*sync.Repository)(nil)
var _ tasks.CleanupReporter = (*sync.Repository)(nil)

// =============================================================================
// Background Tasks
// =============================================================================

var _ tasks.Enqueuer = (*tasks.Client)(nil)
var _ http.TaskStatusReader = (*tasks.Client)(nil)
var _ http.TaskSubmitter = (*tasks.Submitter)(nil)
var _ scheduler.TaskSubmitter = (*tasks.Submitter)(nil)
