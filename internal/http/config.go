package http

import (
	"github.com/mrlokans/shelfsync/internal/database"
)

// RouterConfig contains all dependencies and configuration needed
// to create the HTTP router.
type RouterConfig struct {
	// Core dependencies
	Database *database.Database
	Queue    ActionQueue
	Sync     SyncService
	Network  NetworkService
	Cache    BookCache

	// Task queue (optional). Without a submitter, caching runs inline.
	Tasks      TaskSubmitter
	TaskStatus TaskStatusReader

	// Live event stream (optional)
	Events *EventHub

	// Application info
	Version string
}
