package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/mikestefanello/backlite"

	"github.com/mrlokans/shelfsync/internal/logging"
)

// ExpiredBookCleaner removes books cached longer than maxAgeDays.
type ExpiredBookCleaner interface {
	CleanupExpired(ctx context.Context, maxAgeDays int) ([]string, error)
}

// CleanupReporter records the outcome of a cleanup run.
type CleanupReporter interface {
	StartSync(ctx context.Context, trigger string, totalItems int) error
	CompleteSync(ctx context.Context, succeeded bool, errorMsg string) error
}

// CleanupExpiredBooksTask removes cached books past their expiry age. Zero
// MaxAgeDays uses the cache's configured expiry.
type CleanupExpiredBooksTask struct {
	MaxAgeDays int `json:"max_age_days,omitempty"`
}

// Config returns the queue configuration for cleanup tasks.
func (t CleanupExpiredBooksTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "cleanup_expired_books",
		MaxAttempts: 1,
		Backoff:     time.Minute,
		Timeout:     5 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// CleanupExpiredBooksProcessor creates a processor function for
// CleanupExpiredBooksTask. reporter may be nil.
func CleanupExpiredBooksProcessor(cleaner ExpiredBookCleaner, reporter CleanupReporter) backlite.QueueProcessor[CleanupExpiredBooksTask] {
	return func(ctx context.Context, task CleanupExpiredBooksTask) error {
		if cleaner == nil {
			return fmt.Errorf("content cache not configured")
		}
		if reporter != nil {
			_ = reporter.StartSync(ctx, "scheduled", 0)
		}

		removed, err := cleaner.CleanupExpired(ctx, task.MaxAgeDays)
		if reporter != nil {
			msg := ""
			if err != nil {
				msg = err.Error()
			}
			_ = reporter.CompleteSync(ctx, err == nil, msg)
		}
		if err != nil {
			return fmt.Errorf("cleanup expired books: %w", err)
		}

		logging.Get("tasks").Info().Int("removed", len(removed)).Msg("expired books cleaned up")
		return nil
	}
}

// NewCleanupExpiredBooksQueue creates a backlite queue for cleanup tasks.
func NewCleanupExpiredBooksQueue(cleaner ExpiredBookCleaner, reporter CleanupReporter) backlite.Queue {
	return backlite.NewQueue(CleanupExpiredBooksProcessor(cleaner, reporter))
}
