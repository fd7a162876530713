package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/mikestefanello/backlite"

	"github.com/mrlokans/shelfsync/internal/cache"
	"github.com/mrlokans/shelfsync/internal/entities"
	"github.com/mrlokans/shelfsync/internal/logging"
)

// BookCacher downloads a book into the content cache.
type BookCacher interface {
	CacheBook(ctx context.Context, bookID string, src cache.Source) (*entities.CachedBook, error)
}

// CacheBookTask downloads one book for offline reading.
type CacheBookTask struct {
	BookID string       `json:"book_id"`
	Source cache.Source `json:"source"`
}

// Config returns the queue configuration for book downloads.
func (t CacheBookTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "cache_book",
		MaxAttempts: 3,
		Backoff:     30 * time.Second,
		Timeout:     5 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// CacheBookProcessor creates a processor function for CacheBookTask.
func CacheBookProcessor(cacher BookCacher) backlite.QueueProcessor[CacheBookTask] {
	return func(ctx context.Context, task CacheBookTask) error {
		if cacher == nil {
			return fmt.Errorf("content cache not configured")
		}

		book, err := cacher.CacheBook(ctx, task.BookID, task.Source)
		if err != nil {
			return fmt.Errorf("cache book %s: %w", task.BookID, err)
		}

		logging.Get("tasks").Info().Str("book_id", task.BookID).Int64("size", book.FileSizeBytes).Msg("background download finished")
		return nil
	}
}

// NewCacheBookQueue creates a backlite queue for book downloads.
func NewCacheBookQueue(cacher BookCacher) backlite.Queue {
	return backlite.NewQueue(CacheBookProcessor(cacher))
}
