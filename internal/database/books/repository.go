// Package books provides database operations for offline book content.
//
// Two partitions back the content cache: "books" holds the downloaded file
// plus access bookkeeping, and "metadata" holds the small per-book record the
// UI reads. Metadata outlives eviction so a book can be shown as "not
// downloaded" without touching its content.
//
// # Usage
//
//	repo := books.NewRepository(db)
//	book, err := repo.GetBook(ctx, "book-123")
package books

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/mrlokans/shelfsync/internal/database"
	"github.com/mrlokans/shelfsync/internal/entities"
)

var (
	bookPartition = database.Partition{
		KeyColumn: "book_id",
		Indexes: map[string]string{
			"last_accessed": "last_accessed_at",
			"cached_at":     "cached_at",
		},
		Order: "last_accessed_at ASC",
	}
	metadataPartition = database.Partition{
		KeyColumn: "book_id",
		Indexes:   map[string]string{"is_cached": "is_cached"},
		Order:     "book_id ASC",
	}
)

// Repository handles all cached book and metadata database operations.
type Repository struct {
	books    *database.Store[entities.CachedBook]
	metadata *database.Store[entities.CacheMetadataEntry]
}

// NewRepository creates a new books repository.
func NewRepository(db *database.Database) *Repository {
	return &Repository{
		books:    database.NewStore[entities.CachedBook](db, bookPartition),
		metadata: database.NewStore[entities.CacheMetadataEntry](db, metadataPartition),
	}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx *database.Database) *Repository {
	return &Repository{books: r.books.WithTx(tx), metadata: r.metadata.WithTx(tx)}
}

// PutBook stores or replaces a cached book.
func (r *Repository) PutBook(ctx context.Context, book entities.CachedBook) error {
	_, err := r.books.Put(ctx, book)
	return err
}

// GetBook retrieves a cached book including its content.
func (r *Repository) GetBook(ctx context.Context, bookID string) (*entities.CachedBook, error) {
	return r.books.Get(ctx, bookID)
}

// TouchBook records a read of the book at t.
func (r *Repository) TouchBook(ctx context.Context, bookID string, t time.Time) (bool, error) {
	return r.books.Update(ctx, bookID, map[string]any{"last_accessed_at": t})
}

// DeleteBook removes the cached content for a book.
func (r *Repository) DeleteBook(ctx context.Context, bookID string) (bool, error) {
	return r.books.Delete(ctx, bookID)
}

// CountBooks returns the number of books with cached content.
func (r *Repository) CountBooks(ctx context.Context) (int64, error) {
	return r.books.Count(ctx)
}

// LeastRecentlyAccessed returns up to n book IDs, oldest access first,
// skipping exclude.
func (r *Repository) LeastRecentlyAccessed(ctx context.Context, n int, exclude string) ([]string, error) {
	var ids []string
	err := r.books.Pluck(ctx, "book_id", "last_accessed_at ASC, cached_at ASC", n, &ids, func(q *gorm.DB) *gorm.DB {
		if exclude == "" {
			return q
		}
		return q.Where("book_id <> ?", exclude)
	})
	return ids, err
}

// ExpiredBooks returns IDs of books cached before cutoff.
func (r *Repository) ExpiredBooks(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := r.books.Pluck(ctx, "book_id", "cached_at ASC", 0, &ids, func(q *gorm.DB) *gorm.DB {
		return q.Where("cached_at < ?", cutoff)
	})
	return ids, err
}

// ListBooks returns cached books without their content, most recently read
// first.
func (r *Repository) ListBooks(ctx context.Context) ([]entities.CachedBook, error) {
	return r.books.Find(ctx, "last_accessed_at DESC", func(q *gorm.DB) *gorm.DB {
		return q.Omit("content")
	})
}

// TotalBytes returns the summed size of all cached content.
func (r *Repository) TotalBytes(ctx context.Context) (int64, error) {
	var sizes []int64
	if err := r.books.Pluck(ctx, "file_size_bytes", "", 0, &sizes); err != nil {
		return 0, err
	}
	var total int64
	for _, s := range sizes {
		total += s
	}
	return total, nil
}

// PutMetadata stores or replaces a metadata entry.
func (r *Repository) PutMetadata(ctx context.Context, entry entities.CacheMetadataEntry) error {
	_, err := r.metadata.Put(ctx, entry)
	return err
}

// GetMetadata retrieves the metadata entry for a book.
func (r *Repository) GetMetadata(ctx context.Context, bookID string) (*entities.CacheMetadataEntry, error) {
	return r.metadata.Get(ctx, bookID)
}

// ListMetadata returns metadata entries. With cachedOnly set only books
// whose content is present are returned.
func (r *Repository) ListMetadata(ctx context.Context, cachedOnly bool) ([]entities.CacheMetadataEntry, error) {
	if cachedOnly {
		return r.metadata.GetAllByIndex(ctx, "is_cached", true)
	}
	return r.metadata.GetAll(ctx)
}

// MarkUncached flips a metadata entry to not cached. Missing entries are
// ignored.
func (r *Repository) MarkUncached(ctx context.Context, bookID string, t time.Time) error {
	_, err := r.metadata.Update(ctx, bookID, map[string]any{
		"is_cached":  false,
		"cached_at":  nil,
		"size_bytes": 0,
		"updated_at": t,
	})
	return err
}
