// Package cache keeps downloaded book files available offline.
//
// At most MaxBooks files are held at once. Every successful CacheBook runs
// eviction in the same transaction as the write, dropping the least recently
// read books first, so the ceiling is never observably exceeded. Metadata is
// kept after eviction with IsCached=false.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrlokans/shelfsync/internal/config"
	"github.com/mrlokans/shelfsync/internal/database"
	"github.com/mrlokans/shelfsync/internal/database/books"
	"github.com/mrlokans/shelfsync/internal/entities"
	"github.com/mrlokans/shelfsync/internal/errs"
	"github.com/mrlokans/shelfsync/internal/logging"
)

// Fetcher downloads book content. The cache always passes a url;
// implementations used elsewhere may derive one from bookID when it is empty.
type Fetcher interface {
	FetchBookContent(ctx context.Context, bookID, url string) ([]byte, error)
}

// Source describes where a book comes from and what to show for it.
type Source struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	FileType string `json:"file_type"`
	CoverURL string `json:"cover_url,omitempty"`
}

type Config struct {
	MaxBooks   int
	ExpiryDays int
	Now        func() time.Time
}

type Stats struct {
	Books      int64 `json:"books"`
	TotalBytes int64 `json:"total_bytes"`
	MaxBooks   int   `json:"max_books"`
}

// Cache handles local caching of book files.
type Cache struct {
	db      *database.Database
	repo    *books.Repository
	fetcher Fetcher
	cfg     Config
	log     *zerolog.Logger
}

// New creates a content cache. A MaxBooks below 1 falls back to the default
// ceiling.
func New(db *database.Database, fetcher Fetcher, cfg Config) *Cache {
	log := logging.Get("cache")
	if cfg.MaxBooks < 1 {
		if cfg.MaxBooks != 0 {
			log.Warn().Int("max_books", cfg.MaxBooks).Int("fallback", config.DefaultMaxCachedBooks).Msg("invalid cache ceiling")
		}
		cfg.MaxBooks = config.DefaultMaxCachedBooks
	}
	if cfg.ExpiryDays <= 0 {
		cfg.ExpiryDays = config.DefaultCacheExpiryDays
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{db: db, repo: books.NewRepository(db), fetcher: fetcher, cfg: cfg, log: log}
}

func (c *Cache) now() time.Time {
	return c.cfg.Now().UTC()
}

// MaxBooks returns the ceiling in effect.
func (c *Cache) MaxBooks() int {
	return c.cfg.MaxBooks
}

// CacheBook downloads the book and stores it with its metadata. A failed
// download leaves the cache untouched.
func (c *Cache) CacheBook(ctx context.Context, bookID string, src Source) (*entities.CachedBook, error) {
	if bookID == "" {
		return nil, errs.New(errs.CodeInvalidInput, "book id is required")
	}
	if src.URL == "" {
		return nil, errs.New(errs.CodeInvalidInput, "source url is required")
	}

	content, err := c.fetcher.FetchBookContent(ctx, bookID, src.URL)
	if err != nil {
		c.log.Warn().Err(err).Str("book_id", bookID).Msg("book download failed")
		if errs.HasCode(err, errs.CodeFetchFailed) {
			return nil, err
		}
		return nil, errs.Wrap(errs.CodeFetchFailed, fmt.Sprintf("download book %s", bookID), err)
	}

	hash := sha256.Sum256(content)
	now := c.now()
	book := entities.CachedBook{
		BookID:         bookID,
		Content:        content,
		Title:          src.Title,
		Author:         src.Author,
		FileType:       src.FileType,
		FileSizeBytes:  int64(len(content)),
		ContentHash:    hex.EncodeToString(hash[:]),
		CachedAt:       now,
		LastAccessedAt: now,
	}

	var evicted []string
	err = c.db.Transaction(ctx, func(tx *database.Database) error {
		repo := c.repo.WithTx(tx)
		if err := repo.PutBook(ctx, book); err != nil {
			return err
		}
		if err := repo.PutMetadata(ctx, entities.CacheMetadataEntry{
			BookID:    bookID,
			Title:     src.Title,
			Author:    src.Author,
			CoverURL:  src.CoverURL,
			FileType:  src.FileType,
			IsCached:  true,
			SizeBytes: book.FileSizeBytes,
			CachedAt:  &now,
			UpdatedAt: now,
		}); err != nil {
			return err
		}
		evicted, err = c.evict(ctx, repo, bookID)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.log.Info().Str("book_id", bookID).Int64("size", book.FileSizeBytes).Strs("evicted", evicted).Msg("book cached")
	return &book, nil
}

// evict removes least recently read books until the ceiling holds, never
// removing keep.
func (c *Cache) evict(ctx context.Context, repo *books.Repository, keep string) ([]string, error) {
	count, err := repo.CountBooks(ctx)
	if err != nil {
		return nil, err
	}
	excess := int(count) - c.cfg.MaxBooks
	if excess <= 0 {
		return nil, nil
	}

	victims, err := repo.LeastRecentlyAccessed(ctx, excess, keep)
	if err != nil {
		return nil, err
	}
	now := c.now()
	for _, id := range victims {
		if _, err := repo.DeleteBook(ctx, id); err != nil {
			return nil, err
		}
		if err := repo.MarkUncached(ctx, id, now); err != nil {
			return nil, err
		}
	}
	return victims, nil
}

// GetCachedBook returns the cached book and records the read. A book that is
// not cached yields nil without an error.
func (c *Cache) GetCachedBook(ctx context.Context, bookID string) (*entities.CachedBook, error) {
	book, err := c.repo.GetBook(ctx, bookID)
	if errs.HasCode(err, errs.CodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := c.now()
	if _, err := c.repo.TouchBook(ctx, bookID, now); err != nil {
		return nil, err
	}
	book.LastAccessedAt = now
	return book, nil
}

// IsCached answers from metadata only.
func (c *Cache) IsCached(ctx context.Context, bookID string) (bool, error) {
	entry, err := c.repo.GetMetadata(ctx, bookID)
	if errs.HasCode(err, errs.CodeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return entry.IsCached, nil
}

// UncacheBook drops the book content and flags its metadata. Removing a book
// that is not cached is a no-op.
func (c *Cache) UncacheBook(ctx context.Context, bookID string) error {
	now := c.now()
	var removed bool
	err := c.db.Transaction(ctx, func(tx *database.Database) error {
		repo := c.repo.WithTx(tx)
		var err error
		if removed, err = repo.DeleteBook(ctx, bookID); err != nil {
			return err
		}
		return repo.MarkUncached(ctx, bookID, now)
	})
	if err != nil {
		return err
	}
	if removed {
		c.log.Info().Str("book_id", bookID).Msg("book removed from cache")
	}
	return nil
}

// EnforceCacheLimit evicts least recently read books over the ceiling.
func (c *Cache) EnforceCacheLimit(ctx context.Context) ([]string, error) {
	var evicted []string
	err := c.db.Transaction(ctx, func(tx *database.Database) error {
		var err error
		evicted, err = c.evict(ctx, c.repo.WithTx(tx), "")
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(evicted) > 0 {
		c.log.Info().Strs("evicted", evicted).Msg("cache limit enforced")
	}
	return evicted, nil
}

// CleanupExpired removes books cached more than maxAgeDays ago. A value of 0
// or less uses the configured expiry.
func (c *Cache) CleanupExpired(ctx context.Context, maxAgeDays int) ([]string, error) {
	if maxAgeDays <= 0 {
		maxAgeDays = c.cfg.ExpiryDays
	}
	cutoff := c.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)

	expired, err := c.repo.ExpiredBooks(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	var removed []string
	var failures []error
	for _, id := range expired {
		if err := c.UncacheBook(ctx, id); err != nil {
			failures = append(failures, fmt.Errorf("uncache %s: %w", id, err))
			continue
		}
		removed = append(removed, id)
	}

	c.log.Info().Int("max_age_days", maxAgeDays).Int("removed", len(removed)).Msg("expired books cleaned up")
	return removed, errors.Join(failures...)
}

func (c *Cache) GetMetadata(ctx context.Context, bookID string) (*entities.CacheMetadataEntry, error) {
	return c.repo.GetMetadata(ctx, bookID)
}

func (c *Cache) ListMetadata(ctx context.Context, cachedOnly bool) ([]entities.CacheMetadataEntry, error) {
	return c.repo.ListMetadata(ctx, cachedOnly)
}

// ListCached returns cached books without their content.
func (c *Cache) ListCached(ctx context.Context) ([]entities.CachedBook, error) {
	return c.repo.ListBooks(ctx)
}

func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	n, err := c.repo.CountBooks(ctx)
	if err != nil {
		return Stats{}, err
	}
	total, err := c.repo.TotalBytes(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Books: n, TotalBytes: total, MaxBooks: c.cfg.MaxBooks}, nil
}
