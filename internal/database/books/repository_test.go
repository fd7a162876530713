package books

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/shelfsync/internal/database"
	"github.com/mrlokans/shelfsync/internal/entities"
	"github.com/mrlokans/shelfsync/internal/errs"
)

func setupTestDB(t *testing.T) *Repository {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "books.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db)
}

func cachedBook(id string, size int64, cachedAt, accessedAt time.Time) entities.CachedBook {
	return entities.CachedBook{
		BookID:         id,
		Content:        make([]byte, size),
		Title:          "Title " + id,
		FileSizeBytes:  size,
		CachedAt:       cachedAt,
		LastAccessedAt: accessedAt,
	}
}

func TestRepository_BookLifecycle(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.PutBook(ctx, cachedBook("b1", 16, now, now)))

	got, err := repo.GetBook(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, got.Content, 16)

	later := now.Add(time.Hour)
	touched, err := repo.TouchBook(ctx, "b1", later)
	require.NoError(t, err)
	assert.True(t, touched)

	got, err = repo.GetBook(ctx, "b1")
	require.NoError(t, err)
	assert.WithinDuration(t, later, got.LastAccessedAt, time.Second)

	removed, err := repo.DeleteBook(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = repo.GetBook(ctx, "b1")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestRepository_LeastRecentlyAccessed(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.PutBook(ctx, cachedBook("recent", 1, base, base.Add(3*time.Hour))))
	require.NoError(t, repo.PutBook(ctx, cachedBook("oldest", 1, base, base.Add(time.Hour))))
	require.NoError(t, repo.PutBook(ctx, cachedBook("middle", 1, base, base.Add(2*time.Hour))))

	ids, err := repo.LeastRecentlyAccessed(ctx, 2, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"oldest", "middle"}, ids)

	ids, err = repo.LeastRecentlyAccessed(ctx, 1, "oldest")
	require.NoError(t, err)
	assert.Equal(t, []string{"middle"}, ids)

	n, err := repo.CountBooks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRepository_ExpiredBooksAndTotals(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.PutBook(ctx, cachedBook("stale", 10, now.Add(-40*24*time.Hour), now)))
	require.NoError(t, repo.PutBook(ctx, cachedBook("fresh", 5, now, now)))

	expired, err := repo.ExpiredBooks(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, expired)

	total, err := repo.TotalBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(15), total)

	list, err := repo.ListBooks(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, b := range list {
		assert.Empty(t, b.Content)
	}
}

func TestRepository_Metadata(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.PutMetadata(ctx, entities.CacheMetadataEntry{BookID: "b1", Title: "Dune", IsCached: true, SizeBytes: 10, CachedAt: &now}))
	require.NoError(t, repo.PutMetadata(ctx, entities.CacheMetadataEntry{BookID: "b2", Title: "Emma"}))

	cached, err := repo.ListMetadata(ctx, true)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "b1", cached[0].BookID)

	require.NoError(t, repo.MarkUncached(ctx, "b1", now))
	require.NoError(t, repo.MarkUncached(ctx, "missing", now))

	entry, err := repo.GetMetadata(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, entry.IsCached)
	assert.Nil(t, entry.CachedAt)
	assert.Equal(t, "Dune", entry.Title)

	all, err := repo.ListMetadata(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
