// Package storage reads book files from S3-compatible object storage.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotExist is returned when the requested object does not exist.
var ErrNotExist = errors.New("object does not exist")

// FileInfo contains metadata about an object in storage
type FileInfo struct {
	Key         string
	Size        int64
	ModifiedAt  time.Time
	ContentType string
	ContentHash string // Provider-specific content hash (ETag for S3)
}

// Client defines the interface for object storage operations
type Client interface {
	// Download retrieves the contents of an object
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Upload writes content to an object
	Upload(ctx context.Context, key string, content io.Reader, size int64, contentType string) error

	// Delete removes an object
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)

	// GetMetadata retrieves object info without downloading content
	GetMetadata(ctx context.Context, key string) (*FileInfo, error)
}
