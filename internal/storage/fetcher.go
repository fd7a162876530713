package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/mrlokans/shelfsync/internal/errs"
)

const schemeS3 = "s3://"

// ContentFetcher downloads book files from object storage for the content
// cache. Locations are either "s3://<bucket>/<key>", a bare key, or empty,
// which resolves to "<prefix>/<bookID>".
type ContentFetcher struct {
	client Client
	bucket string
	prefix string
}

func NewContentFetcher(client Client, bucket, prefix string) *ContentFetcher {
	return &ContentFetcher{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (f *ContentFetcher) FetchBookContent(ctx context.Context, bookID, location string) ([]byte, error) {
	key, err := f.objectKey(bookID, location)
	if err != nil {
		return nil, errs.Wrap(errs.CodeFetchFailed, "resolve "+bookID, err)
	}

	rc, err := f.client.Download(ctx, key)
	if err != nil {
		return nil, errs.Wrap(errs.CodeFetchFailed, "download "+key, err)
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, errs.Wrap(errs.CodeFetchFailed, "read "+key, err)
	}
	return body, nil
}

func (f *ContentFetcher) objectKey(bookID, location string) (string, error) {
	switch {
	case location == "":
		if bookID == "" {
			return "", fmt.Errorf("book id is required")
		}
		return path.Join(f.prefix, bookID), nil
	case strings.HasPrefix(location, schemeS3):
		bucket, key, ok := strings.Cut(strings.TrimPrefix(location, schemeS3), "/")
		if !ok || key == "" {
			return "", fmt.Errorf("malformed object url %q", location)
		}
		if f.bucket != "" && bucket != f.bucket {
			return "", fmt.Errorf("object url %q is outside bucket %q", location, f.bucket)
		}
		return key, nil
	case strings.Contains(location, "://"):
		return "", fmt.Errorf("unsupported location %q", location)
	}
	return strings.TrimPrefix(location, "/"), nil
}
