package remote

import (
	"errors"
	"fmt"
)

// ErrInvalidToken indicates the remote service rejected the API token
var ErrInvalidToken = errors.New("invalid or expired API token")

// ErrRateLimited indicates the remote service asked us to slow down
var ErrRateLimited = errors.New("remote API rate limit exceeded")

// StatusError is an unexpected HTTP status from the remote service
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote service error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("remote service error: HTTP %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed if repeated.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 408
}
