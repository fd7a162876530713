// Package remote talks to the reading service's HTTP API: it replays queued
// actions, downloads book files and answers reachability probes.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mrlokans/shelfsync/internal/entities"
	"github.com/mrlokans/shelfsync/internal/errs"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultUserAgent   = "shelfsync/1.0"
	defaultProbePath   = "/health"
	maxFetchAttempts   = 3
	initialRetryDelay  = 1 * time.Second
	maxRetryDelay      = 30 * time.Second
	retryBackoffFactor = 2
	maxErrorBody       = 512
)

type Config struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	UserAgent string
	ProbePath string
}

// Client interfaces with the remote reading service
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	userAgent  string
	probePath  string
	retryDelay func(attempt int) time.Duration
}

// NewClient creates a new remote API client
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.ProbePath == "" {
		cfg.ProbePath = defaultProbePath
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		userAgent:  cfg.UserAgent,
		probePath:  cfg.ProbePath,
		retryDelay: calculateRetryDelay,
	}
}

// Ping performs a lightweight GET against the probe path and returns the
// round trip time.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+c.probePath, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()
	rtt := time.Since(start)

	// Any answer below 500 proves the service is reachable
	if resp.StatusCode >= 500 {
		return 0, &StatusError{StatusCode: resp.StatusCode}
	}
	return rtt, nil
}

// FetchBookContent downloads a book file. An empty location means the service's
// own content endpoint for bookID. Rate limits and server errors are retried
// with exponential backoff.
func (c *Client) FetchBookContent(ctx context.Context, bookID, location string) ([]byte, error) {
	if location == "" {
		location = c.baseURL + "/api/books/" + url.PathEscape(bookID) + "/content"
	}

	var lastErr error
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, errs.Wrap(errs.CodeFetchFailed, "download "+bookID, ctx.Err())
			case <-time.After(c.retryDelay(attempt)):
			}
		}

		body, err := c.download(ctx, location)
		if err == nil {
			return body, nil
		}
		lastErr = err

		// Only retry on rate limits or server errors
		if !isRetryableError(err) {
			break
		}
	}
	return nil, errs.Wrap(errs.CodeFetchFailed, "download "+bookID, lastErr)
}

func (c *Client) download(ctx context.Context, target string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// ApplyAction replays one queued action. A 409 means the service holds a
// newer version of the record and is reported as errs.ErrSuperseded.
func (c *Client) ApplyAction(ctx context.Context, action entities.QueuedAction) error {
	payload, err := action.DecodePayload()
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", action.Type, err)
	}

	var method, path string
	switch p := payload.(type) {
	case *entities.ProgressPayload:
		method, path = http.MethodPut, "/api/books/"+url.PathEscape(p.BookID)+"/progress"
	case *entities.NotePayload:
		switch action.Type {
		case entities.ActionCreateNote:
			method, path = http.MethodPost, "/api/books/"+url.PathEscape(p.BookID)+"/notes"
		case entities.ActionUpdateNote:
			method, path = http.MethodPut, "/api/notes/"+url.PathEscape(p.NoteID)
		default:
			method, path = http.MethodDelete, "/api/notes/"+url.PathEscape(p.NoteID)
		}
	case *entities.HighlightPayload:
		if action.Type == entities.ActionCreateHighlight {
			method, path = http.MethodPost, "/api/books/"+url.PathEscape(p.BookID)+"/highlights"
		} else {
			method, path = http.MethodDelete, "/api/highlights/"+url.PathEscape(p.HighlightID)
		}
	case *entities.BookmarkPayload:
		method, path = http.MethodPut, "/api/books/"+url.PathEscape(p.BookID)+"/bookmark"
	default:
		return fmt.Errorf("no endpoint for action type %q", action.Type)
	}

	var body io.Reader
	if method != http.MethodDelete {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", action.Type, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := c.newRequest(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Idempotency-Key", action.ID)
	req.Header.Set("X-Client-Timestamp", payload.ModifiedAt().UTC().Format(time.RFC3339Nano))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return errs.Wrap(errs.CodeSuperseded, fmt.Sprintf("%s %s", action.Type, action.ID), checkStatus(resp))
	case resp.StatusCode == http.StatusNotFound && method == http.MethodDelete:
		// Already gone
		return nil
	}
	return checkStatus(resp)
}

// Handlers returns one dispatch function per action type.
func (c *Client) Handlers() map[entities.ActionType]func(context.Context, entities.QueuedAction) error {
	handlers := make(map[entities.ActionType]func(context.Context, entities.QueuedAction) error, len(entities.ActionTypes))
	for _, t := range entities.ActionTypes {
		handlers[t] = c.ApplyAction
	}
	return handlers
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrInvalidToken
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func calculateRetryDelay(attempt int) time.Duration {
	delay := initialRetryDelay
	for i := 0; i < attempt; i++ {
		delay *= time.Duration(retryBackoffFactor)
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

func isRetryableError(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return false
}
