package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type ContentBackend string

const (
	ContentBackendHTTP  ContentBackend = "http"  // Download book files from the remote service (default)
	ContentBackendMinio ContentBackend = "minio" // Download book files from an S3-compatible bucket
)

type (
	Config struct {
		HTTP
		Global
		Log
		Database
		Cache
		Queue
		Sync
		Remote
		Network
		ContentStore
		Tasks
	}

	HTTP struct {
		Port int32
		Host string
	}
	Global struct {
		ShutdownTimeoutInSeconds int
	}
	Log struct {
		Level  string
		Format string // "console" or "json"
	}
	Database struct {
		Path string
	}
	Cache struct {
		MaxBooks        int
		ExpiryDays      int
		CleanupSchedule string // Cron format: "0 3 * * *" = daily at 03:00
	}
	Queue struct {
		MaxRetries      int
		DefaultPriority int
	}
	Sync struct {
		Enabled         bool
		Interval        time.Duration // Periodic pass while online
		DispatchTimeout time.Duration // Upper bound for a single remote call
		RetryBackoff    time.Duration // Base delay before a failed action is retried
		MaxBackoff      time.Duration
	}
	Remote struct {
		BaseURL   string
		Token     string
		Timeout   time.Duration
		UserAgent string
	}
	Network struct {
		ProbePath    string
		ProbeTimeout time.Duration
		AssumeOnline bool // Start online without waiting for the first probe
	}
	ContentStore struct {
		Backend   ContentBackend
		Endpoint  string
		AccessKey string
		SecretKey string
		Bucket    string
		Prefix    string
		UseSSL    bool
	}
	Tasks struct {
		Enabled         bool
		Workers         int
		BackgroundDelay time.Duration // Delay applied to background-priority submissions
		ReleaseAfter    time.Duration
		CleanupInterval time.Duration
	}
)

func NewConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("port", 8189)
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("shutdown_timeout_in_seconds", 5)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("database_path", DefaultDatabasePath)

	// Content cache defaults
	v.SetDefault("cache_max_books", DefaultMaxCachedBooks)
	v.SetDefault("cache_expiry_days", DefaultCacheExpiryDays)
	v.SetDefault("cache_cleanup_schedule", "0 3 * * *")

	// Action queue defaults
	v.SetDefault("queue_max_retries", DefaultMaxRetries)
	v.SetDefault("queue_default_priority", DefaultPriority)

	// Sync manager defaults
	v.SetDefault("sync_enabled", true)
	v.SetDefault("sync_interval", "5m")
	v.SetDefault("sync_dispatch_timeout", "30s")
	v.SetDefault("sync_retry_backoff", "30s")
	v.SetDefault("sync_max_backoff", "15m")

	// Remote service defaults
	v.SetDefault("remote_base_url", "http://localhost:8080")
	v.SetDefault("remote_token", "")
	v.SetDefault("remote_timeout", "30s")
	v.SetDefault("remote_user_agent", "ShelfSync/1.0")

	// Network monitor defaults
	v.SetDefault("network_probe_path", "/health")
	v.SetDefault("network_probe_timeout", "5s")
	v.SetDefault("network_assume_online", false)

	// Content store defaults
	v.SetDefault("content_store_backend", string(ContentBackendHTTP))
	v.SetDefault("content_store_bucket", "books")
	v.SetDefault("content_store_prefix", "books")
	v.SetDefault("content_store_use_ssl", true)

	// Task queue defaults
	v.SetDefault("tasks_enabled", true)
	v.SetDefault("task_workers", 2)
	v.SetDefault("task_background_delay", "30s")
	v.SetDefault("task_release_after", "15m")
	v.SetDefault("task_cleanup_interval", "1h")

	return &Config{
		HTTP: HTTP{
			Port: v.GetInt32("PORT"),
			Host: v.GetString("HOST"),
		},
		Global: Global{
			ShutdownTimeoutInSeconds: v.GetInt("SHUTDOWN_TIMEOUT_IN_SECONDS"),
		},
		Log: Log{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Database: Database{
			Path: v.GetString("DATABASE_PATH"),
		},
		Cache: Cache{
			MaxBooks:        v.GetInt("CACHE_MAX_BOOKS"),
			ExpiryDays:      v.GetInt("CACHE_EXPIRY_DAYS"),
			CleanupSchedule: v.GetString("CACHE_CLEANUP_SCHEDULE"),
		},
		Queue: Queue{
			MaxRetries:      v.GetInt("QUEUE_MAX_RETRIES"),
			DefaultPriority: v.GetInt("QUEUE_DEFAULT_PRIORITY"),
		},
		Sync: Sync{
			Enabled:         v.GetBool("SYNC_ENABLED"),
			Interval:        v.GetDuration("SYNC_INTERVAL"),
			DispatchTimeout: v.GetDuration("SYNC_DISPATCH_TIMEOUT"),
			RetryBackoff:    v.GetDuration("SYNC_RETRY_BACKOFF"),
			MaxBackoff:      v.GetDuration("SYNC_MAX_BACKOFF"),
		},
		Remote: Remote{
			BaseURL:   v.GetString("REMOTE_BASE_URL"),
			Token:     v.GetString("REMOTE_TOKEN"),
			Timeout:   v.GetDuration("REMOTE_TIMEOUT"),
			UserAgent: v.GetString("REMOTE_USER_AGENT"),
		},
		Network: Network{
			ProbePath:    v.GetString("NETWORK_PROBE_PATH"),
			ProbeTimeout: v.GetDuration("NETWORK_PROBE_TIMEOUT"),
			AssumeOnline: v.GetBool("NETWORK_ASSUME_ONLINE"),
		},
		ContentStore: ContentStore{
			Backend:   ContentBackend(v.GetString("CONTENT_STORE_BACKEND")),
			Endpoint:  v.GetString("CONTENT_STORE_ENDPOINT"),
			AccessKey: v.GetString("CONTENT_STORE_ACCESS_KEY"),
			SecretKey: v.GetString("CONTENT_STORE_SECRET_KEY"),
			Bucket:    v.GetString("CONTENT_STORE_BUCKET"),
			Prefix:    v.GetString("CONTENT_STORE_PREFIX"),
			UseSSL:    v.GetBool("CONTENT_STORE_USE_SSL"),
		},
		Tasks: Tasks{
			Enabled:         v.GetBool("TASKS_ENABLED"),
			Workers:         v.GetInt("TASK_WORKERS"),
			BackgroundDelay: v.GetDuration("TASK_BACKGROUND_DELAY"),
			ReleaseAfter:    v.GetDuration("TASK_RELEASE_AFTER"),
			CleanupInterval: v.GetDuration("TASK_CLEANUP_INTERVAL"),
		},
	}
}

// Validate reports every out-of-range setting at once.
func (c *Config) Validate() error {
	var problems []error

	if c.Cache.MaxBooks < 1 {
		problems = append(problems, fmt.Errorf("CACHE_MAX_BOOKS must be at least 1, got %d", c.Cache.MaxBooks))
	}
	if c.Cache.ExpiryDays < 1 {
		problems = append(problems, fmt.Errorf("CACHE_EXPIRY_DAYS must be at least 1, got %d", c.Cache.ExpiryDays))
	}
	if c.Queue.MaxRetries < 1 {
		problems = append(problems, fmt.Errorf("QUEUE_MAX_RETRIES must be at least 1, got %d", c.Queue.MaxRetries))
	}
	if c.Queue.DefaultPriority < MinPriority || c.Queue.DefaultPriority > MaxPriority {
		problems = append(problems, fmt.Errorf("QUEUE_DEFAULT_PRIORITY must be within %d-%d, got %d",
			MinPriority, MaxPriority, c.Queue.DefaultPriority))
	}
	if c.Sync.Interval <= 0 {
		problems = append(problems, fmt.Errorf("SYNC_INTERVAL must be positive, got %s", c.Sync.Interval))
	}
	if c.Sync.DispatchTimeout <= 0 {
		problems = append(problems, fmt.Errorf("SYNC_DISPATCH_TIMEOUT must be positive, got %s", c.Sync.DispatchTimeout))
	}
	if c.Sync.RetryBackoff < 0 || c.Sync.MaxBackoff < 0 {
		problems = append(problems, errors.New("SYNC_RETRY_BACKOFF and SYNC_MAX_BACKOFF must not be negative"))
	}
	if c.Network.ProbeTimeout <= 0 {
		problems = append(problems, fmt.Errorf("NETWORK_PROBE_TIMEOUT must be positive, got %s", c.Network.ProbeTimeout))
	}
	switch c.ContentStore.Backend {
	case ContentBackendHTTP:
	case ContentBackendMinio:
		if c.ContentStore.Endpoint == "" {
			problems = append(problems, errors.New("CONTENT_STORE_ENDPOINT is required for the minio backend"))
		}
	default:
		problems = append(problems, fmt.Errorf("unknown CONTENT_STORE_BACKEND %q", c.ContentStore.Backend))
	}
	if c.Tasks.Enabled && c.Tasks.Workers < 1 {
		problems = append(problems, fmt.Errorf("TASK_WORKERS must be at least 1, got %d", c.Tasks.Workers))
	}

	return errors.Join(problems...)
}
