package config

const (
	// DefaultDatabasePath is the default location of the durable store.
	// The task queue database lives next to it with a "-tasks" suffix.
	DefaultDatabasePath = "./data/shelfsync.db"

	DefaultMaxCachedBooks  = 10
	DefaultCacheExpiryDays = 30

	DefaultMaxRetries = 3
	DefaultPriority   = 5
	MinPriority       = 1
	MaxPriority       = 10
)
