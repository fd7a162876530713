package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/shelfsync/internal/entities"
	"github.com/mrlokans/shelfsync/internal/errs"
	"github.com/mrlokans/shelfsync/internal/logging"
)

// Database is the handle to the local durable store. Inside a transaction
// it wraps the transaction's *gorm.DB instead of the pool.
type Database struct {
	DB   *gorm.DB
	path string
}

// Options tunes how the store is opened.
type Options struct {
	LogLevel logger.LogLevel
}

func NewDatabase(dbPath string) (*Database, error) {
	return Open(dbPath, Options{LogLevel: logger.Warn})
}

func Open(dbPath string, opts Options) (*Database, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.Wrap(errs.CodeStorageUnavailable, "create database directory", err)
		}
	}

	dsn := dbPath + "?_journal=WAL&_timeout=5000&_txlock=immediate"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logging.GormLogger(logging.Get("database"), opts.LogLevel),
	})
	if err != nil {
		return nil, errs.Wrap(errs.CodeStorageUnavailable, "connect to database", err)
	}

	// One connection serialises writers; transactions must only use their tx.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errs.Wrap(errs.CodeStorageUnavailable, "connect to database", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&entities.QueuedAction{},
		&entities.CachedBook{},
		&entities.CacheMetadataEntry{},
		&entities.SyncProgress{},
	)
	if err != nil {
		return nil, errs.Wrap(errs.CodeStorageUnavailable, "migrate database", err)
	}

	logging.Get("database").Info().Str("path", dbPath).Msg("database initialized")

	return &Database{DB: db, path: dbPath}, nil
}

// Path returns the file the store was opened from.
func (d *Database) Path() string {
	return d.path
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the underlying connection is usable.
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return errs.Wrap(errs.CodeStorageUnavailable, "ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errs.Wrap(errs.CodeStorageUnavailable, "ping", err)
	}
	return nil
}

// Transaction runs fn atomically. Errors that already carry a code are
// returned unchanged; anything else is reported as storage unavailable.
func (d *Database) Transaction(ctx context.Context, fn func(tx *Database) error) error {
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Database{DB: tx, path: d.path})
	})
	if err == nil || errs.CodeOf(err) != "" {
		return err
	}
	return errs.Wrap(errs.CodeStorageUnavailable, "transaction", err)
}

// storageError classifies a gorm error for partition.
func storageError(op, partition string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.Wrap(errs.CodeNotFound, fmt.Sprintf("%s %s", op, partition), err)
	}
	return errs.Wrap(errs.CodeStorageUnavailable, fmt.Sprintf("%s %s", op, partition), err)
}
