// Package sync provides database operations for sync progress tracking.
//
// This package implements the ProgressReporter interface used by the sync
// manager.
//
// # Interface Implementation
//
//	var _ syncer.ProgressReporter = (*Repository)(nil)
//
// # Usage
//
//	repo := sync.NewRepository(db)
//	err := repo.StartSync(ctx, "manual", 12)
package sync

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/mrlokans/shelfsync/internal/database"
	"github.com/mrlokans/shelfsync/internal/entities"
	"github.com/mrlokans/shelfsync/internal/errs"
)

// staleAfter is how long a running record may go without updates before it
// is treated as interrupted.
const staleAfter = 10 * time.Minute

// Repository handles all sync progress database operations.
type Repository struct {
	db       *gorm.DB
	syncType entities.SyncType
}

// NewRepository creates a new sync repository for action replay.
func NewRepository(db *database.Database) *Repository {
	return &Repository{db: db.DB, syncType: entities.SyncTypeActions}
}

// NewRepositoryWithType creates a sync repository for a specific sync type.
func NewRepositoryWithType(db *database.Database, syncType entities.SyncType) *Repository {
	return &Repository{db: db.DB, syncType: syncType}
}

// GetSyncProgress retrieves the sync progress for the configured sync type.
func (r *Repository) GetSyncProgress(ctx context.Context) (*entities.SyncProgress, error) {
	var progress entities.SyncProgress
	err := r.db.WithContext(ctx).Where("sync_type = ?", r.syncType).First(&progress).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.Wrap(errs.CodeNotFound, "sync progress", err)
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeStorageUnavailable, "sync progress", err)
	}
	return &progress, nil
}

// StartSync creates or resets a sync progress record.
// Implements ProgressReporter.StartSync.
func (r *Repository) StartSync(ctx context.Context, trigger string, totalItems int) error {
	var progress entities.SyncProgress
	result := r.db.WithContext(ctx).Where("sync_type = ?", r.syncType).First(&progress)

	now := time.Now().UTC()
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		progress = entities.SyncProgress{
			SyncType:   r.syncType,
			Status:     entities.SyncStatusRunning,
			Trigger:    trigger,
			TotalItems: totalItems,
			StartedAt:  now,
			UpdatedAt:  now,
		}
		return r.wrap(r.db.WithContext(ctx).Create(&progress).Error)
	} else if result.Error != nil {
		return r.wrap(result.Error)
	}

	// Reset existing record
	progress.Status = entities.SyncStatusRunning
	progress.Trigger = trigger
	progress.TotalItems = totalItems
	progress.Processed = 0
	progress.Succeeded = 0
	progress.Failed = 0
	progress.Skipped = 0
	progress.CurrentItem = ""
	progress.Error = ""
	progress.StartedAt = now
	progress.UpdatedAt = now
	progress.CompletedAt = nil

	return r.wrap(r.db.WithContext(ctx).Save(&progress).Error)
}

// UpdateProgress updates the progress of an ongoing sync.
// Implements ProgressReporter.UpdateProgress.
func (r *Repository) UpdateProgress(ctx context.Context, processed, succeeded, failed, skipped int, currentItem string) error {
	return r.wrap(r.db.WithContext(ctx).Model(&entities.SyncProgress{}).
		Where("sync_type = ?", r.syncType).
		Updates(map[string]any{
			"processed":    processed,
			"succeeded":    succeeded,
			"failed":       failed,
			"skipped":      skipped,
			"current_item": currentItem,
			"updated_at":   time.Now().UTC(),
		}).Error)
}

// CompleteSync marks a sync as completed or failed.
// Implements ProgressReporter.CompleteSync.
func (r *Repository) CompleteSync(ctx context.Context, succeeded bool, errorMsg string) error {
	now := time.Now().UTC()
	status := entities.SyncStatusCompleted
	if !succeeded {
		status = entities.SyncStatusFailed
	}

	updates := map[string]any{
		"status":       status,
		"current_item": "",
		"updated_at":   now,
		"completed_at": now,
	}
	if errorMsg != "" {
		updates["error"] = errorMsg
	}
	return r.wrap(r.db.WithContext(ctx).Model(&entities.SyncProgress{}).
		Where("sync_type = ?", r.syncType).
		Updates(updates).Error)
}

// IsSyncRunning checks if a sync is currently in progress.
// A sync is considered stale if not updated in 10 minutes.
func (r *Repository) IsSyncRunning(ctx context.Context) (bool, error) {
	var progress entities.SyncProgress
	err := r.db.WithContext(ctx).
		Where("sync_type = ? AND status = ?", r.syncType, entities.SyncStatusRunning).
		First(&progress).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, r.wrap(err)
	}

	if progress.UpdatedAt.Before(time.Now().Add(-staleAfter)) {
		_ = r.CompleteSync(ctx, false, "sync was interrupted")
		return false, nil
	}

	return true, nil
}

func (r *Repository) wrap(err error) error {
	if err == nil {
		return nil
	}
	return errs.Wrap(errs.CodeStorageUnavailable, "sync progress "+string(r.syncType), err)
}
