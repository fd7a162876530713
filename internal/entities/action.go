package entities

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ActionType string

const (
	ActionUpdateProgress  ActionType = "update_progress"
	ActionCreateNote      ActionType = "create_note"
	ActionUpdateNote      ActionType = "update_note"
	ActionDeleteNote      ActionType = "delete_note"
	ActionCreateHighlight ActionType = "create_highlight"
	ActionDeleteHighlight ActionType = "delete_highlight"
	ActionUpdateBookmark  ActionType = "update_bookmark"
)

// ActionTypes lists every type the remote service accepts.
var ActionTypes = []ActionType{
	ActionUpdateProgress,
	ActionCreateNote,
	ActionUpdateNote,
	ActionDeleteNote,
	ActionCreateHighlight,
	ActionDeleteHighlight,
	ActionUpdateBookmark,
}

func (t ActionType) Valid() bool {
	for _, known := range ActionTypes {
		if t == known {
			return true
		}
	}
	return false
}

type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusSyncing   ActionStatus = "syncing"
	ActionStatusCompleted ActionStatus = "completed"
	ActionStatusFailed    ActionStatus = "failed"
)

func (s ActionStatus) Valid() bool {
	switch s {
	case ActionStatusPending, ActionStatusSyncing, ActionStatusCompleted, ActionStatusFailed:
		return true
	}
	return false
}

// QueuedAction is a user mutation waiting to be replayed against the remote
// service. Completed actions are deleted rather than archived.
type QueuedAction struct {
	ID         string         `gorm:"primaryKey;size:36" json:"id"`
	Type       ActionType     `gorm:"size:32;index" json:"type"`
	Payload    datatypes.JSON `json:"payload"`
	AnchorKey  string         `gorm:"size:300;index" json:"anchor_key"` // Record the action mutates, e.g. "note:n1"
	Status     ActionStatus   `gorm:"size:16;index" json:"status"`
	Priority   int            `json:"priority"` // 1-10, higher runs sooner
	EnqueuedAt time.Time      `gorm:"index" json:"enqueued_at"`
	Sequence   int64          `json:"sequence"` // FIFO tie-breaker within equal enqueue times

	// Retry bookkeeping
	RetryCount    int        `gorm:"default:0" json:"retry_count"`
	MaxRetries    int        `json:"max_retries"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	LastError     string     `gorm:"type:text" json:"last_error,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (QueuedAction) TableName() string {
	return "sync_queue"
}

func (a QueuedAction) Key() string {
	return a.ID
}

func (a *QueuedAction) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// Exhausted reports whether the retry budget is used up.
func (a QueuedAction) Exhausted() bool {
	return a.RetryCount >= a.MaxRetries
}

// Retryable reports whether a failed action may be attempted again.
func (a QueuedAction) Retryable() bool {
	return a.Status == ActionStatusFailed && !a.Exhausted()
}

func (a QueuedAction) PermanentlyFailed() bool {
	return a.Status == ActionStatusFailed && a.Exhausted()
}

// DecodePayload unmarshals the payload into its typed form.
func (a QueuedAction) DecodePayload() (Payload, error) {
	p, err := NewPayload(a.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(a.Payload, p); err != nil {
		return nil, err
	}
	return p, nil
}
