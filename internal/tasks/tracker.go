// Package tasks records the progress and status of long-running ingestion
// and deletion operations so they stay observable and resumable.
//
// A task is created pending, transitions monotonically toward a terminal
// state (completed or failed), and never regresses. Progress is advisory:
// callers that report a lower value than previously observed are clamped,
// not rejected.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrTaskNotFound indicates an unknown task id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrCancelled marks a task failed by an external timeout supervisor.
	// The in-flight writes still complete before the failure is recorded,
	// so blob and catalog state never diverge from what the task claims.
	ErrCancelled = errors.New("cancelled")
)

// Status is a task lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TaskRecord is the persisted state of one tracked operation.
type TaskRecord struct {
	TaskID    string  `gorm:"primaryKey;size:36"`
	Status    Status  `gorm:"size:16;not null"`
	Progress  float64 `gorm:"not null;default:0"`
	Message   string  `gorm:"size:1024"`
	Result    string  `gorm:"type:text"` // structured payload, JSON
	Error     string  `gorm:"size:1024"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tracker persists task records. Safe for concurrent use; it shares the
// catalog's connection pool.
type Tracker struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewTracker creates a tracker over an existing database handle and
// migrates the tasks table.
func NewTracker(db *gorm.DB, logger *zap.Logger) (*Tracker, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&TaskRecord{}); err != nil {
		return nil, fmt.Errorf("migrating tasks schema: %w", err)
	}
	return &Tracker{db: db, logger: logger}, nil
}

// Submit creates a pending task and returns its id.
func (t *Tracker) Submit(ctx context.Context) (string, error) {
	rec := &TaskRecord{
		TaskID:  uuid.New().String(),
		Status:  StatusPending,
		Message: "task created",
	}
	if err := t.db.WithContext(ctx).Create(rec).Error; err != nil {
		return "", fmt.Errorf("submitting task: %w", err)
	}
	t.logger.Debug("submitted task", zap.String("task_id", rec.TaskID))
	return rec.TaskID, nil
}

// Update reports progress on a pending or running task. The first update
// moves the task to running. Progress only moves forward; a report below
// the stored value is clamped to it. Updates after a terminal state are
// silently ignored.
func (t *Tracker) Update(ctx context.Context, taskID string, progress float64, message string) error {
	return t.transition(ctx, taskID, func(rec *TaskRecord) bool {
		if rec.Status.Terminal() {
			return false
		}
		rec.Status = StatusRunning
		if progress > 1 {
			progress = 1
		}
		if progress > rec.Progress {
			rec.Progress = progress
		}
		rec.Message = message
		return true
	})
}

// Complete marks the task completed with a structured result payload.
// Idempotent: a second terminal call is a no-op.
func (t *Tracker) Complete(ctx context.Context, taskID, result string) error {
	return t.transition(ctx, taskID, func(rec *TaskRecord) bool {
		if rec.Status.Terminal() {
			return false
		}
		rec.Status = StatusCompleted
		rec.Progress = 1
		rec.Message = "completed"
		rec.Result = result
		return true
	})
}

// Fail marks the task failed with the proximate error. Idempotent: a second
// terminal call is a no-op.
func (t *Tracker) Fail(ctx context.Context, taskID string, taskErr error) error {
	return t.transition(ctx, taskID, func(rec *TaskRecord) bool {
		if rec.Status.Terminal() {
			return false
		}
		rec.Status = StatusFailed
		rec.Message = "failed"
		if taskErr != nil {
			rec.Error = taskErr.Error()
		}
		return true
	})
}

// Get fetches a task record by id.
func (t *Tracker) Get(ctx context.Context, taskID string) (*TaskRecord, error) {
	var rec TaskRecord
	err := t.db.WithContext(ctx).Where("task_id = ?", taskID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting task %s: %w", taskID, err)
	}
	return &rec, nil
}

// Recent returns the newest tasks first, capped at limit. Zero or negative
// limits default to 20.
func (t *Tracker) Recent(ctx context.Context, limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []TaskRecord
	err := t.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return recs, nil
}

// Cleanup deletes terminal tasks last updated before the horizon, returning
// how many were removed. Pending and running tasks are retained regardless
// of age.
func (t *Tracker) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	horizon := time.Now().Add(-olderThan)
	res := t.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []Status{StatusCompleted, StatusFailed}, horizon).
		Delete(&TaskRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("cleaning up tasks: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		t.logger.Info("purged tasks", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// transition applies mutate inside a transaction; mutate returns false to
// skip the write (terminal-state no-op).
func (t *Tracker) transition(ctx context.Context, taskID string, mutate func(*TaskRecord) bool) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec TaskRecord
		err := tx.Where("task_id = ?", taskID).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		if err != nil {
			return fmt.Errorf("loading task %s: %w", taskID, err)
		}
		if !mutate(&rec) {
			return nil
		}
		rec.UpdatedAt = time.Now()
		return tx.Save(&rec).Error
	})
}
