package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	tracker, err := NewTracker(db, nil)
	require.NoError(t, err)
	return tracker
}

func TestSubmit(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	taskID, err := tracker.Submit(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	rec, err := tracker.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Zero(t, rec.Progress)
}

func TestGet_NotFound(t *testing.T) {
	tracker := newTestTracker(t)
	_, err := tracker.Get(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestUpdate_MovesToRunning(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()
	taskID, err := tracker.Submit(ctx)
	require.NoError(t, err)

	require.NoError(t, tracker.Update(ctx, taskID, 0.3, "working"))

	rec, err := tracker.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Equal(t, 0.3, rec.Progress)
	assert.Equal(t, "working", rec.Message)
}

func TestUpdate_ProgressMonotonic(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()
	taskID, err := tracker.Submit(ctx)
	require.NoError(t, err)

	require.NoError(t, tracker.Update(ctx, taskID, 0.7, "ahead"))
	// A lower report never moves progress backwards.
	require.NoError(t, tracker.Update(ctx, taskID, 0.2, "behind"))

	rec, err := tracker.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, 0.7, rec.Progress)
	assert.Equal(t, "behind", rec.Message)
}

func TestUpdate_ProgressClamped(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()
	taskID, err := tracker.Submit(ctx)
	require.NoError(t, err)

	require.NoError(t, tracker.Update(ctx, taskID, 3.5, "overshoot"))

	rec, err := tracker.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.Progress)
}

func TestComplete(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()
	taskID, err := tracker.Submit(ctx)
	require.NoError(t, err)

	require.NoError(t, tracker.Complete(ctx, taskID, `{"chunks":5}`))

	rec, err := tracker.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, 1.0, rec.Progress)
	assert.Equal(t, `{"chunks":5}`, rec.Result)
	assert.True(t, rec.Status.Terminal())
}

func TestFail(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()
	taskID, err := tracker.Submit(ctx)
	require.NoError(t, err)

	require.NoError(t, tracker.Fail(ctx, taskID, errors.New("embedding service down")))

	rec, err := tracker.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "embedding service down", rec.Error)
}

func TestTerminalTransitions_Idempotent(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()
	taskID, err := tracker.Submit(ctx)
	require.NoError(t, err)

	require.NoError(t, tracker.Complete(ctx, taskID, `{"ok":true}`))

	// Terminal tasks ignore further transitions without erroring.
	require.NoError(t, tracker.Fail(ctx, taskID, errors.New("late failure")))
	require.NoError(t, tracker.Update(ctx, taskID, 0.5, "late update"))
	require.NoError(t, tracker.Complete(ctx, taskID, `{"ok":false}`))

	rec, err := tracker.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, `{"ok":true}`, rec.Result)
	assert.Empty(t, rec.Error)
}

func TestRecent(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	recs, err := tracker.Recent(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, recs)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := tracker.Submit(ctx)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, tracker.Complete(ctx, ids[2], "{}"))

	recs, err = tracker.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	// Newest first: the last submitted task leads.
	assert.Equal(t, ids[2], recs[0].TaskID)
	assert.Equal(t, StatusCompleted, recs[0].Status)

	// A non-positive limit falls back to the default cap.
	recs, err = tracker.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestCleanup(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	doneID, err := tracker.Submit(ctx)
	require.NoError(t, err)
	require.NoError(t, tracker.Complete(ctx, doneID, "{}"))

	runningID, err := tracker.Submit(ctx)
	require.NoError(t, err)
	require.NoError(t, tracker.Update(ctx, runningID, 0.5, "in flight"))

	// Horizon in the future relative to updated_at: terminal rows qualify.
	purged, err := tracker.Cleanup(ctx, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	// The running task survives regardless of age.
	_, err = tracker.Get(ctx, runningID)
	require.NoError(t, err)
	_, err = tracker.Get(ctx, doneID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}
