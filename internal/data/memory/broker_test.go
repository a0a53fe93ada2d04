package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobwell/jobwell-go/internal/core"
	"github.com/jobwell/jobwell-go/internal/data"
	"github.com/jobwell/jobwell-go/internal/domain/model"
)

func ingestionRequest() *model.EnqueueTaskRequest {
	return &model.EnqueueTaskRequest{
		Type:    model.TaskTypeIngestion,
		Payload: json.RawMessage(`{"source":"adzuna","query":"golang","page":1,"per_page":50}`),
	}
}

func TestBrokerEnqueueAndLease(t *testing.T) {
	ctx := context.Background()
	b := NewBroker(nil)

	created, err := b.Enqueue(ctx, ingestionRequest())
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, created.Status)
	assert.Equal(t, 0, created.Attempt)

	leased, err := b.Lease(ctx, model.TaskTypeIngestion, 60)
	require.NoError(t, err)
	assert.Equal(t, created.ID, leased.ID)
	assert.Equal(t, model.TaskStatusRunning, leased.Status)
	require.NotNil(t, leased.LeaseExpiresAt)

	_, err = b.Lease(ctx, model.TaskTypeIngestion, 60)
	assert.ErrorIs(t, err, model.ErrNoTasksAvailable)
}

func TestBrokerLeaseOrdersByScheduledAt(t *testing.T) {
	ctx := context.Background()
	tp := data.NewFixedTimeProvider(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	b := NewBroker(tp)

	later := tp.Now().Add(time.Minute)
	reqLater := ingestionRequest()
	reqLater.ScheduledAt = &later
	taskLater, err := b.Enqueue(ctx, reqLater)
	require.NoError(t, err)

	taskNow, err := b.Enqueue(ctx, ingestionRequest())
	require.NoError(t, err)

	leased, err := b.Lease(ctx, model.TaskTypeIngestion, 60)
	require.NoError(t, err)
	assert.Equal(t, taskNow.ID, leased.ID)

	// Future work is invisible until its scheduled time arrives.
	_, err = b.Lease(ctx, model.TaskTypeIngestion, 60)
	require.ErrorIs(t, err, model.ErrNoTasksAvailable)

	tp.AddTime(2 * time.Minute)
	leased, err = b.Lease(ctx, model.TaskTypeIngestion, 60)
	require.NoError(t, err)
	assert.Equal(t, taskLater.ID, leased.ID)
}

func TestBrokerLapsedLeaseIsRedelivered(t *testing.T) {
	ctx := context.Background()
	tp := data.NewFixedTimeProvider(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	b := NewBroker(tp)

	created, err := b.Enqueue(ctx, ingestionRequest())
	require.NoError(t, err)

	_, err = b.Lease(ctx, model.TaskTypeIngestion, 30)
	require.NoError(t, err)

	// Still leased: no redelivery.
	_, err = b.Lease(ctx, model.TaskTypeIngestion, 30)
	require.ErrorIs(t, err, model.ErrNoTasksAvailable)

	tp.AddTime(time.Minute)
	leased, err := b.Lease(ctx, model.TaskTypeIngestion, 30)
	require.NoError(t, err)
	assert.Equal(t, created.ID, leased.ID)
	// Redelivery after a lapsed lease consumes no attempt.
	assert.Equal(t, 0, leased.Attempt)
}

func TestBrokerAck(t *testing.T) {
	ctx := context.Background()
	b := NewBroker(nil)

	created, err := b.Enqueue(ctx, ingestionRequest())
	require.NoError(t, err)
	_, err = b.Lease(ctx, model.TaskTypeIngestion, 60)
	require.NoError(t, err)

	ok, err := b.Ack(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := b.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	// Acking a settled task is a no-op.
	ok, err = b.Ack(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBrokerNack(t *testing.T) {
	ctx := context.Background()
	tp := data.NewFixedTimeProvider(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	b := NewBroker(tp)

	req := ingestionRequest()
	req.MaxAttempts = 2
	created, err := b.Enqueue(ctx, req)
	require.NoError(t, err)

	t.Run("first failure goes back to pending with delay", func(t *testing.T) {
		_, leaseErr := b.Lease(ctx, model.TaskTypeIngestion, 60)
		require.NoError(t, leaseErr)

		status, nackErr := b.Nack(ctx, core.NackParams{
			TaskID:     created.ID,
			Reason:     "rate limited",
			RetryDelay: time.Minute,
		})
		require.NoError(t, nackErr)
		assert.Equal(t, model.TaskStatusPending, status)

		got, getErr := b.GetByID(ctx, created.ID)
		require.NoError(t, getErr)
		assert.Equal(t, 1, got.Attempt)
		require.NotNil(t, got.LastError)
		assert.Equal(t, "rate limited", *got.LastError)
		assert.Equal(t, tp.Now().Add(time.Minute).UTC(), got.ScheduledAt)
	})

	t.Run("exhausting the budget dead-letters", func(t *testing.T) {
		tp.AddTime(2 * time.Minute)
		_, leaseErr := b.Lease(ctx, model.TaskTypeIngestion, 60)
		require.NoError(t, leaseErr)

		status, nackErr := b.Nack(ctx, core.NackParams{TaskID: created.ID, Reason: "still failing"})
		require.NoError(t, nackErr)
		assert.Equal(t, model.TaskStatusDead, status)

		got, getErr := b.GetByID(ctx, created.ID)
		require.NoError(t, getErr)
		assert.Equal(t, 2, got.Attempt)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("unknown task", func(t *testing.T) {
		_, nackErr := b.Nack(ctx, core.NackParams{TaskID: "missing"})
		assert.Error(t, nackErr)
	})
}

func TestBrokerDeadLetter(t *testing.T) {
	ctx := context.Background()
	b := NewBroker(nil)

	created, err := b.Enqueue(ctx, ingestionRequest())
	require.NoError(t, err)
	_, err = b.Lease(ctx, model.TaskTypeIngestion, 60)
	require.NoError(t, err)

	ok, err := b.DeadLetter(ctx, created.ID, "malformed payload")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := b.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusDead, got.Status)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "malformed payload", *got.LastError)
}

func TestBrokerStats(t *testing.T) {
	ctx := context.Background()
	b := NewBroker(nil)

	for range 3 {
		_, err := b.Enqueue(ctx, ingestionRequest())
		require.NoError(t, err)
	}
	leased, err := b.Lease(ctx, model.TaskTypeIngestion, 60)
	require.NoError(t, err)
	_, err = b.Ack(ctx, leased.ID)
	require.NoError(t, err)
	leased, err = b.Lease(ctx, model.TaskTypeIngestion, 60)
	require.NoError(t, err)
	_, err = b.DeadLetter(ctx, leased.ID, "bad")
	require.NoError(t, err)

	stats, err := b.Stats(ctx, model.TaskTypeIngestion)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 0, stats.Running)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Dead)
}

func TestBrokerWaitForNotification(t *testing.T) {
	ctx := context.Background()
	b := NewBroker(nil)

	t.Run("wakes on enqueue", func(t *testing.T) {
		done := make(chan error, 1)
		go func() {
			waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			done <- b.WaitForNotification(waitCtx, model.TaskTypeIngestion)
		}()

		// Give the waiter a moment to subscribe.
		time.Sleep(50 * time.Millisecond)
		_, err := b.Enqueue(ctx, ingestionRequest())
		require.NoError(t, err)

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("waiter did not wake")
		}
	})

	t.Run("returns context error on timeout", func(t *testing.T) {
		waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		err := b.WaitForNotification(waitCtx, model.TaskTypeSubmission)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestBrokerDeleteOldTasks(t *testing.T) {
	ctx := context.Background()
	tp := data.NewFixedTimeProvider(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	b := NewBroker(tp)

	created, err := b.Enqueue(ctx, ingestionRequest())
	require.NoError(t, err)
	_, err = b.Lease(ctx, model.TaskTypeIngestion, 60)
	require.NoError(t, err)
	_, err = b.Ack(ctx, created.ID)
	require.NoError(t, err)

	t.Run("refuses unsettled statuses", func(t *testing.T) {
		_, delErr := b.DeleteOldTasks(ctx, core.DeleteOldTasksParams{
			Status: model.TaskStatusPending,
			MaxAge: time.Hour,
		})
		assert.Error(t, delErr)
	})

	t.Run("keeps young tasks", func(t *testing.T) {
		n, delErr := b.DeleteOldTasks(ctx, core.DeleteOldTasksParams{
			Status: model.TaskStatusCompleted,
			MaxAge: time.Hour,
		})
		require.NoError(t, delErr)
		assert.Zero(t, n)
	})

	t.Run("purges past retention", func(t *testing.T) {
		tp.AddTime(2 * time.Hour)
		n, delErr := b.DeleteOldTasks(ctx, core.DeleteOldTasksParams{
			Status: model.TaskStatusCompleted,
			MaxAge: time.Hour,
		})
		require.NoError(t, delErr)
		assert.Equal(t, int64(1), n)
		assert.Empty(t, b.List())
	})
}
