package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobwell/jobwell-go/internal/data"
	"github.com/jobwell/jobwell-go/internal/data/memory"
	"github.com/jobwell/jobwell-go/internal/domain/model"
	"github.com/jobwell/jobwell-go/internal/testutil"
)

// settleTask enqueues, leases, and either acks or dead-letters one task.
func settleTask(t *testing.T, broker *memory.Broker, dead bool) string {
	t.Helper()
	ctx := context.Background()
	payload, err := json.Marshal(model.IngestionPayload{
		Source: "adzuna", Query: "golang", Page: 1, PerPage: 50,
	})
	require.NoError(t, err)

	queued, err := broker.Enqueue(ctx, &model.EnqueueTaskRequest{
		Type:    model.TaskTypeIngestion,
		Payload: payload,
	})
	require.NoError(t, err)
	_, err = broker.Lease(ctx, model.TaskTypeIngestion, 60)
	require.NoError(t, err)

	if dead {
		_, err = broker.DeadLetter(ctx, queued.ID, "gave up")
	} else {
		_, err = broker.Ack(ctx, queued.ID)
	}
	require.NoError(t, err)
	return queued.ID
}

func TestReaperService_RunCleanup(t *testing.T) {
	ctx := context.Background()
	tp := data.NewFixedTimeProvider(time.Now())
	broker := memory.NewBroker(tp)
	jobs := memory.NewJobStore(tp)

	completedID := settleTask(t, broker, false)
	deadID := settleTask(t, broker, true)

	// One posting each side of the staleness window.
	_, err := jobs.Upsert(ctx, testutil.NewJobRequest().WithSource("adzuna", "old-1").Build())
	require.NoError(t, err)
	tp.AddTime(96 * time.Hour)
	fresh, err := jobs.Upsert(ctx, testutil.NewJobRequest().WithSource("adzuna", "new-1").Build())
	require.NoError(t, err)

	svc, err := NewReaperService(ReaperServiceOptions{
		Tasks: broker,
		Jobs:  jobs,
		Config: ReaperConfig{
			CompletedMaxAge: 24 * time.Hour,
			DeadMaxAge:      7 * 24 * time.Hour,
			StaleAfter:      72 * time.Hour,
			StaleSources:    []string{"adzuna"},
		},
		TimeProvider: tp,
	})
	require.NoError(t, err)

	require.NoError(t, svc.runCleanup(ctx))

	// The completed task aged past 24h and is gone; the dead task is
	// retained for inspection until its longer window closes.
	_, err = broker.GetByID(ctx, completedID)
	assert.Error(t, err)
	deadTask, err := broker.GetByID(ctx, deadID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusDead, deadTask.Status)

	// The posting the source stopped returning is flagged, not deleted.
	staleJob, err := jobs.GetByID(ctx, firstJobID(t, jobs, "old-1"))
	require.NoError(t, err)
	assert.True(t, staleJob.Stale)
	freshJob, err := jobs.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.False(t, freshJob.Stale)

	// A later pass closes the dead window too.
	tp.AddTime(7 * 24 * time.Hour)
	require.NoError(t, svc.runCleanup(ctx))
	_, err = broker.GetByID(ctx, deadID)
	assert.Error(t, err)
}

func firstJobID(t *testing.T, jobs *memory.JobStore, nativeID string) string {
	t.Helper()
	id, err := jobs.ResolveFingerprint(context.Background(),
		model.Fingerprint{Source: "adzuna", NativeID: nativeID})
	require.NoError(t, err)
	return id
}

func TestReaperService_StaleMarkingDisabled(t *testing.T) {
	ctx := context.Background()
	tp := data.NewFixedTimeProvider(time.Now())
	broker := memory.NewBroker(tp)
	jobs := memory.NewJobStore(tp)

	_, err := jobs.Upsert(ctx, testutil.NewJobRequest().WithSource("adzuna", "old-1").Build())
	require.NoError(t, err)
	tp.AddTime(30 * 24 * time.Hour)

	svc, err := NewReaperService(ReaperServiceOptions{
		Tasks: broker,
		Jobs:  jobs,
		Config: ReaperConfig{
			StaleSources: []string{"adzuna"},
			// StaleAfter left zero: marking is off.
		},
		TimeProvider: tp,
	})
	require.NoError(t, err)
	require.NoError(t, svc.runCleanup(ctx))

	job, err := jobs.GetByID(ctx, firstJobID(t, jobs, "old-1"))
	require.NoError(t, err)
	assert.False(t, job.Stale)
}

func TestReaperService_RunStopsOnCancel(t *testing.T) {
	broker := memory.NewBroker(nil)
	svc, err := NewReaperService(ReaperServiceOptions{
		Tasks:  broker,
		Config: ReaperConfig{Interval: time.Hour},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reaper did not stop after cancel")
	}
}
