package runner

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobwell/jobwell-go/internal/data/memory"
	"github.com/jobwell/jobwell-go/internal/domain/model"
	"github.com/jobwell/jobwell-go/internal/domain/task"
	apperrors "github.com/jobwell/jobwell-go/internal/errors"
)

func enqueueIngestion(t *testing.T, broker *memory.Broker) *model.Task {
	t.Helper()
	payload, err := json.Marshal(model.IngestionPayload{
		Source: "adzuna", Query: "golang", Page: 1, PerPage: 50,
	})
	require.NoError(t, err)
	queued, err := broker.Enqueue(context.Background(), &model.EnqueueTaskRequest{
		Type:    model.TaskTypeIngestion,
		Payload: payload,
	})
	require.NoError(t, err)
	return queued
}

func newRunner(t *testing.T, broker *memory.Broker, handler HandlerFunc) *Runner {
	t.Helper()
	r, err := New(Options{
		Broker:       broker,
		TaskType:     model.TaskTypeIngestion,
		Handler:      handler,
		Retry:        task.Default(),
		Lease:        30 * time.Second,
		PollInterval: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	return r
}

func TestNew(t *testing.T) {
	broker := memory.NewBroker(nil)
	handler := func(context.Context, *model.Task) error { return nil }

	cases := []struct {
		name string
		opts Options
	}{
		{"missing broker", Options{TaskType: model.TaskTypeIngestion, Handler: handler}},
		{"missing handler", Options{Broker: broker, TaskType: model.TaskTypeIngestion}},
		{"bad task type", Options{Broker: broker, TaskType: "mystery", Handler: handler}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.opts)
			assert.Error(t, err)
		})
	}
}

// runUntil runs the runner in the background until check reports done or the
// deadline passes, then shuts it down.
func runUntil(t *testing.T, r *Runner, check func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for !check() {
		select {
		case <-deadline:
			cancel()
			t.Fatal("condition never reached")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not shut down")
	}
}

func TestRunner_AcksSuccessfulTasks(t *testing.T) {
	broker := memory.NewBroker(nil)
	queued := enqueueIngestion(t, broker)

	var handled atomic.Int32
	r := newRunner(t, broker, func(_ context.Context, tk *model.Task) error {
		assert.Equal(t, queued.ID, tk.ID)
		handled.Add(1)
		return nil
	})

	runUntil(t, r, func() bool {
		got, err := broker.GetByID(context.Background(), queued.ID)
		require.NoError(t, err)
		return got.Status == model.TaskStatusCompleted
	})
	assert.EqualValues(t, 1, handled.Load())
}

func TestRunner_NacksTransientFailures(t *testing.T) {
	broker := memory.NewBroker(nil)
	queued := enqueueIngestion(t, broker)

	r := newRunner(t, broker, func(context.Context, *model.Task) error {
		return apperrors.TransientUpstream("rate limited")
	})

	runUntil(t, r, func() bool {
		got, err := broker.GetByID(context.Background(), queued.ID)
		require.NoError(t, err)
		return got.Status == model.TaskStatusPending && got.Attempt == 1
	})

	got, err := broker.GetByID(context.Background(), queued.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "rate limited")
	// First retry lands one base delay out.
	assert.True(t, got.ScheduledAt.After(time.Now().Add(500*time.Millisecond)))
}

func TestRunner_DeadLettersPermanentFailures(t *testing.T) {
	broker := memory.NewBroker(nil)
	queued := enqueueIngestion(t, broker)

	r := newRunner(t, broker, func(context.Context, *model.Task) error {
		return apperrors.PermanentUpstream("unknown source")
	})

	runUntil(t, r, func() bool {
		got, err := broker.GetByID(context.Background(), queued.ID)
		require.NoError(t, err)
		return got.Status == model.TaskStatusDead
	})

	got, err := broker.GetByID(context.Background(), queued.ID)
	require.NoError(t, err)
	// Attempts were not consumed; the task was parked outright.
	assert.Equal(t, 0, got.Attempt)
}

func TestRunner_MalformedSourceIsPermanent(t *testing.T) {
	broker := memory.NewBroker(nil)
	queued := enqueueIngestion(t, broker)

	r := newRunner(t, broker, func(context.Context, *model.Task) error {
		return apperrors.MalformedSource("items expression did not yield a list")
	})

	runUntil(t, r, func() bool {
		got, err := broker.GetByID(context.Background(), queued.ID)
		require.NoError(t, err)
		return got.Status == model.TaskStatusDead
	})
}

func TestRunner_LeavesInFlightTasksLeased(t *testing.T) {
	broker := memory.NewBroker(nil)
	queued := enqueueIngestion(t, broker)

	var handled atomic.Int32
	r := newRunner(t, broker, func(context.Context, *model.Task) error {
		handled.Add(1)
		return apperrors.AlreadyInFlight("submission already in flight")
	})

	runUntil(t, r, func() bool { return handled.Load() >= 1 })

	// The task keeps its lease; it neither settled nor consumed an attempt.
	got, err := broker.GetByID(context.Background(), queued.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusRunning, got.Status)
	assert.Equal(t, 0, got.Attempt)
}

func TestRunner_RetriesUntilSuccess(t *testing.T) {
	broker := memory.NewBroker(nil)
	queued := enqueueIngestion(t, broker)

	// Millisecond backoff so nacked tasks become visible again immediately.
	fastRetry, err := task.NewRetryPolicy(task.RetryPolicyOptions{
		Base:        time.Millisecond,
		MaxAttempts: 5,
	})
	require.NoError(t, err)

	var calls atomic.Int32
	r, err := New(Options{
		Broker:   broker,
		TaskType: model.TaskTypeIngestion,
		Handler: func(context.Context, *model.Task) error {
			if calls.Add(1) < 3 {
				return errors.New("flaky upstream")
			}
			return nil
		},
		Retry:        fastRetry,
		Lease:        30 * time.Second,
		PollInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	runUntil(t, r, func() bool {
		got, gerr := broker.GetByID(context.Background(), queued.ID)
		require.NoError(t, gerr)
		return got.Status == model.TaskStatusCompleted
	})
	assert.EqualValues(t, 3, calls.Load())

	got, err := broker.GetByID(context.Background(), queued.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempt)
}

func TestRunner_StopsOnCancel(t *testing.T) {
	broker := memory.NewBroker(nil)
	r := newRunner(t, broker, func(context.Context, *model.Task) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}
