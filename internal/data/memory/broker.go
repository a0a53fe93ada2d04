// Package memory provides in-memory implementations of the core ports.
// They back the dev mode and the service-layer tests; semantics mirror the
// Postgres implementations, including at-least-once delivery.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobwell/jobwell-go/internal/core"
	"github.com/jobwell/jobwell-go/internal/data"
	"github.com/jobwell/jobwell-go/internal/domain/model"
	apperrors "github.com/jobwell/jobwell-go/internal/errors"
)

const defaultMaxAttempts = 5

// Broker is an in-memory core.Broker.
type Broker struct {
	mu           sync.Mutex
	tasks        map[string]*model.Task
	wakeups      map[model.TaskType]chan struct{}
	timeProvider data.TimeProvider
}

// NewBroker creates an in-memory broker.
func NewBroker(tp data.TimeProvider) *Broker {
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	return &Broker{
		tasks: make(map[string]*model.Task),
		wakeups: map[model.TaskType]chan struct{}{
			model.TaskTypeIngestion:  make(chan struct{}, 1),
			model.TaskTypeSubmission: make(chan struct{}, 1),
		},
		timeProvider: tp,
	}
}

// Enqueue adds a task to the queue.
func (b *Broker) Enqueue(ctx context.Context, req *model.EnqueueTaskRequest) (*model.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid task")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.timeProvider.Now().UTC()
	scheduledAt := now
	if req.ScheduledAt != nil {
		scheduledAt = req.ScheduledAt.UTC()
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	task := &model.Task{
		ID:          uuid.NewString(),
		Type:        req.Type,
		Status:      model.TaskStatusPending,
		Payload:     append(json.RawMessage(nil), req.Payload...),
		MaxAttempts: maxAttempts,
		ScheduledAt: scheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	b.tasks[task.ID] = task
	b.wake(req.Type)
	return cloneTask(task), nil
}

// Lease reserves the next runnable task of the given type.
func (b *Broker) Lease(
	ctx context.Context,
	taskType model.TaskType,
	leaseSeconds int,
) (*model.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.timeProvider.Now()
	b.requeueExpiredLocked(taskType, now)

	var next *model.Task
	for _, t := range b.tasks {
		if t.Type != taskType || t.Status != model.TaskStatusPending || t.ScheduledAt.After(now) {
			continue
		}
		if next == nil || t.ScheduledAt.Before(next.ScheduledAt) ||
			(t.ScheduledAt.Equal(next.ScheduledAt) && t.CreatedAt.Before(next.CreatedAt)) {
			next = t
		}
	}
	if next == nil {
		return nil, model.ErrNoTasksAvailable
	}

	lease := now.Add(time.Duration(leaseSeconds) * time.Second).UTC()
	next.Status = model.TaskStatusRunning
	if next.StartedAt == nil {
		started := now.UTC()
		next.StartedAt = &started
	}
	next.LeaseExpiresAt = &lease
	next.UpdatedAt = now.UTC()
	return cloneTask(next), nil
}

func (b *Broker) requeueExpiredLocked(taskType model.TaskType, now time.Time) {
	for _, t := range b.tasks {
		if t.Type == taskType && t.Status == model.TaskStatusRunning &&
			t.LeaseExpiresAt != nil && t.LeaseExpiresAt.Before(now) {
			t.Status = model.TaskStatusPending
			t.LeaseExpiresAt = nil
		}
	}
}

// Heartbeat extends a held lease.
func (b *Broker) Heartbeat(ctx context.Context, taskID string, leaseSeconds int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[taskID]
	if !ok || t.Status != model.TaskStatusRunning {
		return false, nil
	}
	lease := b.timeProvider.Now().Add(time.Duration(leaseSeconds) * time.Second).UTC()
	t.LeaseExpiresAt = &lease
	return true, nil
}

// Ack marks a leased task completed.
func (b *Broker) Ack(ctx context.Context, taskID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[taskID]
	if !ok || t.Status != model.TaskStatusRunning {
		return false, nil
	}
	now := b.timeProvider.Now().UTC()
	t.Status = model.TaskStatusCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.LeaseExpiresAt = nil
	t.LastError = nil
	return true, nil
}

// Nack records a failed attempt, rescheduling or dead-lettering the task.
func (b *Broker) Nack(ctx context.Context, params core.NackParams) (model.TaskStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[params.TaskID]
	if !ok || t.Status != model.TaskStatusRunning {
		return "", data.ErrTaskNotFound
	}

	now := b.timeProvider.Now().UTC()
	t.Attempt++
	t.LastError = &params.Reason
	t.LeaseExpiresAt = nil
	t.UpdatedAt = now
	if t.Attempt >= t.MaxAttempts {
		t.Status = model.TaskStatusDead
		t.CompletedAt = &now
	} else {
		t.Status = model.TaskStatusPending
		t.ScheduledAt = now.Add(params.RetryDelay)
		t.CompletedAt = nil
		b.wake(t.Type)
	}
	return t.Status, nil
}

// DeadLetter parks a leased task immediately.
func (b *Broker) DeadLetter(ctx context.Context, taskID, reason string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[taskID]
	if !ok || t.Status != model.TaskStatusRunning {
		return false, nil
	}
	now := b.timeProvider.Now().UTC()
	t.Status = model.TaskStatusDead
	t.LastError = &reason
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.LeaseExpiresAt = nil
	return true, nil
}

// Stats counts tasks of the given type by status.
func (b *Broker) Stats(ctx context.Context, taskType model.TaskType) (*model.TaskStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var s model.TaskStats
	for _, t := range b.tasks {
		if t.Type != taskType {
			continue
		}
		switch t.Status {
		case model.TaskStatusPending:
			s.Pending++
		case model.TaskStatusRunning:
			s.Running++
		case model.TaskStatusCompleted:
			s.Completed++
		case model.TaskStatusDead:
			s.Dead++
		}
	}
	return &s, nil
}

// WaitForNotification blocks until a task of the given type is enqueued or
// made runnable again, or ctx is done.
func (b *Broker) WaitForNotification(ctx context.Context, taskType model.TaskType) error {
	b.mu.Lock()
	ch := b.wakeups[taskType]
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeleteOldTasks removes settled tasks older than the retention window.
func (b *Broker) DeleteOldTasks(ctx context.Context, params core.DeleteOldTasksParams) (int64, error) {
	if params.Status != model.TaskStatusCompleted && params.Status != model.TaskStatusDead {
		return 0, fmt.Errorf("refusing to delete %s tasks", params.Status)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.timeProvider.Now().UTC().Add(-params.MaxAge)
	var n int64
	for id, t := range b.tasks {
		if t.Status == params.Status && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(b.tasks, id)
			n++
			if params.BatchSize > 0 && n >= int64(params.BatchSize) {
				break
			}
		}
	}
	return n, nil
}

// GetByID returns a snapshot of a task.
func (b *Broker) GetByID(ctx context.Context, id string) (*model.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[id]
	if !ok {
		return nil, data.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

// List returns all tasks ordered by creation time, for test assertions.
func (b *Broker) List() []*model.Task {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*model.Task, 0, len(b.tasks))
	for _, t := range b.tasks {
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (b *Broker) wake(taskType model.TaskType) {
	select {
	case b.wakeups[taskType] <- struct{}{}:
	default:
	}
}

func cloneTask(t *model.Task) *model.Task {
	c := *t
	c.Payload = append(json.RawMessage(nil), t.Payload...)
	return &c
}
