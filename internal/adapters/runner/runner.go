// Package runner provides the worker loop that pulls tasks from the broker
// and dispatches them to pipeline handlers.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jobwell/jobwell-go/internal/core"
	"github.com/jobwell/jobwell-go/internal/domain/model"
	"github.com/jobwell/jobwell-go/internal/domain/task"
	apperrors "github.com/jobwell/jobwell-go/internal/errors"
)

// HandlerFunc processes one leased task. The error code decides the task's
// fate; see decide.
type HandlerFunc func(ctx context.Context, t *model.Task) error

const (
	defaultLease        = 2 * time.Minute
	defaultPollInterval = 15 * time.Second
)

// Options configures a Runner for one task type.
type Options struct {
	Broker   core.Broker    // Required
	TaskType model.TaskType // Required
	Handler  HandlerFunc    // Required
	// Retry supplies backoff delays for nacked tasks; defaults to the
	// standard exponential policy.
	Retry *task.RetryPolicy
	// Concurrency is the number of worker goroutines; defaults to 1.
	Concurrency int
	// Lease is the per-task lease duration; defaults to 2 minutes.
	Lease time.Duration
	// PollInterval bounds how long a drained worker sleeps when the
	// notification channel is quiet; defaults to 15 seconds.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Runner leases tasks of one type and drives them through a handler. The
// queue is at-least-once: a worker that dies mid-task simply lets the lease
// lapse and another worker picks the task up.
type Runner struct {
	broker       core.Broker
	taskType     model.TaskType
	handler      HandlerFunc
	retry        *task.RetryPolicy
	workers      int
	lease        time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// New constructs a Runner.
func New(opts Options) (*Runner, error) {
	if opts.Broker == nil {
		return nil, errors.New("Broker is required")
	}
	if !opts.TaskType.Valid() {
		return nil, fmt.Errorf("invalid task type: %s", opts.TaskType)
	}
	if opts.Handler == nil {
		return nil, errors.New("Handler is required")
	}

	retry := opts.Retry
	if retry == nil {
		retry = task.Default()
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	lease := opts.Lease
	if lease <= 0 {
		lease = defaultLease
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		broker:       opts.Broker,
		taskType:     opts.TaskType,
		handler:      opts.Handler,
		retry:        retry,
		workers:      workers,
		lease:        lease,
		pollInterval: poll,
		logger:       logger.With("component", "runner", "task_type", opts.TaskType),
	}, nil
}

// Run starts the worker goroutines and blocks until the context is
// cancelled. Returns nil on graceful shutdown.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting task runner",
		"workers", r.workers, "lease", r.lease)

	g, ctx := errgroup.WithContext(ctx)
	for range r.workers {
		g.Go(func() error {
			return r.workerLoop(ctx)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (r *Runner) workerLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		leased, err := r.broker.Lease(ctx, r.taskType, int(r.lease.Seconds()))
		switch {
		case err == nil:
			r.processTask(ctx, leased)
		case errors.Is(err, model.ErrNoTasksAvailable):
			r.waitForWork(ctx)
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return ctx.Err()
		default:
			return fmt.Errorf("lease task: %w", err)
		}
	}
	return ctx.Err()
}

// waitForWork blocks on the broker's wakeup channel, with a poll fallback
// so delayed retries become visible without a fresh notification.
func (r *Runner) waitForWork(ctx context.Context) {
	waitCtx, cancel := context.WithTimeout(ctx, r.pollInterval)
	defer cancel()
	if err := r.broker.WaitForNotification(waitCtx, r.taskType); err != nil &&
		!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		r.logger.WarnContext(ctx, "wait for notification", "error", err)
	}
}

func (r *Runner) processTask(ctx context.Context, t *model.Task) {
	// Keep the lease alive while the handler runs.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go r.heartbeatLoop(hbCtx, t.ID)

	start := time.Now()
	err := r.handler(ctx, t)
	stopHeartbeat()
	r.decide(ctx, t, err, time.Since(start))
}

func (r *Runner) heartbeatLoop(ctx context.Context, taskID string) {
	interval := r.lease / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := r.broker.Heartbeat(ctx, taskID, int(r.lease.Seconds()))
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					r.logger.WarnContext(ctx, "heartbeat failed", "task_id", taskID, "error", err)
				}
				return
			}
			if !ok {
				// Lease lost; the handler's CAS guards keep a racing
				// redelivery from double-applying its effects.
				r.logger.WarnContext(ctx, "lease lost during processing", "task_id", taskID)
				return
			}
		}
	}
}

// decide settles the leased task based on the handler outcome:
//
//   - nil acks the task
//   - AlreadyInFlight and context cancellation leave the task leased, so it
//     redelivers after the lease lapses without consuming an attempt
//   - permanent conditions dead-letter it
//   - anything else nacks it with exponential backoff
func (r *Runner) decide(ctx context.Context, t *model.Task, handlerErr error, elapsed time.Duration) {
	// Settle even when the parent context is already cancelled.
	ctx = context.WithoutCancel(ctx)

	if handlerErr == nil {
		if ok, err := r.broker.Ack(ctx, t.ID); err != nil {
			r.logger.ErrorContext(ctx, "ack task", "task_id", t.ID, "error", err)
		} else if !ok {
			r.logger.WarnContext(ctx, "ack raced a lapsed lease", "task_id", t.ID)
		} else {
			r.logger.InfoContext(ctx, "task completed",
				"task_id", t.ID, "attempt", t.Attempt+1, "elapsed", elapsed)
		}
		return
	}

	if apperrors.IsAlreadyInFlight(handlerErr) ||
		errors.Is(handlerErr, context.Canceled) || errors.Is(handlerErr, context.DeadlineExceeded) {
		r.logger.InfoContext(ctx, "leaving task for redelivery",
			"task_id", t.ID, "reason", handlerErr)
		return
	}

	if isPermanent(handlerErr) {
		if ok, err := r.broker.DeadLetter(ctx, t.ID, handlerErr.Error()); err != nil {
			r.logger.ErrorContext(ctx, "dead-letter task", "task_id", t.ID, "error", err)
		} else if !ok {
			r.logger.WarnContext(ctx, "dead-letter raced a lapsed lease", "task_id", t.ID)
		}
		return
	}

	delay := r.retry.Delay(t.Attempt + 1)
	status, err := r.broker.Nack(ctx, core.NackParams{
		TaskID:     t.ID,
		Reason:     handlerErr.Error(),
		RetryDelay: delay,
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "nack task", "task_id", t.ID, "error", err)
		return
	}
	r.logger.WarnContext(ctx, "task attempt failed",
		"task_id", t.ID,
		"attempt", t.Attempt+1,
		"status", status,
		"retry_delay", delay,
		"error", handlerErr)
}

// isPermanent reports whether retrying the task cannot change the outcome.
func isPermanent(err error) bool {
	return apperrors.IsPermanentUpstream(err) ||
		apperrors.IsMalformedSource(err) ||
		apperrors.IsValidation(err) ||
		apperrors.IsInvalidTransition(err)
}
