package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobwell/jobwell-go/internal/core"
	"github.com/jobwell/jobwell-go/internal/data"
	"github.com/jobwell/jobwell-go/internal/domain/model"
	"github.com/jobwell/jobwell-go/internal/domain/status"
	"github.com/jobwell/jobwell-go/internal/domain/task"
	apperrors "github.com/jobwell/jobwell-go/internal/errors"
)

const defaultSubmissionLeaseTTL = 10 * time.Minute

// SubmissionServiceOptions groups dependencies for SubmissionService.
type SubmissionServiceOptions struct {
	Apps   core.ApplicationStore // Required
	Jobs   core.JobStore         // Required
	Broker core.Broker           // Required
	Leaser core.SubmissionLeaser // Required
	// ATS handles postings whose ATS supports API apply.
	ATS core.ATSAdapter
	// Agent handles everything else.
	Agent core.AutomationAgent
	// Retry defaults to the standard exponential policy.
	Retry *task.RetryPolicy
	// LeaseTTL bounds the in-flight marker; defaults to 10 minutes.
	LeaseTTL     time.Duration
	Logger       *slog.Logger
	TimeProvider data.TimeProvider
}

// SubmissionService runs the submission pipeline. Enqueue moves an
// Application into queued and hands a task to the broker; HandleTask drives
// one leased task through an external submission channel and lands the
// Application in applied or submission_failed.
type SubmissionService struct {
	apps         core.ApplicationStore
	jobs         core.JobStore
	broker       core.Broker
	leaser       core.SubmissionLeaser
	ats          core.ATSAdapter
	agent        core.AutomationAgent
	retry        *task.RetryPolicy
	leaseTTL     time.Duration
	logger       *slog.Logger
	timeProvider data.TimeProvider
}

// NewSubmissionService constructs a new SubmissionService.
func NewSubmissionService(opts SubmissionServiceOptions) (*SubmissionService, error) {
	if opts.Apps == nil {
		return nil, errors.New("ApplicationStore is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("JobStore is required")
	}
	if opts.Broker == nil {
		return nil, errors.New("Broker is required")
	}
	if opts.Leaser == nil {
		return nil, errors.New("SubmissionLeaser is required")
	}
	if opts.ATS == nil && opts.Agent == nil {
		return nil, errors.New("at least one submission channel is required")
	}

	retry := opts.Retry
	if retry == nil {
		retry = task.Default()
	}
	leaseTTL := opts.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = defaultSubmissionLeaseTTL
	}
	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "submission_service")
	}
	return &SubmissionService{
		apps:         opts.Apps,
		jobs:         opts.Jobs,
		broker:       opts.Broker,
		leaser:       opts.Leaser,
		ats:          opts.ATS,
		agent:        opts.Agent,
		retry:        retry,
		leaseTTL:     leaseTTL,
		logger:       logger,
		timeProvider: tp,
	}, nil
}

// RetryPolicy exposes the policy so the worker can compute backoff delays.
func (s *SubmissionService) RetryPolicy() *task.RetryPolicy {
	return s.retry
}

// EnqueueRequest carries the inputs for queuing one submission.
type EnqueueRequest struct {
	ApplicationID string
	ResumeVersion string
	// Credentials is opaque per-user material the submission channel needs.
	Credentials map[string]string
}

// Enqueue moves an Application into queued and schedules the submission
// task. Only saved and submission_failed Applications can be queued; a
// submission already pending or in flight fails fast with AlreadyInFlight,
// including the loser of two concurrent Enqueue calls.
func (s *SubmissionService) Enqueue(ctx context.Context, req EnqueueRequest) (*model.Task, error) {
	app, err := s.apps.GetByID(ctx, req.ApplicationID)
	if err != nil {
		return nil, err
	}

	held, err := s.leaser.Held(ctx, app.ID)
	if err != nil {
		return nil, fmt.Errorf("check in-flight marker: %w", err)
	}
	if held {
		return nil, apperrors.AlreadyInFlight(
			fmt.Sprintf("submission already in flight for application %s", app.ID))
	}

	from := app.Status
	if from == model.StatusQueued {
		// A submission task already exists for this Application.
		return nil, apperrors.AlreadyInFlight(
			fmt.Sprintf("submission already pending for application %s", app.ID))
	}
	if err := status.Validate(from, model.StatusQueued); err != nil {
		return nil, err
	}

	if _, err := s.apps.UpdateStatus(ctx, core.UpdateStatusParams{
		ID:             app.ID,
		ExpectedStatus: &from,
		NewStatus:      model.StatusQueued,
		Entry:          status.Entry(from, model.StatusQueued, status.ActorUser, s.timeProvider.Now()),
	}); err != nil {
		if apperrors.IsConflict(err) {
			// A concurrent Enqueue won the CAS to queued.
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeAlreadyInFlight,
				"submission already pending for application %s", app.ID)
		}
		return nil, err
	}

	payload, err := json.Marshal(model.SubmissionPayload{
		ApplicationID: app.ID,
		ResumeVersion: req.ResumeVersion,
		Credentials:   req.Credentials,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal submission payload: %w", err)
	}

	queued, err := s.broker.Enqueue(ctx, &model.EnqueueTaskRequest{
		Type:        model.TaskTypeSubmission,
		Payload:     payload,
		MaxAttempts: s.retry.MaxAttempts(),
	})
	if err != nil {
		// The status moved but no task exists; roll back so the
		// Application is not stranded in queued.
		s.revertQueued(ctx, app.ID, from)
		return nil, fmt.Errorf("enqueue submission: %w", err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "submission enqueued",
			"application_id", app.ID, "task_id", queued.ID)
	}
	return queued, nil
}

func (s *SubmissionService) revertQueued(ctx context.Context, appID string, to model.ApplicationStatus) {
	expected := model.StatusQueued
	if _, err := s.apps.UpdateStatus(ctx, core.UpdateStatusParams{
		ID:             appID,
		ExpectedStatus: &expected,
		NewStatus:      to,
		Entry:          status.Entry(model.StatusQueued, to, status.ActorPipeline, s.timeProvider.Now()),
	}); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to roll back queued status",
			"application_id", appID, "error", err)
	}
}

// HandleTask processes one leased submission task.
//
// The returned error's code tells the worker what to do with the task:
// TransientUpstream is worth a backoff retry, PermanentUpstream and
// InvalidTransition go to the dead-letter state, AlreadyInFlight means a
// duplicate delivery raced a live attempt and the task should simply be
// redelivered after the queue lease lapses. A nil return acks the task.
func (s *SubmissionService) HandleTask(ctx context.Context, t *model.Task) error {
	p, err := model.DecodeSubmissionPayload(t.Payload)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodePermanentUpstream, "undecodable submission task")
	}

	token, err := s.leaser.Acquire(ctx, p.ApplicationID, s.leaseTTL)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := s.leaser.Release(context.WithoutCancel(ctx), p.ApplicationID, token); releaseErr != nil &&
			s.logger != nil {
			s.logger.WarnContext(ctx, "release in-flight marker",
				"application_id", p.ApplicationID, "error", releaseErr)
		}
	}()

	app, err := s.apps.GetByID(ctx, p.ApplicationID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return apperrors.Wrapf(err, apperrors.ErrCodePermanentUpstream,
				"application %s no longer exists", p.ApplicationID)
		}
		return err
	}

	switch app.Status {
	case model.StatusQueued:
		// Proceed.
	case model.StatusApplied:
		// Duplicate delivery after a completed submission; ack and move on.
		if s.logger != nil {
			s.logger.InfoContext(ctx, "dropping duplicate submission delivery",
				"application_id", app.ID, "task_id", t.ID)
		}
		return nil
	default:
		// The user moved the Application elsewhere while the task sat in
		// the queue. There is nothing left to submit.
		if s.logger != nil {
			s.logger.InfoContext(ctx, "dropping submission for non-queued application",
				"application_id", app.ID, "status", app.Status, "task_id", t.ID)
		}
		return nil
	}

	job, err := s.jobs.GetByID(ctx, app.JobID)
	if err != nil {
		return err
	}

	receipt, submitErr := s.submit(ctx, job, app, p.Credentials)
	if submitErr != nil {
		return s.recordFailure(ctx, t, app, submitErr)
	}
	return s.recordSuccess(ctx, app, receipt)
}

// submit routes one attempt through the right channel for the posting.
func (s *SubmissionService) submit(
	ctx context.Context,
	job *model.Job,
	app *model.Application,
	credentials map[string]string,
) (*core.SubmissionReceipt, error) {
	req := &core.SubmissionRequest{Job: job, Application: app, Credentials: credentials}
	if job.ATS.SupportsAPIApply && s.ats != nil {
		return s.ats.Submit(ctx, req)
	}
	if s.agent == nil {
		return nil, apperrors.PermanentUpstreamf(
			"no automation agent configured for job %s", job.ID)
	}
	return s.agent.Submit(ctx, req)
}

func (s *SubmissionService) recordSuccess(
	ctx context.Context,
	app *model.Application,
	receipt *core.SubmissionReceipt,
) error {
	expected := model.StatusQueued
	submittedAt := receipt.SubmittedAt.UTC()
	if _, err := s.apps.UpdateStatus(ctx, core.UpdateStatusParams{
		ID:             app.ID,
		ExpectedStatus: &expected,
		NewStatus:      model.StatusApplied,
		Entry: model.TimelineEntry{
			Action:      model.ActionSubmitted,
			Description: "submitted via " + receipt.Channel,
			CreatedAt:   s.timeProvider.Now().UTC(),
		},
		AppliedAt: &submittedAt,
	}); err != nil {
		// The submission landed; losing the status write means the task is
		// redelivered and the applied check above acks it. Surface the
		// error so this delivery is retried rather than acked blind.
		return fmt.Errorf("record applied status: %w", err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "application submitted",
			"application_id", app.ID, "channel", receipt.Channel)
	}
	return nil
}

// recordFailure updates the Application to match what the worker will do
// with the task, then returns the classified error for the worker to act on.
func (s *SubmissionService) recordFailure(
	ctx context.Context,
	t *model.Task,
	app *model.Application,
	submitErr error,
) error {
	if errors.Is(submitErr, context.Canceled) || errors.Is(submitErr, context.DeadlineExceeded) {
		// Shutdown or lease timeout mid-attempt. Leave the Application
		// queued; the redelivered task picks it back up.
		return submitErr
	}

	transient := apperrors.IsTransientUpstream(submitErr)
	lastAttempt := t.Attempt+1 >= t.MaxAttempts

	if transient && !lastAttempt {
		entry := model.TimelineEntry{
			Action: model.ActionSubmissionRetry,
			Description: fmt.Sprintf("attempt %d/%d failed: %v",
				t.Attempt+1, t.MaxAttempts, submitErr),
			CreatedAt: s.timeProvider.Now().UTC(),
		}
		if appendErr := s.apps.AppendTimeline(ctx, app.ID, entry); appendErr != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to record retry",
				"application_id", app.ID, "error", appendErr)
		}
		if s.logger != nil {
			s.logger.WarnContext(ctx, "submission attempt failed, will retry",
				"application_id", app.ID,
				"attempt", t.Attempt+1,
				"max_attempts", t.MaxAttempts,
				"error", submitErr)
		}
		return submitErr
	}

	// Permanent failure, or the retry budget is spent with this attempt.
	reason := fmt.Sprintf("submission failed: %v", submitErr)
	if transient {
		reason = fmt.Sprintf("submission failed after %d attempts: %v", t.Attempt+1, submitErr)
	}
	expected := model.StatusQueued
	if _, err := s.apps.UpdateStatus(ctx, core.UpdateStatusParams{
		ID:             app.ID,
		ExpectedStatus: &expected,
		NewStatus:      model.StatusSubmissionFailed,
		Entry: model.TimelineEntry{
			Action:      model.ActionSubmissionFailed,
			Description: reason,
			CreatedAt:   s.timeProvider.Now().UTC(),
		},
	}); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to record submission failure",
			"application_id", app.ID, "error", err)
	}

	if s.logger != nil {
		s.logger.ErrorContext(ctx, "submission failed",
			"application_id", app.ID, "reason", reason)
	}
	if transient {
		// Spent budget on a transient failure still parks the task; make
		// that explicit for the worker.
		return apperrors.Wrap(submitErr, apperrors.ErrCodePermanentUpstream, "retries exhausted")
	}
	return submitErr
}
