// Package core defines the contracts between the service layer and its
// collaborators (stores, broker, external adapters).
package core

import (
	"context"
	"time"

	"github.com/jobwell/jobwell-go/internal/domain/model"
)

// This file contains the ports of the system. Service implementations
// depend on these interfaces, not concrete implementations.

// JobStore defines entity-store operations for normalized postings.
// Upsert doubles as the dedup index: the fingerprint's unique constraint is
// the single source of truth, there is no separate cache to go stale.
type JobStore interface {
	// Upsert inserts a posting if its fingerprint is unseen, otherwise
	// refreshes the mutable fields of the existing row. Atomic: concurrent
	// upserts of the same fingerprint never create two rows.
	Upsert(ctx context.Context, req *model.UpsertJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// ResolveFingerprint returns the Job id for a fingerprint, or NotFound.
	ResolveFingerprint(ctx context.Context, fp model.Fingerprint) (string, error)
	// MarkStale flags postings from a source not seen since the cutoff.
	// Rows are retained for Application history integrity.
	MarkStale(ctx context.Context, source string, notSeenSince time.Time) (int, error)
	Count(ctx context.Context) (int, error)
}

// UpdateStatusParams groups parameters for ApplicationStore.UpdateStatus.
type UpdateStatusParams struct {
	ID string
	// ExpectedStatus is the compare-and-swap token. Nil skips the check
	// (pipeline-internal use only); otherwise a mismatch fails with
	// Conflict instead of silently overwriting.
	ExpectedStatus *model.ApplicationStatus
	NewStatus      model.ApplicationStatus
	Entry          model.TimelineEntry
	// AppliedAt, when non-nil, is recorded alongside the transition.
	AppliedAt *time.Time
}

// ApplicationStore defines entity-store operations for Applications.
// All writes are atomic with respect to the timeline append.
type ApplicationStore interface {
	Create(ctx context.Context, req *model.CreateApplicationRequest) (*model.Application, error)
	GetByID(ctx context.Context, id string) (*model.Application, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Application, error)
	// UpdateStatus performs a CAS status update plus timeline append in one
	// atomic write. Returns Conflict when ExpectedStatus no longer matches,
	// NotFound when the Application is absent.
	UpdateStatus(ctx context.Context, params UpdateStatusParams) (*model.Application, error)
	// AppendTimeline appends an entry without touching status (retry
	// bookkeeping on transient submission failures).
	AppendTimeline(ctx context.Context, id string, entry model.TimelineEntry) error
}

// Broker abstracts the durable at-least-once delivery substrate both
// pipelines consume. The implementation is expected to be external
// infrastructure (Postgres here); only this contract and the retry policy
// are part of the core.
type Broker interface {
	Enqueue(ctx context.Context, req *model.EnqueueTaskRequest) (*model.Task, error)
	// Lease reserves the next available task of the given type and marks it
	// running until the lease expires. Expired leases make tasks visible
	// again. Returns model.ErrNoTasksAvailable when the queue is drained.
	Lease(ctx context.Context, taskType model.TaskType, leaseSeconds int) (*model.Task, error)
	// Heartbeat extends a held lease. Returns false if the lease was lost.
	Heartbeat(ctx context.Context, taskID string, leaseSeconds int) (bool, error)
	// Ack marks a leased task completed.
	Ack(ctx context.Context, taskID string) (bool, error)
	// Nack records a failed attempt and reschedules the task after the
	// given delay; when the attempt budget is spent the task is parked in
	// the dead-letter state instead. Returns the resulting status.
	Nack(ctx context.Context, params NackParams) (model.TaskStatus, error)
	// DeadLetter parks a leased task immediately, bypassing remaining retries.
	DeadLetter(ctx context.Context, taskID, reason string) (bool, error)
	Stats(ctx context.Context, taskType model.TaskType) (*model.TaskStats, error)
	// WaitForNotification blocks until a task of the given type may be
	// available, or ctx is done. Implementations may wake spuriously.
	WaitForNotification(ctx context.Context, taskType model.TaskType) error
}

// NackParams groups parameters for Broker.Nack.
type NackParams struct {
	TaskID     string
	Reason     string
	RetryDelay time.Duration
}

// DeleteOldTasksParams groups parameters for TaskMaintenance.DeleteOldTasks.
type DeleteOldTasksParams struct {
	Status    model.TaskStatus
	MaxAge    time.Duration
	BatchSize int
}

// TaskMaintenance is the cleanup surface the reaper needs. Completed tasks
// are deleted after a retention window; dead tasks are retained longer so
// they can be inspected, then purged.
type TaskMaintenance interface {
	DeleteOldTasks(ctx context.Context, params DeleteOldTasksParams) (int64, error)
}

// SubmissionLeaser guards the at-most-one-in-flight invariant for
// submissions. The queue is at-least-once, so duplicate deliveries are
// fenced here rather than by delivery semantics.
type SubmissionLeaser interface {
	// Acquire takes the in-flight marker for an application. It returns a
	// release token, or AlreadyInFlight if the marker is held.
	Acquire(ctx context.Context, applicationID string, ttl time.Duration) (string, error)
	// Release frees the marker if token still owns it.
	Release(ctx context.Context, applicationID, token string) error
	// Held reports whether a marker currently exists for the application.
	Held(ctx context.Context, applicationID string) (bool, error)
}

// SubmissionRequest is the input to an external submission channel.
type SubmissionRequest struct {
	Job         *model.Job
	Application *model.Application
	Credentials map[string]string
}

// SubmissionReceipt reports a successful submission.
type SubmissionReceipt struct {
	SubmittedAt time.Time
	Channel     string
}

// ATSAdapter submits an application through a programmatic ATS API.
// Failures must carry the transient/permanent distinction through the
// errors package codes.
type ATSAdapter interface {
	Submit(ctx context.Context, req *SubmissionRequest) (*SubmissionReceipt, error)
}

// AutomationAgent drives a submission when the ATS offers no programmatic
// path. Opaque external collaborator; same error contract as ATSAdapter.
type AutomationAgent interface {
	Submit(ctx context.Context, req *SubmissionRequest) (*SubmissionReceipt, error)
}

// SourceClient fetches candidate postings from one external source and
// returns them already normalized. A candidate that cannot be normalized is
// reported through the Malformed slice, not an error: one bad candidate
// never fails the batch.
type SourceClient interface {
	Name() string
	Fetch(ctx context.Context, p model.IngestionPayload) (*FetchResult, error)
}

// FetchResult is one batch of normalized candidates from a source.
type FetchResult struct {
	Candidates []*model.UpsertJobRequest
	// Malformed records per-candidate parse failures, logged and skipped.
	Malformed []error
}

// MatchScorer is the pluggable scoring function. The core stores whatever
// it returns in [0,1] and never inspects how the value was produced.
type MatchScorer interface {
	Score(ctx context.Context, userID string, job *model.Job) (float64, error)
}

// Re-exports so adapters can name common request types without importing model.
type (
	// EnqueueTaskRequest re-exports model.EnqueueTaskRequest.
	EnqueueTaskRequest = model.EnqueueTaskRequest
	// TaskType re-exports model.TaskType.
	TaskType = model.TaskType
)
