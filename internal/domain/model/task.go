package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// TaskType distinguishes the two pipelines a queued task feeds.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type TaskType string

// TaskStatus represents the broker-visible state of a task.
type TaskStatus string

const (
	// TaskTypeIngestion pulls postings from an external source.
	TaskTypeIngestion TaskType = "ingestion"
	// TaskTypeSubmission submits one application to an external ATS.
	TaskTypeSubmission TaskType = "submission"

	// TaskStatusPending indicates a task is waiting to be leased.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates a worker holds the lease.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates a task finished and was acked.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusDead indicates the retry budget is exhausted; the task is
	// parked for manual inspection, never consumed again.
	TaskStatusDead TaskStatus = "dead"
)

// ErrNoTasksAvailable is returned when no tasks are available for leasing.
var ErrNoTasksAvailable = errors.New("no tasks available")

// Valid returns true if the TaskType is valid.
func (t TaskType) Valid() bool {
	return t == TaskTypeIngestion || t == TaskTypeSubmission
}

// UnmarshalText implements encoding.TextUnmarshaler for TaskType.
func (t *TaskType) UnmarshalText(text []byte) error {
	v := TaskType(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid task type: %q", string(text))
	}
	*t = v
	return nil
}

// Valid returns true if the TaskStatus is valid.
func (s TaskStatus) Valid() bool {
	return s == TaskStatusPending || s == TaskStatusRunning ||
		s == TaskStatusCompleted || s == TaskStatusDead
}

// Task is one unit of queued work. Tasks are ephemeral: they reference
// durable entities but are not part of the entity store's data model.
type Task struct {
	ID             string          `json:"id"                         db:"id"`
	Type           TaskType        `json:"type"                       db:"type"`
	Status         TaskStatus      `json:"status"                     db:"status"`
	Payload        json.RawMessage `json:"payload"                    db:"payload"`
	Attempt        int             `json:"attempt"                    db:"attempt"`
	MaxAttempts    int             `json:"max_attempts"               db:"max_attempts"`
	ScheduledAt    time.Time       `json:"scheduled_at"               db:"scheduled_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"       db:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"     db:"completed_at"`
	LastError      *string         `json:"last_error,omitempty"       db:"last_error"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt      time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"                 db:"updated_at"`
}

// TaskStats counts tasks of one type by status.
type TaskStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Dead      int `json:"dead"`
}

// IngestionPayload describes one ingestion run against an external source.
type IngestionPayload struct {
	Source  string `json:"source"            validate:"required"`
	Query   string `json:"query"             validate:"required"`
	Where   string `json:"where,omitempty"`
	Page    int    `json:"page"              validate:"gte=1"`
	PerPage int    `json:"per_page"          validate:"gte=1,lte=100"`
}

// SubmissionPayload describes one application submission attempt.
type SubmissionPayload struct {
	ApplicationID string `json:"application_id" validate:"required,uuid4"`
	ResumeVersion string `json:"resume_version,omitempty"`
	// Credentials carries opaque per-user metadata the ATS adapter or
	// automation agent needs to act on the user's behalf.
	Credentials map[string]string `json:"credentials,omitempty"`
}

var validate = validator.New()

// DecodeIngestionPayload parses and validates an ingestion task payload.
func DecodeIngestionPayload(raw json.RawMessage) (IngestionPayload, error) {
	var p IngestionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode ingestion payload: %w", err)
	}
	if err := validate.Struct(p); err != nil {
		return p, fmt.Errorf("validate ingestion payload: %w", err)
	}
	return p, nil
}

// DecodeSubmissionPayload parses and validates a submission task payload.
func DecodeSubmissionPayload(raw json.RawMessage) (SubmissionPayload, error) {
	var p SubmissionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode submission payload: %w", err)
	}
	if err := validate.Struct(p); err != nil {
		return p, fmt.Errorf("validate submission payload: %w", err)
	}
	return p, nil
}

// EnqueueTaskRequest represents a request to enqueue a new task.
type EnqueueTaskRequest struct {
	Type        TaskType
	Payload     json.RawMessage
	ScheduledAt *time.Time
	MaxAttempts int
}

// Validate validates the EnqueueTaskRequest fields, including the typed
// payload for the task type.
func (r *EnqueueTaskRequest) Validate() error {
	if !r.Type.Valid() {
		return errors.New("invalid task type")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	if r.MaxAttempts < 0 {
		return errors.New("max attempts must be >= 0")
	}
	switch r.Type {
	case TaskTypeIngestion:
		if _, err := DecodeIngestionPayload(r.Payload); err != nil {
			return err
		}
	case TaskTypeSubmission:
		if _, err := DecodeSubmissionPayload(r.Payload); err != nil {
			return err
		}
	}
	return nil
}
