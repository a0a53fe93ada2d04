package model

import (
	"strings"
	"time"
)

// ApplicationStatus represents where an Application sits in its lifecycle.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type ApplicationStatus string

const (
	// StatusSaved indicates the user saved the posting into their pipeline.
	StatusSaved ApplicationStatus = "saved"
	// StatusQueued indicates a submission has been enqueued.
	StatusQueued ApplicationStatus = "queued"
	// StatusApplied indicates the submission reached the employer.
	StatusApplied ApplicationStatus = "applied"
	// StatusInterview indicates the employer moved the candidate to interviews.
	StatusInterview ApplicationStatus = "interview"
	// StatusOffer indicates an offer was extended. Terminal.
	StatusOffer ApplicationStatus = "offer"
	// StatusRejected indicates the pursuit ended without an offer. Terminal.
	StatusRejected ApplicationStatus = "rejected"
	// StatusSubmissionFailed indicates the submission pipeline gave up on
	// this attempt. Re-queueing is permitted.
	StatusSubmissionFailed ApplicationStatus = "submission_failed"
)

// Valid returns true if the ApplicationStatus is a member of the enum.
func (s ApplicationStatus) Valid() bool {
	switch s {
	case StatusSaved, StatusQueued, StatusApplied, StatusInterview,
		StatusOffer, StatusRejected, StatusSubmissionFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are permitted from s.
func (s ApplicationStatus) Terminal() bool {
	return s == StatusOffer || s == StatusRejected
}

// UnmarshalText implements encoding.TextUnmarshaler so statuses parse from
// env and request payloads.
func (s *ApplicationStatus) UnmarshalText(text []byte) error {
	v := ApplicationStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return &InvalidStatusError{Value: string(text)}
	}
	*s = v
	return nil
}

// InvalidStatusError reports a status string outside the enum.
type InvalidStatusError struct {
	Value string
}

func (e *InvalidStatusError) Error() string {
	return "invalid application status: " + e.Value
}

// TimelineEntry is one append-only record of something that happened to an
// Application. Entries are never rewritten or removed.
type TimelineEntry struct {
	Action      string    `json:"action"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Timeline entry actions written by the core.
const (
	ActionStatusChange     = "status_change"
	ActionSubmissionRetry  = "submission_retry"
	ActionSubmissionFailed = "submission_failed"
	ActionSubmitted        = "submitted"
)

// Application represents one user's pursuit of one Job. The (UserID, JobID)
// pair is unique; duplicates are rejected, not merged.
type Application struct {
	ID            string            `json:"id"                       db:"id"`
	UserID        string            `json:"user_id"                  db:"user_id"`
	JobID         string            `json:"job_id"                   db:"job_id"`
	Status        ApplicationStatus `json:"status"                   db:"status"`
	StatusVersion int               `json:"status_version"           db:"status_version"`
	ResumeVersion string            `json:"resume_version,omitempty" db:"resume_version"`
	CoverLetter   string            `json:"cover_letter,omitempty"   db:"cover_letter"`
	MatchScore    *float64          `json:"match_score,omitempty"    db:"match_score"`
	AppliedAt     *time.Time        `json:"applied_at,omitempty"     db:"applied_at"`
	Notes         string            `json:"notes,omitempty"          db:"notes"`
	Timeline      []TimelineEntry   `json:"timeline"`
	CreatedAt     time.Time         `json:"created_at"               db:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"               db:"updated_at"`
}

// CreateApplicationRequest carries the fields a save operation provides.
type CreateApplicationRequest struct {
	UserID        string
	JobID         string
	ResumeVersion string
	CoverLetter   string
	MatchScore    *float64
	Notes         string
}
