// Package service provides the business logic of the jobwell job-processing
// system.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jobwell/jobwell-go/internal/core"
	"github.com/jobwell/jobwell-go/internal/data"
	"github.com/jobwell/jobwell-go/internal/domain/model"
	"github.com/jobwell/jobwell-go/internal/domain/status"
	apperrors "github.com/jobwell/jobwell-go/internal/errors"
)

// casRetries bounds how often a user-initiated transition is retried when
// it loses a compare-and-swap race against the pipeline.
const casRetries = 3

// ApplicationServiceOptions groups dependencies for ApplicationService.
type ApplicationServiceOptions struct {
	Apps   core.ApplicationStore // Required
	Jobs   core.JobStore         // Required
	Scorer core.MatchScorer      // Optional: match score on save
	Logger *slog.Logger          // Optional
	// TimeProvider defaults to wall-clock time.
	TimeProvider data.TimeProvider
}

// ApplicationService manages the Application lifecycle outside the
// submission pipeline: saving postings, reads, and user-initiated status
// transitions.
type ApplicationService struct {
	apps         core.ApplicationStore
	jobs         core.JobStore
	scorer       core.MatchScorer
	logger       *slog.Logger
	timeProvider data.TimeProvider
}

// NewApplicationService constructs a new ApplicationService.
func NewApplicationService(opts ApplicationServiceOptions) (*ApplicationService, error) {
	if opts.Apps == nil {
		return nil, errors.New("ApplicationStore is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("JobStore is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "application_service")
	}
	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	return &ApplicationService{
		apps:         opts.Apps,
		jobs:         opts.Jobs,
		scorer:       opts.Scorer,
		logger:       logger,
		timeProvider: tp,
	}, nil
}

// SaveRequest carries the fields a user provides when saving a posting.
type SaveRequest struct {
	UserID        string
	JobID         string
	ResumeVersion string
	CoverLetter   string
	Notes         string
}

// Save creates an Application in the saved state for an existing Job.
// Saving the same posting twice fails with DuplicateApplication.
func (s *ApplicationService) Save(ctx context.Context, req SaveRequest) (*model.Application, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, apperrors.ValidationField("user_id", "user id is required")
	}
	if strings.TrimSpace(req.JobID) == "" {
		return nil, apperrors.ValidationField("job_id", "job id is required")
	}

	job, err := s.jobs.GetByID(ctx, req.JobID)
	if err != nil {
		return nil, fmt.Errorf("resolve job: %w", err)
	}

	var score *float64
	if s.scorer != nil {
		v, scoreErr := s.scorer.Score(ctx, req.UserID, job)
		if scoreErr != nil {
			// Scoring is advisory; a failure must not block the save.
			if s.logger != nil {
				s.logger.WarnContext(ctx, "match scoring failed",
					"user_id", req.UserID, "job_id", job.ID, "error", scoreErr)
			}
		} else {
			score = &v
		}
	}

	app, err := s.apps.Create(ctx, &model.CreateApplicationRequest{
		UserID:        req.UserID,
		JobID:         req.JobID,
		ResumeVersion: req.ResumeVersion,
		CoverLetter:   req.CoverLetter,
		MatchScore:    score,
		Notes:         req.Notes,
	})
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "application saved",
			"application_id", app.ID, "user_id", app.UserID, "job_id", app.JobID)
	}
	return app, nil
}

// Get retrieves an Application by id.
func (s *ApplicationService) Get(ctx context.Context, id string) (*model.Application, error) {
	return s.apps.GetByID(ctx, id)
}

// ListByUser returns a user's Applications, newest first.
func (s *ApplicationService) ListByUser(ctx context.Context, userID string) ([]*model.Application, error) {
	return s.apps.ListByUser(ctx, userID)
}

// AllowedTransitions returns the legal next statuses for an Application.
func (s *ApplicationService) AllowedTransitions(
	ctx context.Context,
	id string,
) ([]model.ApplicationStatus, error) {
	app, err := s.apps.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return status.AllowedFrom(app.Status), nil
}

// TransitionRequest carries a user-initiated status change. ExpectedStatus
// optionally pins the status the caller observed; when set it is the CAS
// token on the first attempt, so a move the caller never saw conflicts
// instead of being overwritten.
type TransitionRequest struct {
	ID             string
	To             model.ApplicationStatus
	ExpectedStatus *model.ApplicationStatus
}

// RequestTransition applies a user-initiated status change. The move is
// validated against the transition table and committed with a
// compare-and-swap, so a concurrent pipeline write cannot be silently
// overwritten. A lost CAS is retried against a fresh read, bounded.
// Transitions into queued go through the submission pipeline instead,
// which enqueues the work the status implies.
func (s *ApplicationService) RequestTransition(
	ctx context.Context,
	req TransitionRequest,
) (*model.Application, error) {
	if req.To == model.StatusQueued {
		return nil, apperrors.Validation(
			"transitions into queued are made by enqueuing a submission")
	}

	var lastErr error
	for i := 0; i < casRetries; i++ {
		var from model.ApplicationStatus
		if i == 0 && req.ExpectedStatus != nil {
			from = *req.ExpectedStatus
		} else {
			app, err := s.apps.GetByID(ctx, req.ID)
			if err != nil {
				return nil, err
			}
			from = app.Status
		}
		if err := status.Validate(from, req.To); err != nil {
			return nil, err
		}

		updated, err := s.apps.UpdateStatus(ctx, core.UpdateStatusParams{
			ID:             req.ID,
			ExpectedStatus: &from,
			NewStatus:      req.To,
			Entry:          status.Entry(from, req.To, status.ActorUser, s.timeProvider.Now()),
		})
		if err == nil {
			if s.logger != nil {
				s.logger.InfoContext(ctx, "application transitioned",
					"application_id", req.ID, "from", from, "to", req.To, "actor", status.ActorUser)
			}
			return updated, nil
		}
		if !apperrors.IsConflict(err) {
			return nil, err
		}
		// Lost the race; re-read and re-validate against the new status.
		lastErr = err
	}
	return nil, lastErr
}
