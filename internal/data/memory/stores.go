package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobwell/jobwell-go/internal/core"
	"github.com/jobwell/jobwell-go/internal/data"
	"github.com/jobwell/jobwell-go/internal/domain/model"
	apperrors "github.com/jobwell/jobwell-go/internal/errors"
)

// JobStore is an in-memory core.JobStore.
type JobStore struct {
	mu           sync.Mutex
	jobs         map[string]*model.Job
	byPrint      map[model.Fingerprint]string
	timeProvider data.TimeProvider
}

// NewJobStore creates an in-memory job store.
func NewJobStore(tp data.TimeProvider) *JobStore {
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	return &JobStore{
		jobs:         make(map[string]*model.Job),
		byPrint:      make(map[model.Fingerprint]string),
		timeProvider: tp,
	}
}

// Upsert inserts or refreshes a posting keyed by its fingerprint.
func (s *JobStore) Upsert(ctx context.Context, req *model.UpsertJobRequest) (*model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.timeProvider.Now().UTC()
	fp := req.Source.Fingerprint()
	if id, ok := s.byPrint[fp]; ok {
		job := s.jobs[id]
		job.Title = req.Title
		job.Company = req.Company
		job.Description = req.Description
		job.Location = req.Location
		job.Salary = req.Salary
		job.Tags = append([]string(nil), req.Tags...)
		job.PostedAt = req.PostedAt
		job.Source = req.Source
		job.ATS = req.ATS
		job.Stale = false
		job.UpdatedAt = now
		return cloneJob(job), nil
	}

	job := &model.Job{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Company:     req.Company,
		Description: req.Description,
		Location:    req.Location,
		Salary:      req.Salary,
		Tags:        append([]string(nil), req.Tags...),
		PostedAt:    req.PostedAt,
		Source:      req.Source,
		ATS:         req.ATS,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.jobs[job.ID] = job
	s.byPrint[fp] = job.ID
	return cloneJob(job), nil
}

// GetByID retrieves a posting by id.
func (s *JobStore) GetByID(ctx context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	return cloneJob(job), nil
}

// ResolveFingerprint returns the Job id for a fingerprint, or NotFound.
func (s *JobStore) ResolveFingerprint(ctx context.Context, fp model.Fingerprint) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPrint[fp]
	if !ok {
		return "", apperrors.NotFoundf("no job for source %s id %s", fp.Source, fp.NativeID)
	}
	return id, nil
}

// MarkStale flags postings from a source not refreshed since the cutoff.
func (s *JobStore) MarkStale(ctx context.Context, source string, notSeenSince time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, job := range s.jobs {
		if job.Source.Name == source && !job.Stale && job.UpdatedAt.Before(notSeenSince) {
			job.Stale = true
			n++
		}
	}
	return n, nil
}

// Count returns the number of stored postings.
func (s *JobStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs), nil
}

func cloneJob(j *model.Job) *model.Job {
	c := *j
	c.Tags = append([]string(nil), j.Tags...)
	return &c
}

// ApplicationStore is an in-memory core.ApplicationStore.
type ApplicationStore struct {
	mu           sync.Mutex
	apps         map[string]*model.Application
	byUserJob    map[string]string
	timeProvider data.TimeProvider
}

// NewApplicationStore creates an in-memory application store.
func NewApplicationStore(tp data.TimeProvider) *ApplicationStore {
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	return &ApplicationStore{
		apps:         make(map[string]*model.Application),
		byUserJob:    make(map[string]string),
		timeProvider: tp,
	}
}

func userJobKey(userID, jobID string) string {
	return userID + "\x00" + jobID
}

// Create stores a new Application in the saved state.
func (s *ApplicationStore) Create(
	ctx context.Context,
	req *model.CreateApplicationRequest,
) (*model.Application, error) {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.JobID) == "" {
		return nil, apperrors.Validation("user id and job id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := userJobKey(req.UserID, req.JobID)
	if _, ok := s.byUserJob[key]; ok {
		return nil, apperrors.DuplicateApplication(
			fmt.Sprintf("application for user %s and job %s already exists", req.UserID, req.JobID))
	}

	now := s.timeProvider.Now().UTC()
	app := &model.Application{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		JobID:         req.JobID,
		Status:        model.StatusSaved,
		ResumeVersion: req.ResumeVersion,
		CoverLetter:   req.CoverLetter,
		MatchScore:    req.MatchScore,
		Notes:         req.Notes,
		Timeline:      []model.TimelineEntry{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.apps[app.ID] = app
	s.byUserJob[key] = app.ID
	return cloneApplication(app), nil
}

// GetByID retrieves an Application by id.
func (s *ApplicationStore) GetByID(ctx context.Context, id string) (*model.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.apps[id]
	if !ok {
		return nil, apperrors.NotFoundf("application %s not found", id)
	}
	return cloneApplication(app), nil
}

// ListByUser returns a user's Applications, newest first.
func (s *ApplicationStore) ListByUser(ctx context.Context, userID string) ([]*model.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Application, 0)
	for _, app := range s.apps {
		if app.UserID == userID {
			out = append(out, cloneApplication(app))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// UpdateStatus performs a CAS status update plus timeline append atomically.
func (s *ApplicationStore) UpdateStatus(
	ctx context.Context,
	params core.UpdateStatusParams,
) (*model.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.apps[params.ID]
	if !ok {
		return nil, apperrors.NotFoundf("application %s not found", params.ID)
	}
	if params.ExpectedStatus != nil && app.Status != *params.ExpectedStatus {
		return nil, apperrors.Conflictf(
			"application %s is %s, expected %s", params.ID, app.Status, *params.ExpectedStatus)
	}

	app.Status = params.NewStatus
	app.StatusVersion++
	app.Timeline = append(app.Timeline, params.Entry)
	if params.AppliedAt != nil {
		app.AppliedAt = params.AppliedAt
	}
	app.UpdatedAt = s.timeProvider.Now().UTC()
	return cloneApplication(app), nil
}

// AppendTimeline appends an entry without touching status.
func (s *ApplicationStore) AppendTimeline(
	ctx context.Context,
	id string,
	entry model.TimelineEntry,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.apps[id]
	if !ok {
		return apperrors.NotFoundf("application %s not found", id)
	}
	app.Timeline = append(app.Timeline, entry)
	app.UpdatedAt = s.timeProvider.Now().UTC()
	return nil
}

func cloneApplication(a *model.Application) *model.Application {
	c := *a
	c.Timeline = append([]model.TimelineEntry(nil), a.Timeline...)
	return &c
}

// SubmissionLeaser is an in-memory core.SubmissionLeaser.
type SubmissionLeaser struct {
	mu           sync.Mutex
	leases       map[string]subLease
	timeProvider data.TimeProvider
}

type subLease struct {
	token     string
	expiresAt time.Time
}

// NewSubmissionLeaser creates an in-memory submission leaser.
func NewSubmissionLeaser(tp data.TimeProvider) *SubmissionLeaser {
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	return &SubmissionLeaser{leases: make(map[string]subLease), timeProvider: tp}
}

// Acquire takes the in-flight marker for an application.
func (l *SubmissionLeaser) Acquire(
	ctx context.Context,
	applicationID string,
	ttl time.Duration,
) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timeProvider.Now()
	if existing, ok := l.leases[applicationID]; ok && existing.expiresAt.After(now) {
		return "", apperrors.AlreadyInFlight(
			fmt.Sprintf("submission already in flight for application %s", applicationID))
	}
	token := uuid.NewString()
	l.leases[applicationID] = subLease{token: token, expiresAt: now.Add(ttl)}
	return token, nil
}

// Release frees the marker if token still owns it.
func (l *SubmissionLeaser) Release(ctx context.Context, applicationID, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.leases[applicationID]; ok && existing.token == token {
		delete(l.leases, applicationID)
	}
	return nil
}

// Held reports whether an unexpired marker exists for the application.
func (l *SubmissionLeaser) Held(ctx context.Context, applicationID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, ok := l.leases[applicationID]
	return ok && existing.expiresAt.After(l.timeProvider.Now()), nil
}
