package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobwell/jobwell-go/internal/core"
	"github.com/jobwell/jobwell-go/internal/data/memory"
	"github.com/jobwell/jobwell-go/internal/domain/model"
	apperrors "github.com/jobwell/jobwell-go/internal/errors"
	"github.com/jobwell/jobwell-go/internal/testutil"
)

type fixedScorer struct {
	score float64
	err   error
}

func (s *fixedScorer) Score(context.Context, string, *model.Job) (float64, error) {
	return s.score, s.err
}

func newApplicationFixture(t *testing.T, scorer core.MatchScorer) (*ApplicationService, *model.Job) {
	t.Helper()
	jobs := memory.NewJobStore(nil)
	apps := memory.NewApplicationStore(nil)

	job, err := jobs.Upsert(context.Background(), testutil.NewJobRequest().Build())
	require.NoError(t, err)

	svc, err := NewApplicationService(ApplicationServiceOptions{
		Apps:   apps,
		Jobs:   jobs,
		Scorer: scorer,
	})
	require.NoError(t, err)
	return svc, job
}

func TestApplicationService_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a saved application with a match score", func(t *testing.T) {
		svc, job := newApplicationFixture(t, &fixedScorer{score: 0.87})

		app, err := svc.Save(ctx, SaveRequest{
			UserID:        "user-1",
			JobID:         job.ID,
			ResumeVersion: "v1",
			Notes:         "referred by a friend",
		})
		require.NoError(t, err)
		assert.Equal(t, model.StatusSaved, app.Status)
		require.NotNil(t, app.MatchScore)
		assert.InDelta(t, 0.87, *app.MatchScore, 0.001)
		assert.Equal(t, "referred by a friend", app.Notes)
	})

	t.Run("scoring failure does not block the save", func(t *testing.T) {
		svc, job := newApplicationFixture(t, &fixedScorer{err: errors.New("model offline")})

		app, err := svc.Save(ctx, SaveRequest{UserID: "user-1", JobID: job.ID})
		require.NoError(t, err)
		assert.Nil(t, app.MatchScore)
	})

	t.Run("saving the same posting twice is a duplicate", func(t *testing.T) {
		svc, job := newApplicationFixture(t, nil)

		_, err := svc.Save(ctx, SaveRequest{UserID: "user-1", JobID: job.ID})
		require.NoError(t, err)
		_, err = svc.Save(ctx, SaveRequest{UserID: "user-1", JobID: job.ID})
		require.Error(t, err)
		assert.True(t, apperrors.IsDuplicateApplication(err))
	})

	t.Run("unknown job", func(t *testing.T) {
		svc, _ := newApplicationFixture(t, nil)
		_, err := svc.Save(ctx, SaveRequest{UserID: "user-1", JobID: "missing"})
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("missing identifiers", func(t *testing.T) {
		svc, job := newApplicationFixture(t, nil)
		_, err := svc.Save(ctx, SaveRequest{JobID: job.ID})
		assert.True(t, apperrors.IsValidation(err))
		_, err = svc.Save(ctx, SaveRequest{UserID: "user-1"})
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestApplicationService_AllowedTransitions(t *testing.T) {
	ctx := context.Background()
	svc, job := newApplicationFixture(t, nil)

	app, err := svc.Save(ctx, SaveRequest{UserID: "user-1", JobID: job.ID})
	require.NoError(t, err)

	allowed, err := svc.AllowedTransitions(ctx, app.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]model.ApplicationStatus{model.StatusQueued, model.StatusRejected}, allowed)

	_, err = svc.AllowedTransitions(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestApplicationService_RequestTransition(t *testing.T) {
	ctx := context.Background()

	t.Run("applies a legal move with a timeline entry", func(t *testing.T) {
		svc, job := newApplicationFixture(t, nil)
		app, err := svc.Save(ctx, SaveRequest{UserID: "user-1", JobID: job.ID})
		require.NoError(t, err)

		updated, err := svc.RequestTransition(ctx, TransitionRequest{ID: app.ID, To: model.StatusRejected})
		require.NoError(t, err)
		assert.Equal(t, model.StatusRejected, updated.Status)
		require.Len(t, updated.Timeline, 1)
		assert.Equal(t, model.ActionStatusChange, updated.Timeline[0].Action)
		assert.Contains(t, updated.Timeline[0].Description, "saved -> rejected")
	})

	t.Run("queued is pipeline territory", func(t *testing.T) {
		svc, job := newApplicationFixture(t, nil)
		app, err := svc.Save(ctx, SaveRequest{UserID: "user-1", JobID: job.ID})
		require.NoError(t, err)

		_, err = svc.RequestTransition(ctx, TransitionRequest{ID: app.ID, To: model.StatusQueued})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("illegal moves are rejected", func(t *testing.T) {
		svc, job := newApplicationFixture(t, nil)
		app, err := svc.Save(ctx, SaveRequest{UserID: "user-1", JobID: job.ID})
		require.NoError(t, err)

		_, err = svc.RequestTransition(ctx, TransitionRequest{ID: app.ID, To: model.StatusOffer})
		require.Error(t, err)
		assert.True(t, apperrors.IsInvalidTransition(err))
	})

	t.Run("pinned expected status is the cas token", func(t *testing.T) {
		svc, job := newApplicationFixture(t, nil)
		app, err := svc.Save(ctx, SaveRequest{UserID: "user-1", JobID: job.ID})
		require.NoError(t, err)

		expected := model.StatusSaved
		updated, err := svc.RequestTransition(ctx, TransitionRequest{
			ID:             app.ID,
			To:             model.StatusRejected,
			ExpectedStatus: &expected,
		})
		require.NoError(t, err)
		assert.Equal(t, model.StatusRejected, updated.Status)
	})

	t.Run("stale pinned status conflicts then retries on a fresh read", func(t *testing.T) {
		jobs := memory.NewJobStore(nil)
		apps := memory.NewApplicationStore(nil)

		job, err := jobs.Upsert(ctx, testutil.NewJobRequest().Build())
		require.NoError(t, err)

		svc, err := NewApplicationService(ApplicationServiceOptions{Apps: apps, Jobs: jobs})
		require.NoError(t, err)

		app, err := svc.Save(ctx, SaveRequest{UserID: "user-1", JobID: job.ID})
		require.NoError(t, err)

		// The caller still believes the application is interview-stage.
		stale := model.StatusInterview
		updated, err := svc.RequestTransition(ctx, TransitionRequest{
			ID:             app.ID,
			To:             model.StatusRejected,
			ExpectedStatus: &stale,
		})
		require.NoError(t, err)
		assert.Equal(t, model.StatusRejected, updated.Status)
		// One conflicted attempt plus the committed one.
		require.Len(t, updated.Timeline, 1)
		assert.Contains(t, updated.Timeline[0].Description, "saved -> rejected")
	})

	t.Run("retries through a lost cas race", func(t *testing.T) {
		jobs := memory.NewJobStore(nil)
		apps := &conflictOnce{ApplicationStore: memory.NewApplicationStore(nil)}

		job, err := jobs.Upsert(ctx, testutil.NewJobRequest().Build())
		require.NoError(t, err)

		svc, err := NewApplicationService(ApplicationServiceOptions{Apps: apps, Jobs: jobs})
		require.NoError(t, err)

		app, err := svc.Save(ctx, SaveRequest{UserID: "user-1", JobID: job.ID})
		require.NoError(t, err)

		updated, err := svc.RequestTransition(ctx, TransitionRequest{ID: app.ID, To: model.StatusRejected})
		require.NoError(t, err)
		assert.Equal(t, model.StatusRejected, updated.Status)
		assert.Equal(t, 2, apps.calls)
	})
}

// conflictOnce fails the first UpdateStatus with Conflict to simulate a
// pipeline write racing the user.
type conflictOnce struct {
	*memory.ApplicationStore
	calls int
}

func (s *conflictOnce) UpdateStatus(
	ctx context.Context,
	params core.UpdateStatusParams,
) (*model.Application, error) {
	s.calls++
	if s.calls == 1 {
		return nil, apperrors.Conflict("application was updated concurrently")
	}
	return s.ApplicationStore.UpdateStatus(ctx, params)
}
