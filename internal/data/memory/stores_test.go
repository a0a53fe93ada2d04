package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobwell/jobwell-go/internal/core"
	"github.com/jobwell/jobwell-go/internal/data"
	"github.com/jobwell/jobwell-go/internal/domain/model"
	apperrors "github.com/jobwell/jobwell-go/internal/errors"
	"github.com/jobwell/jobwell-go/internal/testutil"
)

func TestJobStoreUpsert(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore(nil)

	t.Run("insert then refresh by fingerprint", func(t *testing.T) {
		first, err := store.Upsert(ctx, testutil.NewJobRequest().WithSource("adzuna", "42").Build())
		require.NoError(t, err)

		second, err := store.Upsert(ctx, testutil.NewJobRequest().
			WithSource("adzuna", "42").
			WithTitle("Senior Backend Engineer").
			Build())
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "Senior Backend Engineer", second.Title)

		count, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("different fingerprints stay distinct", func(t *testing.T) {
		a, err := store.Upsert(ctx, testutil.NewJobRequest().WithSource("adzuna", "100").Build())
		require.NoError(t, err)
		b, err := store.Upsert(ctx, testutil.NewJobRequest().WithSource("linkedin", "100").Build())
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("invalid request", func(t *testing.T) {
		_, err := store.Upsert(ctx, testutil.NewJobRequest().WithTitle("").Build())
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestJobStoreUpsertClearsStale(t *testing.T) {
	ctx := context.Background()
	tp := data.NewFixedTimeProvider(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := NewJobStore(tp)

	created, err := store.Upsert(ctx, testutil.NewJobRequest().WithSource("adzuna", "7").Build())
	require.NoError(t, err)

	tp.AddTime(72 * time.Hour)
	n, err := store.MarkStale(ctx, "adzuna", tp.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.Stale)

	// A fresh sighting revives the posting.
	_, err = store.Upsert(ctx, testutil.NewJobRequest().WithSource("adzuna", "7").Build())
	require.NoError(t, err)
	got, err = store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, got.Stale)
}

func TestJobStoreResolveFingerprint(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore(nil)

	created, err := store.Upsert(ctx, testutil.NewJobRequest().WithSource("adzuna", "9").Build())
	require.NoError(t, err)

	id, err := store.ResolveFingerprint(ctx, model.Fingerprint{Source: "adzuna", NativeID: "9"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, id)

	_, err = store.ResolveFingerprint(ctx, model.Fingerprint{Source: "adzuna", NativeID: "nope"})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestApplicationStoreCreate(t *testing.T) {
	ctx := context.Background()
	store := NewApplicationStore(nil)

	t.Run("starts saved with empty timeline", func(t *testing.T) {
		app, err := store.Create(ctx, testutil.NewApplicationRequest().WithJob("job-1").Build())
		require.NoError(t, err)
		assert.Equal(t, model.StatusSaved, app.Status)
		assert.Equal(t, 0, app.StatusVersion)
		assert.Empty(t, app.Timeline)
	})

	t.Run("duplicate user and job rejected", func(t *testing.T) {
		_, err := store.Create(ctx, testutil.NewApplicationRequest().WithJob("job-1").Build())
		require.Error(t, err)
		assert.True(t, apperrors.IsDuplicateApplication(err))
	})

	t.Run("same job for another user allowed", func(t *testing.T) {
		_, err := store.Create(ctx, testutil.NewApplicationRequest().
			WithUser("user-2").
			WithJob("job-1").
			Build())
		assert.NoError(t, err)
	})

	t.Run("missing ids rejected", func(t *testing.T) {
		_, err := store.Create(ctx, testutil.NewApplicationRequest().WithUser("").WithJob("job-1").Build())
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestApplicationStoreUpdateStatus(t *testing.T) {
	ctx := context.Background()
	store := NewApplicationStore(nil)

	app, err := store.Create(ctx, testutil.NewApplicationRequest().WithJob("job-1").Build())
	require.NoError(t, err)

	t.Run("cas succeeds and appends the entry", func(t *testing.T) {
		saved := model.StatusSaved
		updated, updateErr := store.UpdateStatus(ctx, core.UpdateStatusParams{
			ID:             app.ID,
			ExpectedStatus: &saved,
			NewStatus:      model.StatusQueued,
			Entry:          model.TimelineEntry{Action: model.ActionStatusChange, Description: "saved -> queued (user)"},
		})
		require.NoError(t, updateErr)
		assert.Equal(t, model.StatusQueued, updated.Status)
		assert.Equal(t, 1, updated.StatusVersion)
		require.Len(t, updated.Timeline, 1)
		assert.Equal(t, model.ActionStatusChange, updated.Timeline[0].Action)
	})

	t.Run("cas mismatch conflicts", func(t *testing.T) {
		saved := model.StatusSaved
		_, updateErr := store.UpdateStatus(ctx, core.UpdateStatusParams{
			ID:             app.ID,
			ExpectedStatus: &saved,
			NewStatus:      model.StatusRejected,
		})
		require.Error(t, updateErr)
		assert.True(t, apperrors.IsConflict(updateErr))
	})

	t.Run("applied at recorded", func(t *testing.T) {
		queued := model.StatusQueued
		appliedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		updated, updateErr := store.UpdateStatus(ctx, core.UpdateStatusParams{
			ID:             app.ID,
			ExpectedStatus: &queued,
			NewStatus:      model.StatusApplied,
			Entry:          model.TimelineEntry{Action: model.ActionSubmitted},
			AppliedAt:      &appliedAt,
		})
		require.NoError(t, updateErr)
		require.NotNil(t, updated.AppliedAt)
		assert.Equal(t, appliedAt, *updated.AppliedAt)
	})

	t.Run("unknown application", func(t *testing.T) {
		_, updateErr := store.UpdateStatus(ctx, core.UpdateStatusParams{ID: "missing", NewStatus: model.StatusRejected})
		assert.True(t, apperrors.IsNotFound(updateErr))
	})
}

func TestApplicationStoreAppendTimeline(t *testing.T) {
	ctx := context.Background()
	store := NewApplicationStore(nil)

	app, err := store.Create(ctx, testutil.NewApplicationRequest().WithJob("job-1").Build())
	require.NoError(t, err)

	require.NoError(t, store.AppendTimeline(ctx, app.ID, model.TimelineEntry{
		Action:      model.ActionSubmissionRetry,
		Description: "attempt 1 failed",
	}))

	got, err := store.GetByID(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, got.Timeline, 1)
	// Status untouched by a bare append.
	assert.Equal(t, model.StatusSaved, got.Status)
	assert.Equal(t, 0, got.StatusVersion)

	assert.True(t, apperrors.IsNotFound(store.AppendTimeline(ctx, "missing", model.TimelineEntry{})))
}

func TestApplicationStoreListByUser(t *testing.T) {
	ctx := context.Background()
	tp := data.NewFixedTimeProvider(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := NewApplicationStore(tp)

	_, err := store.Create(ctx, testutil.NewApplicationRequest().WithJob("job-1").Build())
	require.NoError(t, err)
	tp.AddTime(time.Minute)
	newest, err := store.Create(ctx, testutil.NewApplicationRequest().WithJob("job-2").Build())
	require.NoError(t, err)
	_, err = store.Create(ctx, testutil.NewApplicationRequest().WithUser("other").WithJob("job-1").Build())
	require.NoError(t, err)

	apps, err := store.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, newest.ID, apps[0].ID)
}

func TestSubmissionLeaser(t *testing.T) {
	ctx := context.Background()
	tp := data.NewFixedTimeProvider(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	leaser := NewSubmissionLeaser(tp)

	t.Run("second acquire fails while held", func(t *testing.T) {
		token, err := leaser.Acquire(ctx, "app-1", time.Minute)
		require.NoError(t, err)
		require.NotEmpty(t, token)

		_, err = leaser.Acquire(ctx, "app-1", time.Minute)
		require.Error(t, err)
		assert.True(t, apperrors.IsAlreadyInFlight(err))

		held, err := leaser.Held(ctx, "app-1")
		require.NoError(t, err)
		assert.True(t, held)
	})

	t.Run("release frees the marker", func(t *testing.T) {
		token, err := leaser.Acquire(ctx, "app-2", time.Minute)
		require.NoError(t, err)

		// A stale token does not release someone else's marker.
		require.NoError(t, leaser.Release(ctx, "app-2", "not-the-token"))
		held, err := leaser.Held(ctx, "app-2")
		require.NoError(t, err)
		assert.True(t, held)

		require.NoError(t, leaser.Release(ctx, "app-2", token))
		held, err = leaser.Held(ctx, "app-2")
		require.NoError(t, err)
		assert.False(t, held)
	})

	t.Run("expired marker can be reacquired", func(t *testing.T) {
		_, err := leaser.Acquire(ctx, "app-3", time.Minute)
		require.NoError(t, err)

		tp.AddTime(2 * time.Minute)
		_, err = leaser.Acquire(ctx, "app-3", time.Minute)
		assert.NoError(t, err)
	})
}
