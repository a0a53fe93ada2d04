package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/jobwell/jobwell-go/internal/core"
	"github.com/jobwell/jobwell-go/internal/data/pgxutil"
	"github.com/jobwell/jobwell-go/internal/domain/model"
	apperrors "github.com/jobwell/jobwell-go/internal/errors"
)

// ApplicationRepo provides database operations for Applications. Status
// mutations are compare-and-swap updates: the expected status is part of
// the WHERE clause, and the timeline append rides in the same statement, so
// a lost race shows up as Conflict rather than a silent overwrite.
type ApplicationRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// ApplicationRepoConfig holds optional configuration for ApplicationRepo.
type ApplicationRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// NewApplicationRepo creates an ApplicationRepo with the given database connection.
func NewApplicationRepo(db *sql.DB, cfg ApplicationRepoConfig) *ApplicationRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &ApplicationRepo{DB: db, timeProvider: tp, logger: cfg.Logger}
}

const applicationColumns = `
  id,
  user_id,
  job_id,
  status,
  status_version,
  resume_version,
  cover_letter,
  match_score,
  applied_at,
  notes,
  timeline,
  created_at,
  updated_at
`

// Create saves a new Application in status "saved". A second application
// for the same (user, job) pair fails with DuplicateApplication; it is
// never merged into the existing row.
func (r *ApplicationRepo) Create(
	ctx context.Context,
	req *model.CreateApplicationRequest,
) (*model.Application, error) {
	if req == nil {
		return nil, errors.New("create application request is required")
	}
	if req.UserID == "" {
		return nil, apperrors.ValidationField("user_id", "user id is required")
	}
	if req.JobID == "" {
		return nil, apperrors.ValidationField("job_id", "job id is required")
	}

	now := r.timeProvider.Now().UTC()

	var app *model.Application
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			INSERT INTO applications (
			  user_id, job_id, status, resume_version, cover_letter,
			  match_score, notes, created_at, updated_at
			)
			VALUES ($1,$2,'saved',$3,$4,$5,$6,$7,$7)
			RETURNING `+applicationColumns,
			req.UserID,
			req.JobID,
			req.ResumeVersion,
			req.CoverLetter,
			req.MatchScore,
			req.Notes,
			now,
		)
		if qerr != nil {
			return fmt.Errorf("insert application: %w", qerr)
		}
		defer rows.Close()

		a, cerr := collectApplicationFromRows(rows)
		if cerr != nil {
			return fmt.Errorf("collect application: %w", cerr)
		}
		app = a
		return nil
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}

	if r.logger != nil {
		r.logger.DebugContext(ctx, "application created",
			"id", app.ID, "user_id", app.UserID, "job_id", app.JobID)
	}
	return app, nil
}

// GetByID retrieves an Application by its id.
func (r *ApplicationRepo) GetByID(ctx context.Context, id string) (*model.Application, error) {
	var app *model.Application
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx,
			`SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id)
		if qerr != nil {
			return fmt.Errorf("get application: %w", qerr)
		}
		defer rows.Close()

		a, cerr := collectApplicationFromRows(rows)
		if cerr != nil {
			return cerr
		}
		app = a
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFoundf("application %s not found", id)
		}
		return nil, apperrors.MapDBError(err)
	}
	return app, nil
}

// ListByUser returns the user's applications, newest first.
func (r *ApplicationRepo) ListByUser(ctx context.Context, userID string) ([]*model.Application, error) {
	var apps []*model.Application
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			SELECT `+applicationColumns+`
			FROM applications
			WHERE user_id = $1
			ORDER BY created_at DESC
		`, userID)
		if qerr != nil {
			return fmt.Errorf("list applications: %w", qerr)
		}
		defer rows.Close()

		for rows.Next() {
			a, serr := scanApplication(rows)
			if serr != nil {
				return serr
			}
			apps = append(apps, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return apps, nil
}

// UpdateStatus performs the CAS status transition plus timeline append as
// one statement. Whoever loses a concurrent race observes Conflict and must
// re-read before deciding to retry.
func (r *ApplicationRepo) UpdateStatus(
	ctx context.Context,
	params core.UpdateStatusParams,
) (*model.Application, error) {
	if params.ID == "" {
		return nil, apperrors.ValidationField("id", "application id is required")
	}
	if !params.NewStatus.Valid() {
		return nil, apperrors.Validation("invalid target status")
	}

	entryJSON, err := marshalTimelineEntry(params.Entry)
	if err != nil {
		return nil, err
	}

	var expected *string
	if params.ExpectedStatus != nil {
		s := string(*params.ExpectedStatus)
		expected = &s
	}

	now := r.timeProvider.Now().UTC()

	var app *model.Application
	err = pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			UPDATE applications
			SET status = $2,
			    status_version = status_version + 1,
			    timeline = timeline || $3::jsonb,
			    applied_at = COALESCE($4, applied_at),
			    updated_at = $5
			WHERE id = $1
			  AND ($6::text IS NULL OR status = $6)
			RETURNING `+applicationColumns,
			params.ID,
			params.NewStatus,
			entryJSON,
			params.AppliedAt,
			now,
			expected,
		)
		if qerr != nil {
			return fmt.Errorf("update application status: %w", qerr)
		}
		defer rows.Close()

		a, cerr := collectApplicationFromRows(rows)
		if cerr != nil {
			return cerr
		}
		app = a
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyUpdateMiss(ctx, params)
		}
		return nil, apperrors.MapDBError(err)
	}

	if r.logger != nil {
		r.logger.DebugContext(ctx, "application status updated",
			"id", app.ID, "status", app.Status, "version", app.StatusVersion)
	}
	return app, nil
}

// classifyUpdateMiss distinguishes a CAS miss from a missing row.
func (r *ApplicationRepo) classifyUpdateMiss(
	ctx context.Context,
	params core.UpdateStatusParams,
) error {
	var current string
	err := r.DB.QueryRowContext(ctx,
		`SELECT status FROM applications WHERE id = $1`, params.ID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFoundf("application %s not found", params.ID)
	}
	if err != nil {
		return apperrors.MapDBError(err)
	}
	expected := ""
	if params.ExpectedStatus != nil {
		expected = string(*params.ExpectedStatus)
	}
	return apperrors.Conflictf(
		"application %s is %q, expected %q", params.ID, current, expected)
}

// AppendTimeline appends an entry without changing status.
func (r *ApplicationRepo) AppendTimeline(
	ctx context.Context,
	id string,
	entry model.TimelineEntry,
) error {
	entryJSON, err := marshalTimelineEntry(entry)
	if err != nil {
		return err
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE applications
		SET timeline = timeline || $2::jsonb,
		    updated_at = $3
		WHERE id = $1
	`, id, entryJSON, r.timeProvider.Now().UTC())
	if err != nil {
		return apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append timeline rows affected: %w", err)
	}
	if n == 0 {
		return apperrors.NotFoundf("application %s not found", id)
	}
	return nil
}

func marshalTimelineEntry(entry model.TimelineEntry) ([]byte, error) {
	if entry.Action == "" {
		return nil, apperrors.ValidationField("action", "timeline action is required")
	}
	// jsonb || requires an array operand to append as an element
	raw, err := json.Marshal([]model.TimelineEntry{entry})
	if err != nil {
		return nil, fmt.Errorf("marshal timeline entry: %w", err)
	}
	return raw, nil
}

func collectApplicationFromRows(rows pgx.Rows) (*model.Application, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}
	app, err := scanApplication(rows)
	if err != nil {
		return nil, err
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return app, nil
}

func scanApplication(rows pgx.Rows) (*model.Application, error) {
	app := &model.Application{}
	var timeline []byte
	err := rows.Scan(
		&app.ID,
		&app.UserID,
		&app.JobID,
		&app.Status,
		&app.StatusVersion,
		&app.ResumeVersion,
		&app.CoverLetter,
		&app.MatchScore,
		&app.AppliedAt,
		&app.Notes,
		&timeline,
		&app.CreatedAt,
		&app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(timeline) > 0 {
		if uerr := json.Unmarshal(timeline, &app.Timeline); uerr != nil {
			return nil, fmt.Errorf("unmarshal timeline: %w", uerr)
		}
	}
	if app.AppliedAt != nil {
		t := app.AppliedAt.UTC()
		app.AppliedAt = &t
	}
	return app, nil
}
