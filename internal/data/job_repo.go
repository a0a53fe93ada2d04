// Package data contains the Postgres-backed entity store and queue broker.
package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jobwell/jobwell-go/internal/data/pgxutil"
	"github.com/jobwell/jobwell-go/internal/domain/model"
	apperrors "github.com/jobwell/jobwell-go/internal/errors"
)

// JobRepo provides database operations for normalized postings. Its Upsert
// is the dedup index: the (source_name, source_native_id) unique constraint
// guarantees at most one row per fingerprint regardless of concurrency.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// JobRepoConfig holds optional configuration for JobRepo.
type JobRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// NewJobRepo creates a JobRepo with the given database connection.
func NewJobRepo(db *sql.DB, cfg JobRepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &JobRepo{DB: db, timeProvider: tp, logger: cfg.Logger}
}

const jobColumns = `
  id,
  title,
  company,
  description,
  location,
  salary_min,
  salary_max,
  salary_currency,
  tags,
  posted_at,
  source_name,
  source_native_id,
  source_url,
  ats_system,
  ats_supports_api_apply,
  ats_board_token,
  stale,
  created_at,
  updated_at
`

// Upsert inserts a posting if the fingerprint is unseen, otherwise
// refreshes the mutable fields of the existing row. The write is a single
// statement, so no interleaving can create two rows for one fingerprint.
func (r *JobRepo) Upsert(ctx context.Context, req *model.UpsertJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("upsert job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job")
	}

	now := r.timeProvider.Now().UTC()
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}

	query := `
      INSERT INTO jobs (
        title, company, description, location,
        salary_min, salary_max, salary_currency,
        tags, posted_at,
        source_name, source_native_id, source_url,
        ats_system, ats_supports_api_apply, ats_board_token,
        stale, created_at, updated_at
      )
      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,FALSE,$16,$16)
      ON CONFLICT (source_name, source_native_id) DO UPDATE SET
        title = EXCLUDED.title,
        company = EXCLUDED.company,
        description = EXCLUDED.description,
        location = EXCLUDED.location,
        salary_min = EXCLUDED.salary_min,
        salary_max = EXCLUDED.salary_max,
        salary_currency = EXCLUDED.salary_currency,
        tags = EXCLUDED.tags,
        posted_at = EXCLUDED.posted_at,
        source_url = EXCLUDED.source_url,
        ats_system = EXCLUDED.ats_system,
        ats_supports_api_apply = EXCLUDED.ats_supports_api_apply,
        ats_board_token = EXCLUDED.ats_board_token,
        stale = FALSE,
        updated_at = EXCLUDED.updated_at
      RETURNING ` + jobColumns

	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, query,
			req.Title,
			req.Company,
			req.Description,
			req.Location,
			req.Salary.Min,
			req.Salary.Max,
			req.Salary.Currency,
			tags,
			req.PostedAt,
			req.Source.Name,
			req.Source.NativeID,
			req.Source.URL,
			req.ATS.System,
			req.ATS.SupportsAPIApply,
			req.ATS.BoardToken,
			now,
		)
		if qerr != nil {
			return fmt.Errorf("upsert job: %w", qerr)
		}
		defer rows.Close()

		j, cerr := collectJobFromRows(rows)
		if cerr != nil {
			return fmt.Errorf("collect job: %w", cerr)
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}

	if r.logger != nil {
		r.logger.DebugContext(ctx, "job upserted",
			"id", job.ID,
			"source", req.Source.Name,
			"native_id", req.Source.NativeID,
		)
	}
	return job, nil
}

// GetByID retrieves a posting by its id.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
		if qerr != nil {
			return fmt.Errorf("get job: %w", qerr)
		}
		defer rows.Close()

		j, cerr := collectJobFromRows(rows)
		if cerr != nil {
			return cerr
		}
		job = j
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFoundf("job %s not found", id)
		}
		return nil, apperrors.MapDBError(err)
	}
	return job, nil
}

// ResolveFingerprint returns the Job id holding the given fingerprint.
// This is the dedup index lookup; it reads the same unique constraint the
// upsert enforces, so it can never be stale relative to the store.
func (r *JobRepo) ResolveFingerprint(ctx context.Context, fp model.Fingerprint) (string, error) {
	if !fp.Valid() {
		return "", apperrors.Validation("fingerprint requires source and native id")
	}

	var id string
	err := r.DB.QueryRowContext(ctx, `
		SELECT id FROM jobs WHERE source_name = $1 AND source_native_id = $2
	`, fp.Source, fp.NativeID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperrors.NotFoundf("no job for fingerprint %s/%s", fp.Source, fp.NativeID)
		}
		return "", apperrors.MapDBError(err)
	}
	return id, nil
}

// MarkStale flags postings from a source not refreshed since the cutoff.
func (r *JobRepo) MarkStale(ctx context.Context, source string, notSeenSince time.Time) (int, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET stale = TRUE, updated_at = $3
		WHERE source_name = $1 AND NOT stale AND updated_at < $2
	`, source, notSeenSince.UTC(), r.timeProvider.Now().UTC())
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark stale rows affected: %w", err)
	}
	return int(n), nil
}

// Count returns the number of postings in the store.
func (r *JobRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM jobs`).Scan(&n); err != nil {
		return 0, apperrors.MapDBError(err)
	}
	return n, nil
}

func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job := &model.Job{}
	err := rows.Scan(
		&job.ID,
		&job.Title,
		&job.Company,
		&job.Description,
		&job.Location,
		&job.Salary.Min,
		&job.Salary.Max,
		&job.Salary.Currency,
		&job.Tags,
		&job.PostedAt,
		&job.Source.Name,
		&job.Source.NativeID,
		&job.Source.URL,
		&job.ATS.System,
		&job.ATS.SupportsAPIApply,
		&job.ATS.BoardToken,
		&job.Stale,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	if job.PostedAt != nil {
		t := job.PostedAt.UTC()
		job.PostedAt = &t
	}
	return job, nil
}
