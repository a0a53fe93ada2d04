package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/jobwell/jobwell-go/internal/core"
	"github.com/jobwell/jobwell-go/internal/data/pgxutil"
	"github.com/jobwell/jobwell-go/internal/domain/model"
	apperrors "github.com/jobwell/jobwell-go/internal/errors"
)

// ErrTaskNotFound is returned when a task is not found.
var ErrTaskNotFound = errors.New("task not found")

const defaultMaxAttempts = 5

// TaskRepo is the Postgres implementation of the queue broker. Delivery is
// at-least-once: a lease that expires without ack or nack makes the task
// visible to other workers again.
type TaskRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// TaskRepoConfig holds optional configuration for TaskRepo.
type TaskRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// NewTaskRepo creates a TaskRepo with the given database connection.
func NewTaskRepo(db *sql.DB, cfg TaskRepoConfig) *TaskRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &TaskRepo{DB: db, timeProvider: tp, logger: cfg.Logger}
}

const taskColumns = `
  id,
  type,
  status,
  payload,
  attempt,
  max_attempts,
  scheduled_at,
  started_at,
  completed_at,
  last_error,
  lease_expires_at,
  created_at,
  updated_at
`

// SQL used by Lease to atomically reserve the next runnable task.
const leaseNextSQL = `
  WITH cte AS (
    SELECT id FROM tasks
    WHERE type = $1 AND status = 'pending' AND scheduled_at <= $2
    ORDER BY scheduled_at ASC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE tasks t
  SET
    status = 'running',
    started_at = COALESCE(t.started_at, $3),
    lease_expires_at = $4,
    updated_at = $5
  FROM cte
  WHERE t.id = cte.id
  RETURNING t.id, t.type, t.status, t.payload, t.attempt, t.max_attempts, t.scheduled_at, t.started_at, t.completed_at, t.last_error, t.lease_expires_at, t.created_at, t.updated_at`

// Enqueue adds a task and notifies listening workers.
func (r *TaskRepo) Enqueue(ctx context.Context, req *model.EnqueueTaskRequest) (*model.Task, error) {
	if req == nil {
		return nil, errors.New("enqueue task request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid task")
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	now := r.timeProvider.Now().UTC()
	scheduledAt := now
	if req.ScheduledAt != nil {
		scheduledAt = req.ScheduledAt.UTC()
	}

	var task *model.Task
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, qerr := tx.Query(ctx, `
				INSERT INTO tasks (type, status, payload, max_attempts, scheduled_at, created_at, updated_at)
				VALUES ($1,'pending',$2,$3,$4,$5,$5)
				RETURNING `+taskColumns,
				req.Type, []byte(req.Payload), maxAttempts, scheduledAt, now,
			)
			if qerr != nil {
				return fmt.Errorf("insert task: %w", qerr)
			}
			t, cerr := collectTaskFromRows(rows)
			rows.Close()
			if cerr != nil {
				return fmt.Errorf("collect task: %w", cerr)
			}

			channel := "task_added_" + string(req.Type)
			if _, nerr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, channel, t.ID); nerr != nil {
				return fmt.Errorf("send task notification: %w", nerr)
			}
			task = t
			return nil
		},
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return task, nil
}

// Advisory lock namespace for requeueExpired to avoid cross-type contention.
const advisoryLockRequeueMajor int64 = 2001

func advisoryLockRequeueMinor(taskType model.TaskType) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(taskType))
	v := h.Sum32()
	if v > uint32(math.MaxInt32) {
		v &= uint32(math.MaxInt32)
	}
	return int64(v)
}

// requeueExpired makes tasks with lapsed leases visible again.
func (r *TaskRepo) requeueExpired(ctx context.Context, taskType model.TaskType) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			minor := advisoryLockRequeueMinor(taskType)
			if err := tx.QueryRowContext(ctx,
				"SELECT pg_try_advisory_xact_lock($1::integer, $2::integer)",
				advisoryLockRequeueMajor, minor,
			).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}

			now := r.timeProvider.Now().UTC()
			res, err := tx.ExecContext(ctx, `
				UPDATE tasks
				SET status = 'pending', lease_expires_at = NULL
				WHERE type = $1 AND status = 'running'
				  AND lease_expires_at IS NOT NULL
				  AND lease_expires_at < $2
			`, taskType, now)
			if err != nil {
				return fmt.Errorf("requeue expired: %w", err)
			}
			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// Lease reserves the next runnable task of the given type.
func (r *TaskRepo) Lease(
	ctx context.Context,
	taskType model.TaskType,
	leaseSeconds int,
) (*model.Task, error) {
	if !taskType.Valid() {
		return nil, fmt.Errorf("invalid task type: %s", taskType)
	}
	if leaseSeconds <= 0 {
		return nil, errors.New("leaseSeconds must be positive")
	}

	if n, err := r.requeueExpired(ctx, taskType); err != nil {
		return nil, fmt.Errorf("requeue expired tasks: %w", err)
	} else if n > 0 && r.logger != nil {
		r.logger.WarnContext(ctx, "requeued expired task leases", "type", taskType, "count", n)
	}

	var task *model.Task
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			now := r.timeProvider.Now()
			leaseExpiresAt := now.Add(time.Duration(leaseSeconds) * time.Second)

			rows, qerr := tx.Query(ctx, leaseNextSQL,
				taskType, now.UTC(), now.UTC(), leaseExpiresAt.UTC(), now.UTC())
			if qerr != nil {
				return fmt.Errorf("lease task: %w", qerr)
			}
			defer rows.Close()

			t, cerr := collectTaskFromRows(rows)
			if errors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoTasksAvailable
			}
			if cerr != nil {
				return fmt.Errorf("lease task: %w", cerr)
			}
			task = t
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNoTasksAvailable) {
			return nil, model.ErrNoTasksAvailable
		}
		return nil, apperrors.MapDBError(err)
	}
	return task, nil
}

// Heartbeat refreshes the lease on a running task.
func (r *TaskRepo) Heartbeat(ctx context.Context, taskID string, leaseSeconds int) (bool, error) {
	if leaseSeconds <= 0 {
		return false, errors.New("leaseSeconds must be positive")
	}

	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE tasks
		SET lease_expires_at = $2, updated_at = $3
		WHERE id = $1 AND status = 'running'
	`, taskID, now.Add(time.Duration(leaseSeconds)*time.Second), now)
	if err != nil {
		return false, fmt.Errorf("heartbeat task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}
	return n > 0, nil
}

// Ack marks a leased task completed.
func (r *TaskRepo) Ack(ctx context.Context, taskID string) (bool, error) {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'completed',
		    completed_at = $2,
		    updated_at = $2,
		    lease_expires_at = NULL,
		    last_error = NULL
		WHERE id = $1 AND status = 'running'
	`, taskID, now)
	if err != nil {
		return false, fmt.Errorf("ack task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ack rows affected: %w", err)
	}
	return n > 0, nil
}

// Nack records a failed attempt. The task is rescheduled after the given
// delay, or parked in the dead-letter state once the attempt budget is
// spent. The task row is retained either way; dead tasks are a holding
// area for inspection, not a discard.
func (r *TaskRepo) Nack(ctx context.Context, params core.NackParams) (model.TaskStatus, error) {
	now := r.timeProvider.Now()
	retryAt := now.Add(params.RetryDelay)

	var status string
	err := r.DB.QueryRowContext(ctx, `
		UPDATE tasks
		SET
		  last_error = $2,
		  attempt = attempt + 1,
		  status = CASE WHEN attempt + 1 >= max_attempts THEN 'dead' ELSE 'pending' END,
		  completed_at = CASE WHEN attempt + 1 >= max_attempts THEN $3::timestamptz ELSE NULL END,
		  lease_expires_at = NULL,
		  scheduled_at = CASE WHEN attempt + 1 >= max_attempts THEN scheduled_at
		                      ELSE $4::timestamptz END,
		  updated_at = $5
		WHERE id = $1 AND status = 'running'
		RETURNING status
	`, params.TaskID, params.Reason, now.UTC(), retryAt.UTC(), now.UTC()).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrTaskNotFound
		}
		return "", fmt.Errorf("nack task: %w", err)
	}

	if status == string(model.TaskStatusDead) && r.logger != nil {
		r.logger.ErrorContext(ctx, "task dead-lettered",
			"task_id", params.TaskID, "reason", params.Reason)
	}
	return model.TaskStatus(status), nil
}

// DeadLetter parks a leased task immediately, bypassing remaining retries.
func (r *TaskRepo) DeadLetter(ctx context.Context, taskID, reason string) (bool, error) {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'dead',
		    last_error = $2,
		    completed_at = $3,
		    lease_expires_at = NULL,
		    updated_at = $3
		WHERE id = $1 AND status = 'running'
	`, taskID, reason, now)
	if err != nil {
		return false, fmt.Errorf("dead-letter task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dead-letter rows affected: %w", err)
	}
	if n > 0 && r.logger != nil {
		r.logger.ErrorContext(ctx, "task dead-lettered", "task_id", taskID, "reason", reason)
	}
	return n > 0, nil
}

// Stats returns counts of tasks of the given type by status.
func (r *TaskRepo) Stats(ctx context.Context, taskType model.TaskType) (*model.TaskStats, error) {
	var s model.TaskStats
	err := r.DB.QueryRowContext(ctx, `
		SELECT
		  count(*) FILTER (WHERE status = 'pending')   AS pending,
		  count(*) FILTER (WHERE status = 'running')   AS running,
		  count(*) FILTER (WHERE status = 'completed') AS completed,
		  count(*) FILTER (WHERE status = 'dead')      AS dead
		FROM tasks
		WHERE type = $1
	`, taskType).Scan(&s.Pending, &s.Running, &s.Completed, &s.Dead)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	return &s, nil
}

// WaitForNotification blocks until a task of the given type is enqueued.
func (r *TaskRepo) WaitForNotification(ctx context.Context, taskType model.TaskType) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			_ = cerr
		}
	}()

	channel := "task_added_" + string(taskType)
	quoted := pgx.Identifier{channel}.Sanitize()

	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", channel, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			_ = execErr
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

// DeleteOldTasks removes settled tasks older than the retention window, in
// batches so a large backlog cannot hold locks for long.
func (r *TaskRepo) DeleteOldTasks(ctx context.Context, params core.DeleteOldTasksParams) (int64, error) {
	if params.Status != model.TaskStatusCompleted && params.Status != model.TaskStatusDead {
		return 0, fmt.Errorf("refusing to delete %s tasks", params.Status)
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	cutoff := r.timeProvider.Now().UTC().Add(-params.MaxAge)
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM tasks
		WHERE id IN (
		  SELECT id FROM tasks
		  WHERE status = $1 AND completed_at IS NOT NULL AND completed_at < $2
		  LIMIT $3
		)
	`, params.Status, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete old tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old tasks rows affected: %w", err)
	}
	return n, nil
}

// GetByID retrieves a task by its id.
func (r *TaskRepo) GetByID(ctx context.Context, id string) (*model.Task, error) {
	var task *model.Task
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
		if qerr != nil {
			return fmt.Errorf("get task: %w", qerr)
		}
		defer rows.Close()

		t, cerr := collectTaskFromRows(rows)
		if cerr != nil {
			return cerr
		}
		task = t
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, apperrors.MapDBError(err)
	}
	return task, nil
}

func collectTaskFromRows(rows pgx.Rows) (*model.Task, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	task := &model.Task{}
	var payload []byte
	err := rows.Scan(
		&task.ID,
		&task.Type,
		&task.Status,
		&payload,
		&task.Attempt,
		&task.MaxAttempts,
		&task.ScheduledAt,
		&task.StartedAt,
		&task.CompletedAt,
		&task.LastError,
		&task.LeaseExpiresAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	task.Payload = append(json.RawMessage(nil), payload...)
	return task, nil
}
