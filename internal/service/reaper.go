package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobwell/jobwell-go/internal/core"
	"github.com/jobwell/jobwell-go/internal/data"
	"github.com/jobwell/jobwell-go/internal/domain/model"
)

// ReaperConfig controls queue hygiene and posting staleness.
type ReaperConfig struct {
	// Interval between cleanup passes.
	Interval time.Duration
	// CompletedMaxAge is how long completed tasks are retained.
	CompletedMaxAge time.Duration
	// DeadMaxAge is how long dead-lettered tasks are retained for
	// inspection before being purged.
	DeadMaxAge time.Duration
	// StaleAfter marks postings not refreshed within this window as stale.
	// Zero disables stale marking.
	StaleAfter time.Duration
	// StaleSources lists the source names stale marking applies to.
	StaleSources []string
	BatchSize    int
}

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Tasks        core.TaskMaintenance // Required
	Jobs         core.JobStore        // Optional: stale marking
	Config       ReaperConfig
	Logger       *slog.Logger
	TimeProvider data.TimeProvider
}

// ReaperService keeps the queue and the entity store tidy: it deletes
// settled tasks past their retention windows and flags postings a source
// has stopped returning.
type ReaperService struct {
	tasks        core.TaskMaintenance
	jobs         core.JobStore
	config       ReaperConfig
	logger       *slog.Logger
	timeProvider data.TimeProvider
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Tasks == nil {
		return nil, errors.New("TaskMaintenance is required")
	}

	cfg := opts.Config
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.CompletedMaxAge <= 0 {
		cfg.CompletedMaxAge = 24 * time.Hour
	}
	if cfg.DeadMaxAge <= 0 {
		cfg.DeadMaxAge = 7 * 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
	}
	return &ReaperService{
		tasks:        opts.Tasks,
		jobs:         opts.Jobs,
		config:       cfg,
		logger:       logger,
		timeProvider: tp,
	}, nil
}

// Run starts the cleanup loop and runs until the context is cancelled.
// Returns nil on graceful shutdown.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.runCleanup(ctx); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "initial cleanup failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if err := s.runCleanup(ctx); err != nil {
				if isContextCancellation(err) {
					continue
				}
				if s.logger != nil {
					s.logger.ErrorContext(ctx, "cleanup failed", "error", err)
				}
			}
		}
	}
}

func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter))) // #nosec G115 - bounded by maxJitter
	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

// runCleanup performs one full cleanup pass.
func (s *ReaperService) runCleanup(ctx context.Context) error {
	var errs []error

	if _, err := s.purgeTasks(ctx, model.TaskStatusCompleted, s.config.CompletedMaxAge); err != nil {
		errs = append(errs, fmt.Errorf("purge completed tasks: %w", err))
	}
	if _, err := s.purgeTasks(ctx, model.TaskStatusDead, s.config.DeadMaxAge); err != nil {
		errs = append(errs, fmt.Errorf("purge dead tasks: %w", err))
	}
	if err := s.markStalePostings(ctx); err != nil {
		errs = append(errs, fmt.Errorf("mark stale postings: %w", err))
	}

	return errors.Join(errs...)
}

// purgeTasks deletes settled tasks in batches until none remain.
func (s *ReaperService) purgeTasks(
	ctx context.Context,
	st model.TaskStatus,
	maxAge time.Duration,
) (int64, error) {
	var total int64
	for {
		n, err := s.tasks.DeleteOldTasks(ctx, core.DeleteOldTasksParams{
			Status:    st,
			MaxAge:    maxAge,
			BatchSize: s.config.BatchSize,
		})
		if err != nil {
			return total, err
		}
		total += n
		if n == 0 {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "purged old tasks",
			"status", st, "count", total, "max_age", maxAge)
	}
	return total, nil
}

func (s *ReaperService) markStalePostings(ctx context.Context) error {
	if s.jobs == nil || s.config.StaleAfter <= 0 {
		return nil
	}
	cutoff := s.timeProvider.Now().Add(-s.config.StaleAfter)
	for _, source := range s.config.StaleSources {
		n, err := s.jobs.MarkStale(ctx, source, cutoff)
		if err != nil {
			return fmt.Errorf("source %s: %w", source, err)
		}
		if n > 0 && s.logger != nil {
			s.logger.InfoContext(ctx, "marked stale postings", "source", source, "count", n)
		}
	}
	return nil
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
