package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/jobwell/jobwell-go/internal/domain/model"
)

// SearchSpec is one recurring ingestion search the scheduler keeps fresh.
type SearchSpec struct {
	Source  string
	Query   string
	Where   string
	Pages   int
	PerPage int
}

// SchedulerServiceOptions groups dependencies for SchedulerService.
type SchedulerServiceOptions struct {
	Ingest *IngestService // Required
	// Searches are enqueued every Interval.
	Searches []SearchSpec
	Interval time.Duration
	Logger   *slog.Logger
}

// SchedulerService periodically enqueues ingestion runs for the configured
// searches so the entity store tracks the outside world without manual
// triggering. Replicas are safe: duplicate ingestion runs converge through
// the fingerprint upsert.
type SchedulerService struct {
	ingest   *IngestService
	searches []SearchSpec
	interval time.Duration
	logger   *slog.Logger
}

// NewSchedulerService constructs a new SchedulerService.
func NewSchedulerService(opts SchedulerServiceOptions) (*SchedulerService, error) {
	if opts.Ingest == nil {
		return nil, errors.New("IngestService is required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "scheduler_service")
	}
	return &SchedulerService{
		ingest:   opts.Ingest,
		searches: opts.Searches,
		interval: interval,
		logger:   logger,
	}, nil
}

// Run starts the scheduling loop and runs until the context is cancelled.
// Returns nil on graceful shutdown.
func (s *SchedulerService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting scheduler service",
			"interval", s.interval, "searches", len(s.searches))
	}

	// Jitter spreads replicas started together across the interval.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func (s *SchedulerService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.interval / 10)
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

// Tick enqueues one ingestion task per configured search page. Enqueue
// failures are logged and skipped; the next tick retries the whole set.
func (s *SchedulerService) Tick(ctx context.Context) int {
	enqueued := 0
	for _, spec := range s.searches {
		pages := spec.Pages
		if pages < 1 {
			pages = 1
		}
		perPage := spec.PerPage
		if perPage < 1 {
			perPage = 50
		}
		for page := 1; page <= pages; page++ {
			if ctx.Err() != nil {
				return enqueued
			}
			_, err := s.ingest.Enqueue(ctx, model.IngestionPayload{
				Source:  spec.Source,
				Query:   spec.Query,
				Where:   spec.Where,
				Page:    page,
				PerPage: perPage,
			})
			if err != nil {
				if s.logger != nil {
					s.logger.ErrorContext(ctx, "enqueue ingestion run",
						"source", spec.Source, "query", spec.Query, "page", page, "error", err)
				}
				continue
			}
			enqueued++
		}
	}
	if s.logger != nil && enqueued > 0 {
		s.logger.InfoContext(ctx, "scheduled ingestion runs", "count", enqueued)
	}
	return enqueued
}
