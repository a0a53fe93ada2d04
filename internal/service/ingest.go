package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jobwell/jobwell-go/internal/core"
	"github.com/jobwell/jobwell-go/internal/domain/model"
	apperrors "github.com/jobwell/jobwell-go/internal/errors"
)

// SourceResolver resolves a source name from a task payload to a client.
type SourceResolver interface {
	Get(name string) (core.SourceClient, error)
}

// IngestServiceOptions groups dependencies for IngestService.
type IngestServiceOptions struct {
	Jobs    core.JobStore  // Required
	Broker  core.Broker    // Required for Enqueue
	Sources SourceResolver // Required
	Logger  *slog.Logger   // Optional
}

// IngestService runs the ingestion pipeline: it pulls candidate postings
// from external sources and upserts them into the entity store. Each run is
// incremental; candidates whose fingerprint already exists refresh the
// stored posting instead of duplicating it.
type IngestService struct {
	jobs    core.JobStore
	broker  core.Broker
	sources SourceResolver
	logger  *slog.Logger
}

// NewIngestService constructs a new IngestService.
func NewIngestService(opts IngestServiceOptions) (*IngestService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobStore is required")
	}
	if opts.Sources == nil {
		return nil, errors.New("SourceResolver is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "ingest_service")
	}
	return &IngestService{
		jobs:    opts.Jobs,
		broker:  opts.Broker,
		sources: opts.Sources,
		logger:  logger,
	}, nil
}

// Enqueue schedules one ingestion run.
func (s *IngestService) Enqueue(ctx context.Context, p model.IngestionPayload) (*model.Task, error) {
	if s.broker == nil {
		return nil, errors.New("broker is not configured")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal ingestion payload: %w", err)
	}
	return s.broker.Enqueue(ctx, &model.EnqueueTaskRequest{
		Type:    model.TaskTypeIngestion,
		Payload: payload,
	})
}

// IngestResult summarizes one ingestion run.
type IngestResult struct {
	Source  string
	Fetched int
	Upserts int
	Skipped int
}

// HandleTask processes one leased ingestion task. Fetch failures propagate
// to the caller carrying their transient/permanent code; a malformed
// candidate inside an otherwise good batch is logged and skipped, it never
// fails the run.
func (s *IngestService) HandleTask(ctx context.Context, t *model.Task) error {
	p, err := model.DecodeIngestionPayload(t.Payload)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodePermanentUpstream, "undecodable ingestion task")
	}
	_, err = s.Run(ctx, p)
	return err
}

// Run executes one ingestion page against the named source.
func (s *IngestService) Run(ctx context.Context, p model.IngestionPayload) (*IngestResult, error) {
	client, err := s.sources.Get(p.Source)
	if err != nil {
		return nil, err
	}

	fetched, err := client.Fetch(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("fetch from %s: %w", p.Source, err)
	}

	result := &IngestResult{
		Source:  p.Source,
		Fetched: len(fetched.Candidates) + len(fetched.Malformed),
	}
	for _, malformedErr := range fetched.Malformed {
		result.Skipped++
		if s.logger != nil {
			s.logger.WarnContext(ctx, "skipping malformed candidate",
				"source", p.Source, "error", malformedErr)
		}
	}

	for _, candidate := range fetched.Candidates {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if _, upsertErr := s.jobs.Upsert(ctx, candidate); upsertErr != nil {
			if apperrors.IsValidation(upsertErr) || apperrors.IsMalformedSource(upsertErr) {
				result.Skipped++
				if s.logger != nil {
					s.logger.WarnContext(ctx, "skipping invalid candidate",
						"source", p.Source,
						"native_id", candidate.Source.NativeID,
						"error", upsertErr)
				}
				continue
			}
			return result, fmt.Errorf("upsert job %s/%s: %w",
				p.Source, candidate.Source.NativeID, upsertErr)
		}
		result.Upserts++
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "ingestion run complete",
			"source", result.Source,
			"page", p.Page,
			"fetched", result.Fetched,
			"upserts", result.Upserts,
			"skipped", result.Skipped)
	}
	return result, nil
}
