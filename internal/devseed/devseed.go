// Package devseed populates the development-mode stores with sample data
// so the pipeline has postings and applications to work on without any
// configured source.
package devseed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobwell/jobwell-go/internal/core"
	"github.com/jobwell/jobwell-go/internal/domain/model"
	apperrors "github.com/jobwell/jobwell-go/internal/errors"
	"github.com/jobwell/jobwell-go/internal/service"
)

// Services bundles the dependencies needed for development seeding.
type Services struct {
	Jobs         core.JobStore
	Applications *service.ApplicationService
}

// seedUserID is the fixed user every seeded application belongs to.
const seedUserID = "dev-user"

// Run seeds sample postings and saves a couple of applications for the
// development user. Upserts converge on the source fingerprint and
// duplicate saves are skipped, so Run is safe to call on every start.
func Run(ctx context.Context, svcs Services, logger *slog.Logger) error {
	if svcs.Jobs == nil {
		return fmt.Errorf("job store is required for seeding")
	}

	jobIDs := make([]string, 0, len(seedJobs()))
	for _, req := range seedJobs() {
		job, err := svcs.Jobs.Upsert(ctx, req)
		if err != nil {
			return fmt.Errorf("seed job %q: %w", req.Title, err)
		}
		jobIDs = append(jobIDs, job.ID)
		if logger != nil {
			logger.InfoContext(ctx, "seeded posting",
				"job_id", job.ID, "title", job.Title, "company", job.Company)
		}
	}

	if svcs.Applications == nil {
		return nil
	}
	return seedApplications(ctx, svcs.Applications, jobIDs, logger)
}

func seedApplications(
	ctx context.Context,
	apps *service.ApplicationService,
	jobIDs []string,
	logger *slog.Logger,
) error {
	// Save the first two postings for the dev user. More would just be
	// noise when poking at the pipeline locally.
	limit := 2
	if len(jobIDs) < limit {
		limit = len(jobIDs)
	}
	for _, jobID := range jobIDs[:limit] {
		app, err := apps.Save(ctx, service.SaveRequest{
			UserID:        seedUserID,
			JobID:         jobID,
			ResumeVersion: "v1",
			Notes:         "seeded in dev mode",
		})
		if err != nil {
			if apperrors.IsDuplicateApplication(err) {
				continue
			}
			return fmt.Errorf("seed application for job %s: %w", jobID, err)
		}
		if logger != nil {
			logger.InfoContext(ctx, "seeded application",
				"application_id", app.ID, "job_id", jobID, "user_id", seedUserID)
		}
	}
	return nil
}

func seedJobs() []*model.UpsertJobRequest {
	posted := time.Now().Add(-48 * time.Hour).UTC()
	return []*model.UpsertJobRequest{
		{
			Title:       "Backend Engineer",
			Company:     "Acme Corp",
			Description: "Build and operate Go services backing the hiring platform.",
			Location:    "Remote, US",
			Salary:      salaryRange(140000, 180000, "USD"),
			Tags:        []string{"go", "postgres", "remote"},
			PostedAt:    &posted,
			Source:      model.SourceRef{Name: "devseed", NativeID: "dev-1", URL: "https://jobs.example.com/acme/backend"},
			ATS: model.ATSRef{
				System:           "greenhouse",
				SupportsAPIApply: true,
				BoardToken:       "acme",
			},
		},
		{
			Title:       "Platform Engineer",
			Company:     "Initech",
			Description: "Own the task queue and ingestion infrastructure.",
			Location:    "Austin, TX",
			Salary:      salaryRange(150000, 190000, "USD"),
			Tags:        []string{"go", "kubernetes"},
			PostedAt:    &posted,
			Source:      model.SourceRef{Name: "devseed", NativeID: "dev-2", URL: "https://jobs.example.com/initech/platform"},
			ATS:         model.ATSRef{System: "workday"},
		},
		{
			Title:       "Data Engineer",
			Company:     "Globex",
			Description: "Normalize and score job market data feeds.",
			Location:    "Remote",
			Tags:        []string{"python", "sql"},
			PostedAt:    &posted,
			Source:      model.SourceRef{Name: "devseed", NativeID: "dev-3", URL: "https://jobs.example.com/globex/data"},
		},
	}
}

func salaryRange(minV, maxV float64, currency string) model.SalaryRange {
	return model.SalaryRange{Min: &minV, Max: &maxV, Currency: currency}
}
