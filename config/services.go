package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeIngestRunner runs the ingestion task worker.
	ServiceModeIngestRunner ServiceMode = "ingest-runner"
	// ServiceModeSubmitRunner runs the submission task worker.
	ServiceModeSubmitRunner ServiceMode = "submit-runner"
	// ServiceModeScheduler runs the recurring ingestion scheduler.
	ServiceModeScheduler ServiceMode = "scheduler"
	// ServiceModeReaper runs the queue cleanup service.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeIngestRunner,
		ServiceModeSubmitRunner,
		ServiceModeScheduler,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeIngestRunner,
			ServiceModeSubmitRunner,
			ServiceModeScheduler,
			ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: ingest-runner, submit-runner, scheduler, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// IngestRunnerConfig contains ingestion worker configuration.
type IngestRunnerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"INGEST_RUNNER_CONCURRENCY" envDefault:"2"`

	// TaskLease is the duration to lease an ingestion task.
	TaskLease time.Duration `env:"INGEST_RUNNER_TASK_LEASE" envDefault:"2m"`
}

// Sanitize applies guardrails to ingestion runner configuration values.
func (c *IngestRunnerConfig) Sanitize() {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.TaskLease < 5*time.Second {
		c.TaskLease = 5 * time.Second
	}
}

// SubmitRunnerConfig contains submission worker configuration.
type SubmitRunnerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"SUBMIT_RUNNER_CONCURRENCY" envDefault:"2"`

	// TaskLease is the duration to lease a submission task. Automation
	// agent runs are slow, so the default is generous.
	TaskLease time.Duration `env:"SUBMIT_RUNNER_TASK_LEASE" envDefault:"10m"`

	// InFlightTTL bounds the per-application in-flight marker held during
	// a submission attempt.
	InFlightTTL time.Duration `env:"SUBMIT_IN_FLIGHT_TTL" envDefault:"10m"`
}

// Sanitize applies guardrails to submission runner configuration values.
func (c *SubmitRunnerConfig) Sanitize() {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.TaskLease < 5*time.Second {
		c.TaskLease = 5 * time.Second
	}
	if c.InFlightTTL < c.TaskLease {
		// A marker that outlives the queue lease cannot deadlock work, but
		// one shorter than the lease lets two workers submit at once.
		c.InFlightTTL = c.TaskLease
	}
}

// SchedulerConfig contains recurring ingestion scheduler configuration.
type SchedulerConfig struct {
	// Interval between scheduling passes.
	Interval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"1h"`

	// Source names which source client runs the scheduled searches.
	Source string `env:"SCHEDULER_SOURCE" envDefault:"adzuna"`

	// Queries are the recurring search terms.
	Queries []string `env:"SCHEDULER_QUERIES" envSeparator:";"`

	// Where optionally narrows searches to a location.
	Where string `env:"SCHEDULER_WHERE" envDefault:""`

	// Pages is how many result pages each search pulls per pass.
	Pages int `env:"SCHEDULER_PAGES" envDefault:"2"`

	// PerPage is the page size requested from the source.
	PerPage int `env:"SCHEDULER_PER_PAGE" envDefault:"50"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (c *SchedulerConfig) Sanitize() {
	if c.Interval < time.Minute {
		c.Interval = time.Minute
	}
	if c.Pages < 1 {
		c.Pages = 1
	}
	if c.PerPage < 1 {
		c.PerPage = 1
	}
	if c.PerPage > 100 {
		c.PerPage = 100
	}
}

// ReaperConfig contains queue cleanup service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"15m"`

	// CompletedMaxAge is the maximum age for completed tasks before deletion.
	CompletedMaxAge time.Duration `env:"REAPER_COMPLETED_MAX_AGE" envDefault:"24h"`

	// DeadMaxAge is the maximum age for dead-lettered tasks before deletion.
	// Dead tasks are kept longer so failed submissions can be inspected.
	DeadMaxAge time.Duration `env:"REAPER_DEAD_MAX_AGE" envDefault:"168h"` // 7 days

	// StaleAfter marks postings not refreshed within this window as stale.
	StaleAfter time.Duration `env:"REAPER_STALE_AFTER" envDefault:"72h"`

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (c *ReaperConfig) Sanitize() {
	if c.Interval < time.Minute {
		c.Interval = time.Minute
	}
	if c.CompletedMaxAge < time.Hour {
		c.CompletedMaxAge = time.Hour
	}
	if c.DeadMaxAge < time.Hour {
		c.DeadMaxAge = time.Hour
	}
	if c.BatchSize < 1 {
		c.BatchSize = 1
	}
	if c.BatchSize > 10000 {
		c.BatchSize = 10000
	}
}

// RetryConfig contains the retry policy for queued tasks.
type RetryConfig struct {
	// Base is the first retry delay; each attempt doubles it.
	Base time.Duration `env:"BASE" envDefault:"1s"`

	// MaxDelay caps the backoff.
	MaxDelay time.Duration `env:"MAX_DELAY" envDefault:"60s"`

	// MaxAttempts is the attempt budget before a task is dead-lettered.
	MaxAttempts int `env:"MAX_ATTEMPTS" envDefault:"5"`
}

// Sanitize applies guardrails to retry configuration values.
func (c *RetryConfig) Sanitize() {
	if c.Base <= 0 {
		c.Base = time.Second
	}
	if c.MaxDelay < c.Base {
		c.MaxDelay = c.Base
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
}
