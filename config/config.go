package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Database and Redis configuration
//   - services.go: Service mode and worker configuration
//   - upstreams.go: External source, ATS, and agent configuration
type AppConfig struct {
	// IsDev controls development mode behavior. Set DEV=true for
	// development mode; in-memory stores replace Postgres and Redis.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// Services is a comma-delimited list of enabled services.
	// Valid values: ingest-runner, submit-runner, scheduler, reaper
	Services string `env:"SERVICES" envDefault:"ingest-runner,submit-runner"`

	// Worker configuration
	IngestRunner IngestRunnerConfig
	SubmitRunner SubmitRunnerConfig
	Scheduler    SchedulerConfig
	Reaper       ReaperConfig

	// External collaborators
	Adzuna AdzunaConfig `envPrefix:"ADZUNA_"`
	ATS    ATSConfig    `envPrefix:"ATS_"`
	Agent  AgentConfig  `envPrefix:"AGENT_"`

	// Retry policy for queued tasks
	Retry RetryConfig `envPrefix:"RETRY_"`
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.IngestRunner.Sanitize()
	c.SubmitRunner.Sanitize()
	c.Scheduler.Sanitize()
	c.Reaper.Sanitize()
	c.Retry.Sanitize()
	c.detectDevMode()
}

// detectDevMode checks both DEV and APP_ENV environment variables.
// This is called by Sanitize() to ensure IsDev is set correctly.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		appEnv := strings.ToLower(os.Getenv("APP_ENV"))
		c.IsDev = appEnv == "development" || appEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsIngestRunnerEnabled returns true if the ingestion runner is enabled.
func (c *AppConfig) IsIngestRunnerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeIngestRunner]
}

// IsSubmitRunnerEnabled returns true if the submission runner is enabled.
func (c *AppConfig) IsSubmitRunnerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeSubmitRunner]
}

// IsSchedulerEnabled returns true if the scheduler service is enabled.
func (c *AppConfig) IsSchedulerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeScheduler]
}

// IsReaperEnabled returns true if the reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeReaper]
}
