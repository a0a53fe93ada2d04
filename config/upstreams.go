package config

import "time"

// AdzunaConfig contains credentials for the Adzuna job search API.
type AdzunaConfig struct {
	AppID   string `env:"APP_ID"  envDefault:""`
	AppKey  string `env:"APP_KEY" envDefault:""`
	Country string `env:"COUNTRY" envDefault:"us"`
	// BaseURL overrides the production endpoint, mainly for tests.
	BaseURL string `env:"BASE_URL" envDefault:""`
}

// Enabled reports whether credentials are present.
func (c AdzunaConfig) Enabled() bool {
	return c.AppID != "" && c.AppKey != ""
}

// ATSConfig contains the programmatic ATS apply API configuration.
type ATSConfig struct {
	BaseURL string        `env:"BASE_URL" envDefault:""`
	APIKey  string        `env:"API_KEY"  envDefault:""`
	Timeout time.Duration `env:"TIMEOUT"  envDefault:"60s"`
}

// Enabled reports whether the ATS channel is configured.
func (c ATSConfig) Enabled() bool {
	return c.BaseURL != ""
}

// AgentConfig contains the automation agent service configuration.
type AgentConfig struct {
	BaseURL string        `env:"BASE_URL" envDefault:""`
	Timeout time.Duration `env:"TIMEOUT"  envDefault:"5m"`
}

// Enabled reports whether the automation agent channel is configured.
func (c AgentConfig) Enabled() bool {
	return c.BaseURL != ""
}
