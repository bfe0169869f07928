package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	RepositoryDriverNone     = "none"
	RepositoryDriverPostgres = "postgres"
	RepositoryDriverSQLite   = "sqlite"
)

type Config struct {
	Env                        string
	ListenAddr                 string
	RecognitionLanguages       []string
	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string
	LLMBaseURL                 string
	LLMAPIKey                  string
	LLMModel                   string
	LLMOutlineModel            string
	LLMRequestTimeout          time.Duration
	CorrectionEnabled          bool
	CorrectionTimeout          time.Duration
	SessionReadTimeout         time.Duration
	DispatchPollInterval       time.Duration
	SessionDrainTimeout        time.Duration
	OutboxCapacity             int
	SummaryInterval            time.Duration
	SummaryRecentLines         int
	SummaryIdleTTL             time.Duration
	RepositoryDriver           string
	DatabaseURL                string
	TranscriptWebhookURL       string
	TranscriptTimezone         string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if strings.TrimSpace(req.value) == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if len(c.RecognitionLanguages) == 0 {
		return fmt.Errorf("RECOGNITION_LANGUAGES must list at least one language")
	}
	for _, d := range c.positiveDurationChecks() {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	if c.OutboxCapacity <= 0 {
		return fmt.Errorf("OUTBOX_CAPACITY must be positive, got %d", c.OutboxCapacity)
	}
	if c.SummaryRecentLines <= 0 {
		return fmt.Errorf("SUMMARY_RECENT_LINES must be positive, got %d", c.SummaryRecentLines)
	}
	if c.SummaryIdleTTL < 0 {
		return fmt.Errorf("SUMMARY_IDLE_TTL must not be negative, got %s", c.SummaryIdleTTL)
	}
	switch c.RepositoryDriver {
	case RepositoryDriverNone:
	case RepositoryDriverPostgres, RepositoryDriverSQLite:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when REPOSITORY_DRIVER=%s", c.RepositoryDriver)
		}
	default:
		return fmt.Errorf("REPOSITORY_DRIVER must be one of none, postgres, sqlite, got %q", c.RepositoryDriver)
	}
	if c.TranscriptTimezone == "" {
		return fmt.Errorf("TRANSCRIPT_TIMEZONE is required")
	}
	if _, err := time.LoadLocation(c.TranscriptTimezone); err != nil {
		return fmt.Errorf("TRANSCRIPT_TIMEZONE is invalid: %w", err)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "LISTEN_ADDR", value: c.ListenAddr},
		{name: "GOOGLE_CLOUD_PROJECT_ID", value: c.GoogleCloudProjectID},
		{name: "GOOGLE_CLOUD_CREDENTIALS_JSON", value: c.GoogleCloudCredentialsJSON},
		{name: "GOOGLE_CLOUD_SPEECH_LOCATION", value: c.GoogleCloudSpeechLocation},
		{name: "LLM_BASE_URL", value: c.LLMBaseURL},
		{name: "LLM_API_KEY", value: c.LLMAPIKey},
		{name: "LLM_MODEL", value: c.LLMModel},
		{name: "LLM_OUTLINE_MODEL", value: c.LLMOutlineModel},
	}
}

type durationField struct {
	name  string
	value time.Duration
}

func (c *Config) positiveDurationChecks() []durationField {
	return []durationField{
		{name: "LLM_REQUEST_TIMEOUT", value: c.LLMRequestTimeout},
		{name: "CORRECTION_TIMEOUT", value: c.CorrectionTimeout},
		{name: "SESSION_READ_TIMEOUT", value: c.SessionReadTimeout},
		{name: "DISPATCH_POLL_INTERVAL", value: c.DispatchPollInterval},
		{name: "SESSION_DRAIN_TIMEOUT", value: c.SessionDrainTimeout},
		{name: "SUMMARY_INTERVAL", value: c.SummaryInterval},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TranscriptTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
