package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/kaigiroku/internal/config"
)

type envConfig struct {
	Env                        string        `env:"ENV" envDefault:"production"`
	ListenAddr                 string        `env:"LISTEN_ADDR" envDefault:":8000"`
	RecognitionLanguages       []string      `env:"RECOGNITION_LANGUAGES" envDefault:"en-US,zh-CN" envSeparator:","`
	GoogleCloudProjectID       string        `env:"GOOGLE_CLOUD_PROJECT_ID,required"`
	GoogleCloudCredentialsJSON string        `env:"GOOGLE_CLOUD_CREDENTIALS_JSON,required"`
	GoogleCloudSpeechLocation  string        `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel     string        `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"chirp_3"`
	LLMBaseURL                 string        `env:"LLM_BASE_URL" envDefault:"https://api.openai.com/v1"`
	LLMAPIKey                  string        `env:"LLM_API_KEY,required"`
	LLMModel                   string        `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	LLMOutlineModel            string        `env:"LLM_OUTLINE_MODEL" envDefault:"gpt-4o"`
	LLMRequestTimeout          time.Duration `env:"LLM_REQUEST_TIMEOUT" envDefault:"30s"`
	CorrectionEnabled          bool          `env:"CORRECTION_ENABLED" envDefault:"true"`
	CorrectionTimeout          time.Duration `env:"CORRECTION_TIMEOUT" envDefault:"5s"`
	SessionReadTimeout         time.Duration `env:"SESSION_READ_TIMEOUT" envDefault:"1s"`
	DispatchPollInterval       time.Duration `env:"DISPATCH_POLL_INTERVAL" envDefault:"1s"`
	SessionDrainTimeout        time.Duration `env:"SESSION_DRAIN_TIMEOUT" envDefault:"3s"`
	OutboxCapacity             int           `env:"OUTBOX_CAPACITY" envDefault:"64"`
	SummaryInterval            time.Duration `env:"SUMMARY_INTERVAL" envDefault:"30s"`
	SummaryRecentLines         int           `env:"SUMMARY_RECENT_LINES" envDefault:"20"`
	SummaryIdleTTL             time.Duration `env:"SUMMARY_IDLE_TTL" envDefault:"2h"`
	RepositoryDriver           string        `env:"REPOSITORY_DRIVER" envDefault:"none"`
	DatabaseURL                string        `env:"DATABASE_URL"`
	TranscriptWebhookURL       string        `env:"TRANSCRIPT_WEBHOOK_URL"`
	TranscriptTimezone         string        `env:"TRANSCRIPT_TIMEZONE" envDefault:"UTC"`
}

func Load() (*internalconfig.Config, error) {
	return load(env.Options{})
}

func load(opts env.Options) (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.ParseWithOptions(&raw, opts); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		ListenAddr:                 raw.ListenAddr,
		RecognitionLanguages:       raw.RecognitionLanguages,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		LLMBaseURL:                 raw.LLMBaseURL,
		LLMAPIKey:                  raw.LLMAPIKey,
		LLMModel:                   raw.LLMModel,
		LLMOutlineModel:            raw.LLMOutlineModel,
		LLMRequestTimeout:          raw.LLMRequestTimeout,
		CorrectionEnabled:          raw.CorrectionEnabled,
		CorrectionTimeout:          raw.CorrectionTimeout,
		SessionReadTimeout:         raw.SessionReadTimeout,
		DispatchPollInterval:       raw.DispatchPollInterval,
		SessionDrainTimeout:        raw.SessionDrainTimeout,
		OutboxCapacity:             raw.OutboxCapacity,
		SummaryInterval:            raw.SummaryInterval,
		SummaryRecentLines:         raw.SummaryRecentLines,
		SummaryIdleTTL:             raw.SummaryIdleTTL,
		RepositoryDriver:           raw.RepositoryDriver,
		DatabaseURL:                raw.DatabaseURL,
		TranscriptWebhookURL:       raw.TranscriptWebhookURL,
		TranscriptTimezone:         raw.TranscriptTimezone,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
