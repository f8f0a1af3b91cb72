// Package config loads the duet command configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/koscakluka/duet/core/schedule"
)

const (
	ProviderOpenAI = "openai"
	ProviderGroq   = "groq"
)

// Config holds everything the duet commands read from the environment.
//
// Loading order (highest priority first): environment variables, .env files,
// struct tag defaults.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"duet"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"text"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPHeaders  string `env:"OTEL_EXPORTER_OTLP_HEADERS"`

	// Empty DatabaseURL keeps the dialogue in memory.
	DatabaseURL string `env:"DATABASE_URL"`
	// RedisURL is a comma-separated list of redis:// URLs. When set, turns
	// are fanned out over Redis instead of Postgres LISTEN/NOTIFY.
	RedisURL string `env:"REDIS_URL"`
	RelayURL string `env:"DUET_RELAY_URL" envDefault:"http://localhost:8080"`
	Listen   string `env:"DUET_LISTEN" envDefault:":8080"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Language    string `env:"DUET_LANGUAGE" envDefault:"en"`
	PhrasesFile string `env:"DUET_PHRASES_FILE"`
	TopicsFile  string `env:"DUET_TOPICS_FILE"`
	SpeakerA    string `env:"DUET_SPEAKER_A_NAME" envDefault:"Sage"`
	SpeakerB    string `env:"DUET_SPEAKER_B_NAME" envDefault:"Echo"`

	DormantStartHour int           `env:"DUET_DORMANT_START_HOUR" envDefault:"2"`
	DormantEndHour   int           `env:"DUET_DORMANT_END_HOUR" envDefault:"8"`
	TickInterval     time.Duration `env:"DUET_TICK_INTERVAL" envDefault:"5m"`
	TimeZone         string        `env:"DUET_TIMEZONE" envDefault:"Local"`
	HistoryWindow    int           `env:"DUET_HISTORY_WINDOW" envDefault:"10"`

	SpeakerAProvider string `env:"DUET_SPEAKER_A_PROVIDER" envDefault:"openai"`
	SpeakerBProvider string `env:"DUET_SPEAKER_B_PROVIDER" envDefault:"groq"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	OpenAIModel   string `env:"OPENAI_MODEL"`
	GroqAPIKey    string `env:"GROQ_API_KEY"`
	GroqBaseURL   string `env:"GROQ_BASE_URL"`
	GroqModel     string `env:"GROQ_MODEL"`
}

// Load reads .env files when present and parses the environment into Config.
func Load() (*Config, error) {
	loadEnvFiles(".env")

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFiles never overrides variables that are already set.
func loadEnvFiles(paths ...string) {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
		}
	}
}

func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Schedule(); err != nil {
		errs = append(errs, err)
	}
	for _, provider := range []string{c.SpeakerAProvider, c.SpeakerBProvider} {
		switch strings.ToLower(provider) {
		case ProviderOpenAI, ProviderGroq:
		default:
			errs = append(errs, fmt.Errorf("unknown generator provider %q", provider))
		}
	}
	if c.HistoryWindow < 1 {
		errs = append(errs, fmt.Errorf("DUET_HISTORY_WINDOW must be positive, got %d", c.HistoryWindow))
	}

	return errors.Join(errs...)
}

// Schedule builds the dormancy schedule in the configured time zone.
func (c *Config) Schedule() (schedule.Config, error) {
	location, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return schedule.Config{}, fmt.Errorf("load time zone %q: %w", c.TimeZone, err)
	}

	config := schedule.Config{
		DormantStartHour: c.DormantStartHour,
		DormantEndHour:   c.DormantEndHour,
		TickInterval:     c.TickInterval,
		Location:         location,
	}
	if err := config.Validate(); err != nil {
		return schedule.Config{}, err
	}
	return config, nil
}

// UsesPostgres reports whether turns are stored durably.
func (c *Config) UsesPostgres() bool {
	return strings.TrimSpace(c.DatabaseURL) != ""
}

// UsesRedis reports whether turns are broadcast over Redis.
func (c *Config) UsesRedis() bool {
	return strings.TrimSpace(c.RedisURL) != ""
}
