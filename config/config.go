package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env      string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port     string `env:"PORT" envDefault:"8080" validate:"required"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`
	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	JWTSecret string `env:"JWT_SECRET,required" validate:"required,min=32"`

	// Scheduler.
	MaxConcurrentJobs int `env:"MAX_CONCURRENT_JOBS" envDefault:"3" validate:"min=1,max=100"`
	PollIntervalSec   int `env:"POLL_INTERVAL_SEC" envDefault:"1" validate:"min=1,max=60"`
	JobTimeoutSec     int `env:"JOB_TIMEOUT_SEC" envDefault:"600" validate:"min=1"`

	// Per-call resilience.
	CallTimeoutSec          int     `env:"CALL_TIMEOUT_SEC" envDefault:"60" validate:"min=1"`
	MaxRetries              int     `env:"MAX_RETRIES" envDefault:"3" validate:"min=0,max=10"`
	RetryInitialBackoffMS   int     `env:"RETRY_INITIAL_BACKOFF_MS" envDefault:"500" validate:"min=1"`
	RetryMaxBackoffMS       int     `env:"RETRY_MAX_BACKOFF_MS" envDefault:"30000" validate:"min=1"`
	RetryBackoffMultiplier  float64 `env:"RETRY_BACKOFF_MULTIPLIER" envDefault:"2" validate:"min=1"`
	BreakerFailureThreshold int     `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5" validate:"min=1"`
	BreakerCooldownSec      int     `env:"BREAKER_COOLDOWN_SEC" envDefault:"30" validate:"min=1"`

	// Pipeline.
	BatchConcurrency   int `env:"BATCH_CONCURRENCY" envDefault:"3" validate:"min=1,max=20"`
	PublishConcurrency int `env:"PUBLISH_CONCURRENCY" envDefault:"3" validate:"min=1,max=20"`
	CatalogTTLSec      int `env:"CATALOG_TTL_SEC" envDefault:"300" validate:"min=1"`

	// External services.
	ImageGenURL   string `env:"IMAGEGEN_URL" envDefault:"http://localhost:8188"`
	ImageGenToken string `env:"IMAGEGEN_TOKEN"`
	StorageDir    string `env:"STORAGE_DIR" envDefault:"./data/images"`
	ImageBaseURL  string `env:"IMAGE_BASE_URL"`

	PrintifyURL   string `env:"PRINTIFY_URL"`
	PrintifyToken string `env:"PRINTIFY_TOKEN"`
	ShopifyURL    string `env:"SHOPIFY_URL"`
	ShopifyToken  string `env:"SHOPIFY_TOKEN"`

	// Notifications.
	ResendAPIKey string `env:"RESEND_API_KEY" validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom   string `env:"RESEND_FROM"    validate:"required_if=Env production,required_if=Env staging"`
	NotifyEmail  string `env:"NOTIFY_EMAIL"`

	// Recurring batches. Empty spec disables them.
	ScheduleCron    string   `env:"SCHEDULE_CRON"`
	SchedulePrompts []string `env:"SCHEDULE_PROMPTS" envSeparator:";"`

	// Health.
	SuccessRateFloor float64 `env:"SUCCESS_RATE_FLOOR" envDefault:"0.5" validate:"min=0,max=1"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel maps the LOG_LEVEL string onto slog's level type.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) PollInterval() time.Duration { return time.Duration(c.PollIntervalSec) * time.Second }
func (c *Config) JobTimeout() time.Duration   { return time.Duration(c.JobTimeoutSec) * time.Second }
func (c *Config) CallTimeout() time.Duration  { return time.Duration(c.CallTimeoutSec) * time.Second }
func (c *Config) CatalogTTL() time.Duration   { return time.Duration(c.CatalogTTLSec) * time.Second }

func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownSec) * time.Second
}

func (c *Config) RetryInitialBackoff() time.Duration {
	return time.Duration(c.RetryInitialBackoffMS) * time.Millisecond
}

func (c *Config) RetryMaxBackoff() time.Duration {
	return time.Duration(c.RetryMaxBackoffMS) * time.Millisecond
}
