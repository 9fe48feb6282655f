package app

import (
	"errors"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the purchasing console and worker.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	BackendURL     string        `envconfig:"BACKEND_URL" default:"http://127.0.0.1:8000/api"`
	BackendToken   string        `envconfig:"BACKEND_TOKEN"`
	BackendTimeout time.Duration `envconfig:"BACKEND_TIMEOUT" default:"15s"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`

	CatalogTTL         time.Duration `envconfig:"CATALOG_TTL" default:"10m"`
	CatalogRefreshCron string        `envconfig:"CATALOG_REFRESH_CRON" default:"*/15 * * * *"`
	DraftTTL           time.Duration `envconfig:"DRAFT_TTL" default:"24h"`
	DismissGrace       time.Duration `envconfig:"DISMISS_GRACE" default:"2s"`

	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
	WorkerConcurrency  int `envconfig:"WORKER_CONCURRENCY" default:"2"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	cfg.BackendURL = strings.TrimSpace(cfg.BackendURL)
	if cfg.BackendURL == "" {
		return nil, errors.New("backend url must be provided")
	}
	if cfg.DismissGrace < 0 {
		return nil, errors.New("dismiss grace must not be negative")
	}
	return &cfg, nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
