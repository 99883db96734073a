package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// WorkerConfig holds the queue engine, pipeline and logging settings shared by
// the worker, api and stagectl binaries.
type WorkerConfig struct {
	Concurrency       int           `env:"QUEUE_CONCURRENCY,default=5"`
	RateMax           int           `env:"QUEUE_RATE_MAX,default=10"`
	RateDuration      time.Duration `env:"QUEUE_RATE_DURATION,default=1s"`
	Queues            []string      `env:"QUEUES"`
	MaxAttempts       int           `env:"JOB_MAX_ATTEMPTS,default=3"`
	BackoffBase       time.Duration `env:"JOB_BACKOFF_BASE,default=5s"`
	LockDuration      time.Duration `env:"JOB_LOCK_DURATION,default=5m"`
	RetainCompleted   time.Duration `env:"RETAIN_COMPLETED_AGE,default=24h"`
	KeepCompleted     int           `env:"RETAIN_COMPLETED_COUNT,default=1000"`
	RetainFailed      time.Duration `env:"RETAIN_FAILED_AGE,default=168h"`
	JanitorInterval   time.Duration `env:"JANITOR_INTERVAL,default=30s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT,default=30s"`
	CredentialTTL     time.Duration `env:"CREDENTIAL_TTL,default=5m"`
	SecretBackend     string        `env:"SECRET_BACKEND,default=db"`
	DiscoveryInterval time.Duration `env:"DISCOVERY_INTERVAL,default=1h"`
	DiscoveryOverlap  time.Duration `env:"DISCOVERY_OVERLAP,default=10m"`
	DiscoveryLimit    int           `env:"DISCOVERY_LIMIT,default=100"`
	SkillServiceURL   string        `env:"SKILL_SERVICE_URL"`
	FileFetchHosts    []string      `env:"FILE_FETCH_HOSTS"`
	APIAddr           string        `env:"API_ADDR,default=:8080"`
	LogLevel          string        `env:"LOG_LEVEL,default=info"`
	LogFile           string        `env:"LOG_FILE"`
}

// to help with testing
var envProcess = envconfig.Process

func LoadWorkerConfig(ctx context.Context) (*WorkerConfig, error) {
	var cfg WorkerConfig
	if err := envProcess(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if len(cfg.Queues) == 0 {
		cfg.Queues = append([]string(nil), AllowedQueues...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *WorkerConfig) Validate() error {
	var errs []string

	if c.Concurrency < 1 {
		errs = append(errs, "QUEUE_CONCURRENCY must be at least 1")
	}
	if c.RateMax < 1 {
		errs = append(errs, "QUEUE_RATE_MAX must be at least 1")
	}
	if c.RateDuration <= 0 {
		errs = append(errs, "QUEUE_RATE_DURATION must be positive")
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, "JOB_MAX_ATTEMPTS must be at least 1")
	}
	if c.BackoffBase <= 0 {
		errs = append(errs, "JOB_BACKOFF_BASE must be positive")
	}
	if c.LockDuration <= 0 {
		errs = append(errs, "JOB_LOCK_DURATION must be positive")
	}
	if c.KeepCompleted < 0 {
		errs = append(errs, "RETAIN_COMPLETED_COUNT must be non-negative")
	}
	if c.DiscoveryInterval < 0 {
		errs = append(errs, "DISCOVERY_INTERVAL must be non-negative")
	}
	if c.DiscoveryLimit < 1 {
		errs = append(errs, "DISCOVERY_LIMIT must be at least 1")
	}

	switch c.SecretBackend {
	case "env", "db", "aws":
	default:
		errs = append(errs, "SECRET_BACKEND must be one of env, db, aws")
	}

	for _, q := range c.Queues {
		if _, ok := QueueJobTypes[q]; !ok {
			errs = append(errs, fmt.Sprintf("QUEUES contains unknown queue %q", q))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
