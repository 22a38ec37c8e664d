package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/hookrelay/hookrelay/internal/env"
)

// ErrQueueNameRequired is returned when no queue has been configured to
// consume from.
var ErrQueueNameRequired = errors.New("HOOKRELAY_QUEUE_NAME is required")

// ErrWorkerNameRequired is returned when no worker identity has been set;
// it is recorded in attempted_by on every claim this process makes.
var ErrWorkerNameRequired = errors.New("HOOKRELAY_WORKER_NAME is required")

const (
	defaultPollInterval    = 2 * time.Second
	defaultRequestTimeout  = 10 * time.Second
	defaultMaxConcurrent   = 10
	defaultBackoffCoeff    = 2
	defaultInitialInterval = time.Second
	defaultMaximumInterval = 5 * time.Minute
	defaultReclaimAfter    = 10 * time.Minute
	defaultBindHost        = "0.0.0.0"
	defaultBindPort        = 8090
)

// OverflowConfig configures the optional GCS offload path for oversized
// job payloads. Bucket empty means overflow is disabled and oversized
// payloads are written inline as-is.
type OverflowConfig struct {
	Bucket          string `env:"HOOKRELAY_OVERFLOW_BUCKET"`
	InlineThreshold int    `env:"HOOKRELAY_OVERFLOW_INLINE_THRESHOLD_BYTES"`
}

// RetryPolicyConfig mirrors queue.RetryPolicy's fields as environment
// configuration, recognized under the retry_policy.* names in the worker
// configuration table.
type RetryPolicyConfig struct {
	BackoffCoefficient int           `env:"HOOKRELAY_RETRY_BACKOFF_COEFFICIENT"`
	InitialInterval    time.Duration `env:"HOOKRELAY_RETRY_INITIAL_INTERVAL"`
	MaximumInterval    time.Duration `env:"HOOKRELAY_RETRY_MAXIMUM_INTERVAL"`
	RetryQueueName     string        `env:"HOOKRELAY_RETRY_QUEUE_NAME"`
}

// WorkerConfig holds every option recognized by the webhook worker binary.
type WorkerConfig struct {
	Database DatabaseConfig

	WorkerName        string        `env:"HOOKRELAY_WORKER_NAME"`
	QueueName         string        `env:"HOOKRELAY_QUEUE_NAME"`
	PollInterval      time.Duration `env:"HOOKRELAY_POLL_INTERVAL"`
	RequestTimeout    time.Duration `env:"HOOKRELAY_REQUEST_TIMEOUT"`
	MaxConcurrentJobs int           `env:"HOOKRELAY_MAX_CONCURRENT_JOBS"`
	Transactional     bool          `env:"HOOKRELAY_TRANSACTIONAL"`
	ReclaimAfter      time.Duration `env:"HOOKRELAY_RECLAIM_AFTER"`

	RetryPolicy RetryPolicyConfig
	Overflow    OverflowConfig

	BindHost string `env:"HOOKRELAY_BIND_HOST"`
	BindPort int    `env:"HOOKRELAY_BIND_PORT"`

	Observability ObservabilityConfig
}

// ApplyDefaults fills in every zero-valued option with this package's
// defaults. Called after env.Load and before Validate.
func (c *WorkerConfig) ApplyDefaults() {
	c.Database.ApplyDefaults()

	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = defaultMaxConcurrent
	}
	if c.ReclaimAfter <= 0 {
		c.ReclaimAfter = defaultReclaimAfter
	}
	if c.RetryPolicy.BackoffCoefficient <= 0 {
		c.RetryPolicy.BackoffCoefficient = defaultBackoffCoeff
	}
	if c.RetryPolicy.InitialInterval <= 0 {
		c.RetryPolicy.InitialInterval = defaultInitialInterval
	}
	if c.RetryPolicy.MaximumInterval <= 0 {
		c.RetryPolicy.MaximumInterval = defaultMaximumInterval
	}
	if c.BindHost == "" {
		c.BindHost = defaultBindHost
	}
	if c.BindPort <= 0 {
		c.BindPort = defaultBindPort
	}
}

// Validate checks that every required option is present. It does not
// re-validate defaulted fields: call ApplyDefaults first.
func (c *WorkerConfig) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if c.WorkerName == "" {
		return ErrWorkerNameRequired
	}
	if c.QueueName == "" {
		return ErrQueueNameRequired
	}
	return nil
}

// LoadWorkerConfig loads, defaults, and validates the worker configuration
// from the environment.
func LoadWorkerConfig() (*WorkerConfig, error) {
	cfg := &WorkerConfig{}

	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load worker config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}

	return cfg, nil
}
