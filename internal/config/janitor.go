package config

import (
	"fmt"
	"time"

	"github.com/hookrelay/hookrelay/internal/env"
)

const (
	defaultJanitorInterval  = time.Minute
	defaultRetentionAge     = 7 * 24 * time.Hour
	defaultJanitorBatchSize = 500
)

// JanitorConfig holds every option recognized by the janitor binary. The
// janitor only ever deletes rows already in a terminal state (completed,
// failed) and never touches running, available, cancelled, or discarded
// rows (the latter two are reserved for an administrative surface this
// package does not implement).
type JanitorConfig struct {
	Database DatabaseConfig

	// Interval is the sleep between sweeps.
	Interval time.Duration `env:"HOOKRELAY_JANITOR_INTERVAL"`
	// RetentionAge is how long a terminal row survives before it becomes
	// eligible for deletion, measured from last_attempt_finished_at.
	RetentionAge time.Duration `env:"HOOKRELAY_JANITOR_RETENTION_AGE"`
	// BatchSize bounds how many rows one sweep deletes across all queues, so a large
	// backlog doesn't hold a delete lock for an unbounded duration.
	BatchSize int `env:"HOOKRELAY_JANITOR_BATCH_SIZE"`

	Overflow OverflowConfig

	Observability ObservabilityConfig
}

// ApplyDefaults fills in every zero-valued option with this package's
// defaults. Called after env.Load and before Validate.
func (c *JanitorConfig) ApplyDefaults() {
	c.Database.ApplyDefaults()

	if c.Interval <= 0 {
		c.Interval = defaultJanitorInterval
	}
	if c.RetentionAge <= 0 {
		c.RetentionAge = defaultRetentionAge
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultJanitorBatchSize
	}
}

// Validate checks that every required option is present.
func (c *JanitorConfig) Validate() error {
	return c.Database.Validate()
}

// LoadJanitorConfig loads, defaults, and validates the janitor configuration
// from the environment.
func LoadJanitorConfig() (*JanitorConfig, error) {
	cfg := &JanitorConfig{}

	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load janitor config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid janitor config: %w", err)
	}

	return cfg, nil
}
