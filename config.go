package gantry

import (
	"fmt"
	"time"
)

// Config holds the engine's execution parameters.
type Config struct {
	// Parallelism is the maximum number of jobs executed concurrently.
	// It is the capacity of the dispatch loop's slot semaphore.
	Parallelism int

	// PollInterval is how long the dispatch loop sleeps when the store
	// has no ready job.
	PollInterval time.Duration

	// HeartbeatInterval is how often the worker advertises itself to the
	// store so that leases held by dead workers can be reclaimed.
	HeartbeatInterval time.Duration

	// ShutdownTimeout is the maximum time Stop waits for in-flight jobs
	// to drain before cancelling them.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Parallelism:       10,
		PollInterval:      1 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	}
}

// Validate reports whether the configuration can run an engine.
// Violations are fatal configuration errors surfaced at construction.
func (c Config) Validate() error {
	if c.Parallelism < 1 {
		return fmt.Errorf("%w: parallelism must be >= 1, got %d", ErrInvalidConfig, c.Parallelism)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be > 0, got %s", ErrInvalidConfig, c.PollInterval)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat interval must be > 0, got %s", ErrInvalidConfig, c.HeartbeatInterval)
	}
	return nil
}
