package slate

import "time"

// Config holds configuration for the publication engine.
type Config struct {
	// Concurrency is the maximum number of runs resumed concurrently.
	Concurrency int

	// PollInterval is how often the dispatcher polls for due runs.
	PollInterval time.Duration

	// MaxPublishAttempts is the number of times the publish step is
	// attempted before the run fails terminally.
	MaxPublishAttempts int

	// PublishTimeout is the per-attempt deadline for the publish step.
	// Exceeding it counts as a retryable failure.
	PublishTimeout time.Duration

	// MinContentLength is the minimum item content length accepted by
	// the intake before a run is created.
	MinContentLength int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often claimed runs send heartbeats.
	HeartbeatInterval time.Duration

	// StaleClaimThreshold is how long before a claimed run without a
	// heartbeat is considered abandoned and returned to the due set.
	StaleClaimThreshold time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:         4,
		PollInterval:        1 * time.Second,
		MaxPublishAttempts:  3,
		PublishTimeout:      5 * time.Minute,
		MinContentLength:    1,
		ShutdownTimeout:     30 * time.Second,
		HeartbeatInterval:   10 * time.Second,
		StaleClaimThreshold: 30 * time.Second,
	}
}
