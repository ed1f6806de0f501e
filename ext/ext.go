// Package ext defines the extension system for Slate.
// Extensions are notified of lifecycle events (run created, suspended,
// step completed, publish retrying, etc.) and can react to them, for
// example by recording metrics or writing journal entries.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/mo-hossam-stack/slate/run"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Run lifecycle hooks
// ──────────────────────────────────────────────────

// RunCreated is called after the intake creates a new run.
type RunCreated interface {
	OnRunCreated(ctx context.Context, r *run.Run) error
}

// RunSuspended is called when a run detaches until a future resume time.
type RunSuspended interface {
	OnRunSuspended(ctx context.Context, r *run.Run, resumeAt time.Time) error
}

// RunResumed is called when the dispatcher picks a due run back up.
type RunResumed interface {
	OnRunResumed(ctx context.Context, r *run.Run) error
}

// StepCompleted is called after a run step completes.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, r *run.Run, stepName string, elapsed time.Duration) error
}

// StepFailed is called when a run step fails.
type StepFailed interface {
	OnStepFailed(ctx context.Context, r *run.Run, stepName string, err error) error
}

// PublishRetrying is called when a retryable publish failure schedules
// another attempt.
type PublishRetrying interface {
	OnPublishRetrying(ctx context.Context, r *run.Run, attempt int, nextAttemptAt time.Time) error
}

// RunCompleted is called after a run reaches the completed state.
type RunCompleted interface {
	OnRunCompleted(ctx context.Context, r *run.Run, elapsed time.Duration) error
}

// RunFailed is called when a run reaches the failed state.
type RunFailed interface {
	OnRunFailed(ctx context.Context, r *run.Run, err error) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
