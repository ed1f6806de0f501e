package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/mo-hossam-stack/slate/run"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type runCreatedEntry struct {
	name string
	hook RunCreated
}

type runSuspendedEntry struct {
	name string
	hook RunSuspended
}

type runResumedEntry struct {
	name string
	hook RunResumed
}

type stepCompletedEntry struct {
	name string
	hook StepCompleted
}

type stepFailedEntry struct {
	name string
	hook StepFailed
}

type publishRetryingEntry struct {
	name string
	hook PublishRetrying
}

type runCompletedEntry struct {
	name string
	hook RunCompleted
}

type runFailedEntry struct {
	name string
	hook RunFailed
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	runCreated      []runCreatedEntry
	runSuspended    []runSuspendedEntry
	runResumed      []runResumedEntry
	stepCompleted   []stepCompletedEntry
	stepFailed      []stepFailedEntry
	publishRetrying []publishRetryingEntry
	runCompleted    []runCompletedEntry
	runFailed       []runFailedEntry
	shutdown        []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(RunCreated); ok {
		r.runCreated = append(r.runCreated, runCreatedEntry{name, h})
	}
	if h, ok := e.(RunSuspended); ok {
		r.runSuspended = append(r.runSuspended, runSuspendedEntry{name, h})
	}
	if h, ok := e.(RunResumed); ok {
		r.runResumed = append(r.runResumed, runResumedEntry{name, h})
	}
	if h, ok := e.(StepCompleted); ok {
		r.stepCompleted = append(r.stepCompleted, stepCompletedEntry{name, h})
	}
	if h, ok := e.(StepFailed); ok {
		r.stepFailed = append(r.stepFailed, stepFailedEntry{name, h})
	}
	if h, ok := e.(PublishRetrying); ok {
		r.publishRetrying = append(r.publishRetrying, publishRetryingEntry{name, h})
	}
	if h, ok := e.(RunCompleted); ok {
		r.runCompleted = append(r.runCompleted, runCompletedEntry{name, h})
	}
	if h, ok := e.(RunFailed); ok {
		r.runFailed = append(r.runFailed, runFailedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Run event emitters
// ──────────────────────────────────────────────────

// EmitRunCreated notifies all extensions that implement RunCreated.
func (r *Registry) EmitRunCreated(ctx context.Context, rn *run.Run) {
	for _, e := range r.runCreated {
		if err := e.hook.OnRunCreated(ctx, rn); err != nil {
			r.logHookError("OnRunCreated", e.name, err)
		}
	}
}

// EmitRunSuspended notifies all extensions that implement RunSuspended.
func (r *Registry) EmitRunSuspended(ctx context.Context, rn *run.Run, resumeAt time.Time) {
	for _, e := range r.runSuspended {
		if err := e.hook.OnRunSuspended(ctx, rn, resumeAt); err != nil {
			r.logHookError("OnRunSuspended", e.name, err)
		}
	}
}

// EmitRunResumed notifies all extensions that implement RunResumed.
func (r *Registry) EmitRunResumed(ctx context.Context, rn *run.Run) {
	for _, e := range r.runResumed {
		if err := e.hook.OnRunResumed(ctx, rn); err != nil {
			r.logHookError("OnRunResumed", e.name, err)
		}
	}
}

// EmitStepCompleted notifies all extensions that implement StepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, rn *run.Run, stepName string, elapsed time.Duration) {
	for _, e := range r.stepCompleted {
		if err := e.hook.OnStepCompleted(ctx, rn, stepName, elapsed); err != nil {
			r.logHookError("OnStepCompleted", e.name, err)
		}
	}
}

// EmitStepFailed notifies all extensions that implement StepFailed.
func (r *Registry) EmitStepFailed(ctx context.Context, rn *run.Run, stepName string, stepErr error) {
	for _, e := range r.stepFailed {
		if err := e.hook.OnStepFailed(ctx, rn, stepName, stepErr); err != nil {
			r.logHookError("OnStepFailed", e.name, err)
		}
	}
}

// EmitPublishRetrying notifies all extensions that implement PublishRetrying.
func (r *Registry) EmitPublishRetrying(ctx context.Context, rn *run.Run, attempt int, nextAttemptAt time.Time) {
	for _, e := range r.publishRetrying {
		if err := e.hook.OnPublishRetrying(ctx, rn, attempt, nextAttemptAt); err != nil {
			r.logHookError("OnPublishRetrying", e.name, err)
		}
	}
}

// EmitRunCompleted notifies all extensions that implement RunCompleted.
func (r *Registry) EmitRunCompleted(ctx context.Context, rn *run.Run, elapsed time.Duration) {
	for _, e := range r.runCompleted {
		if err := e.hook.OnRunCompleted(ctx, rn, elapsed); err != nil {
			r.logHookError("OnRunCompleted", e.name, err)
		}
	}
}

// EmitRunFailed notifies all extensions that implement RunFailed.
func (r *Registry) EmitRunFailed(ctx context.Context, rn *run.Run, runErr error) {
	for _, e := range r.runFailed {
		if err := e.hook.OnRunFailed(ctx, rn, runErr); err != nil {
			r.logHookError("OnRunFailed", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block a run.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
