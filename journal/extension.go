package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mo-hossam-stack/slate/ext"
	"github.com/mo-hossam-stack/slate/id"
	"github.com/mo-hossam-stack/slate/run"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*Extension)(nil)
	_ ext.RunCreated      = (*Extension)(nil)
	_ ext.RunSuspended    = (*Extension)(nil)
	_ ext.RunResumed      = (*Extension)(nil)
	_ ext.StepCompleted   = (*Extension)(nil)
	_ ext.StepFailed      = (*Extension)(nil)
	_ ext.PublishRetrying = (*Extension)(nil)
	_ ext.RunCompleted    = (*Extension)(nil)
	_ ext.RunFailed       = (*Extension)(nil)
)

// Extension bridges run lifecycle events to the journal store.
// Each lifecycle hook appends one structured [Entry].
type Extension struct {
	store   Store
	enabled map[string]bool // nil = all enabled
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an Extension that appends entries to the provided Store.
func New(s Store, opts ...Option) *Extension {
	e := &Extension{
		store:  s,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "journal" }

// OnRunCreated implements ext.RunCreated.
func (e *Extension) OnRunCreated(ctx context.Context, r *run.Run) error {
	return e.append(ctx, ActionRunCreated, OutcomeSuccess, r, "", nil,
		"item_id", r.ItemID,
		"scheduled_at", r.ScheduledAt.Format(time.RFC3339),
	)
}

// OnRunSuspended implements ext.RunSuspended.
func (e *Extension) OnRunSuspended(ctx context.Context, r *run.Run, resumeAt time.Time) error {
	return e.append(ctx, ActionRunSuspended, OutcomeSuccess, r, "", nil,
		"resume_at", resumeAt.Format(time.RFC3339),
	)
}

// OnRunResumed implements ext.RunResumed.
func (e *Extension) OnRunResumed(ctx context.Context, r *run.Run) error {
	return e.append(ctx, ActionRunResumed, OutcomeSuccess, r, "", nil)
}

// OnStepCompleted implements ext.StepCompleted.
func (e *Extension) OnStepCompleted(ctx context.Context, r *run.Run, stepName string, elapsed time.Duration) error {
	return e.append(ctx, ActionStepCompleted, OutcomeSuccess, r, stepName, nil,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnStepFailed implements ext.StepFailed.
func (e *Extension) OnStepFailed(ctx context.Context, r *run.Run, stepName string, stepErr error) error {
	return e.append(ctx, ActionStepFailed, OutcomeFailure, r, stepName, stepErr)
}

// OnPublishRetrying implements ext.PublishRetrying.
func (e *Extension) OnPublishRetrying(ctx context.Context, r *run.Run, attempt int, nextAttemptAt time.Time) error {
	return e.append(ctx, ActionPublishRetrying, OutcomeFailure, r, run.StepPublish, nil,
		"attempt", attempt,
		"next_attempt_at", nextAttemptAt.Format(time.RFC3339),
	)
}

// OnRunCompleted implements ext.RunCompleted.
func (e *Extension) OnRunCompleted(ctx context.Context, r *run.Run, elapsed time.Duration) error {
	return e.append(ctx, ActionRunCompleted, OutcomeSuccess, r, "", nil,
		"elapsed_ms", elapsed.Milliseconds(),
		"external_id", r.ExternalID,
	)
}

// OnRunFailed implements ext.RunFailed.
func (e *Extension) OnRunFailed(ctx context.Context, r *run.Run, runErr error) error {
	return e.append(ctx, ActionRunFailed, OutcomeFailure, r, "", runErr,
		"failure_kind", string(r.FailureKind),
	)
}

// append builds and persists an entry if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) append(
	ctx context.Context,
	action, outcome string,
	r *run.Run,
	stepName string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
	}

	entry := &Entry{
		ID:       id.NewJournalID(),
		RunKey:   r.Key,
		Action:   action,
		Step:     stepName,
		Outcome:  outcome,
		Attempt:  r.AttemptCount,
		Reason:   reason,
		At:       e.now().UTC(),
		Metadata: meta,
	}

	if appendErr := e.store.AppendEntry(ctx, entry); appendErr != nil {
		e.logger.Warn("journal: failed to append entry",
			"action", action,
			"run_key", r.Key,
			"error", appendErr,
		)
	}
	return nil
}
