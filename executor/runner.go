package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mo-hossam-stack/slate"
	"github.com/mo-hossam-stack/slate/backoff"
	"github.com/mo-hossam-stack/slate/credential"
	"github.com/mo-hossam-stack/slate/item"
	"github.com/mo-hossam-stack/slate/publisher"
	"github.com/mo-hossam-stack/slate/run"
)

// Emitter emits run-level lifecycle events. This interface is satisfied
// by ext.Registry; defining it here breaks the import cycle between
// executor and ext.
type Emitter interface {
	StepEmitter
	EmitRunSuspended(ctx context.Context, r *run.Run, resumeAt time.Time)
	EmitRunResumed(ctx context.Context, r *run.Run)
	EmitPublishRetrying(ctx context.Context, r *run.Run, attempt int, nextAttemptAt time.Time)
	EmitRunCompleted(ctx context.Context, r *run.Run, elapsed time.Duration)
	EmitRunFailed(ctx context.Context, r *run.Run, err error)
}

// nopEmitter discards all events.
type nopEmitter struct{}

func (nopEmitter) EmitStepCompleted(context.Context, *run.Run, string, time.Duration) {}
func (nopEmitter) EmitStepFailed(context.Context, *run.Run, string, error)            {}
func (nopEmitter) EmitRunSuspended(context.Context, *run.Run, time.Time)              {}
func (nopEmitter) EmitRunResumed(context.Context, *run.Run)                           {}
func (nopEmitter) EmitPublishRetrying(context.Context, *run.Run, int, time.Time)      {}
func (nopEmitter) EmitRunCompleted(context.Context, *run.Run, time.Duration)          {}
func (nopEmitter) EmitRunFailed(context.Context, *run.Run, error)                     {}

// Runner drives publication runs through their state machine. Begin
// executes the trigger-time steps and suspends the run until its
// scheduled time; Resume is invoked by the dispatcher when a run comes
// due and carries it to completion, a retry suspension, or a terminal
// failure.
type Runner struct {
	runs    run.Store
	items   item.Store
	creds   credential.Provider
	adapter publisher.Adapter
	emitter Emitter
	policy  backoff.Policy
	logger  *slog.Logger
	now     func() time.Time

	publishTimeout time.Duration
	minContent     int
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithBackoffPolicy sets the retry policy for the publish step.
func WithBackoffPolicy(p backoff.Policy) RunnerOption {
	return func(r *Runner) { r.policy = p }
}

// WithPublishTimeout sets the per-attempt deadline for the publish step.
func WithPublishTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.publishTimeout = d }
}

// WithMinContentLength sets the minimum accepted content length.
func WithMinContentLength(n int) RunnerOption {
	return func(r *Runner) { r.minContent = n }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner. A nil emitter discards events.
func NewRunner(
	runs run.Store,
	items item.Store,
	creds credential.Provider,
	adapter publisher.Adapter,
	emitter Emitter,
	opts ...RunnerOption,
) *Runner {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	cfg := slate.DefaultConfig()
	r := &Runner{
		runs:           runs,
		items:          items,
		creds:          creds,
		adapter:        adapter,
		emitter:        emitter,
		policy:         backoff.DefaultPolicy(),
		logger:         slog.Default(),
		now:            time.Now,
		publishTimeout: cfg.PublishTimeout,
		minContent:     cfg.MinContentLength,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Begin executes the trigger-phase steps for a freshly created run:
// fetch and validate the item, record the share start, then suspend the
// run until its scheduled time. Begin never blocks on the wait window.
func (rn *Runner) Begin(ctx context.Context, r *run.Run) error {
	exec := NewExecution(ctx, r, rn.runs, rn.emitter, rn.logger)

	it, err := StepWithResult(exec, run.StepFetchItem, func(ctx context.Context) (*item.Item, error) {
		return rn.fetchItem(ctx, r)
	})
	if err != nil {
		return rn.failFromStep(ctx, r, err)
	}

	if err := exec.Step(run.StepRecordStart, func(ctx context.Context) error {
		return rn.items.RecordShareStart(ctx, it.ID, rn.now().UTC())
	}); err != nil {
		return rn.failFromStep(ctx, r, err)
	}

	resumeAt := r.ScheduledAt
	if now := rn.now(); resumeAt.Before(now) {
		resumeAt = now
	}
	return rn.suspend(ctx, r, resumeAt)
}

// Resume drives a claimed, due run forward. Depending on what the
// ledger already holds this performs the wait step, the publish attempt,
// and completion, or replays past them after a crash. On a retryable
// publish failure the run is re-suspended with a backoff deadline and
// Resume returns nil.
func (rn *Runner) Resume(ctx context.Context, r *run.Run) error {
	if r.State.Terminal() {
		return nil
	}
	if r.State == run.StateCreated {
		// The trigger crashed between creating the run and suspending
		// it. Re-drive the begin phase; the ledger makes its steps
		// idempotent and suspend honors the schedule.
		return rn.Begin(ctx, r)
	}

	rn.emitter.EmitRunResumed(ctx, r)
	exec := NewExecution(ctx, r, rn.runs, rn.emitter, rn.logger)

	// The scheduled wait is implemented as suspension, not blocking;
	// by the time a run is claimed the wait has already elapsed. The
	// ledger record marks it observable like any other step.
	if err := exec.Step(run.StepWaitUntilScheduled, func(context.Context) error {
		return nil
	}); err != nil {
		return rn.failFromStep(ctx, r, err)
	}

	// Once the publish step is recorded succeeded, the item's published
	// flag is this run's own doing: re-validating against it would fail
	// the run for work it already finished. Check the ledger first and
	// replay straight through to completion in that case.
	rec, err := rn.runs.GetStep(ctx, r.Key, run.StepPublish)
	if err != nil {
		return fmt.Errorf("run %s: get step %q: %w", r.Key, run.StepPublish, err)
	}
	published := rec != nil && rec.Status == run.StepSucceeded

	var it *item.Item
	if !published {
		// Revalidate the item outside the ledger. The wait window may
		// be long: the item can be deleted, edited, or published
		// externally while the run sleeps, and a trigger-time snapshot
		// would hide that.
		it, err = rn.fetchItem(ctx, r)
		if err != nil {
			rn.emitter.EmitStepFailed(ctx, r, run.StepPublish, err)
			return rn.failFromStep(ctx, r, err)
		}
	}

	if r.State != run.StatePublishing {
		r.State = run.StatePublishing
		r.Touch()
		if err := rn.runs.UpdateRun(ctx, r); err != nil {
			return fmt.Errorf("run %s: enter publishing: %w", r.Key, err)
		}
	}

	result, err := rn.publish(ctx, exec, r, it, published)
	if err != nil {
		var retry *retrySignal
		if errors.As(err, &retry) {
			return rn.suspendForRetry(ctx, r, retry)
		}
		return rn.failFromStep(ctx, r, err)
	}

	if err := exec.Step(run.StepRecordCompletion, func(ctx context.Context) error {
		markErr := rn.items.MarkPublished(ctx, r.ItemID, rn.now().UTC())
		if errors.Is(markErr, slate.ErrItemConflict) {
			// A previous drive of this run already marked the item
			// before crashing. The flag is ours; absorb the conflict.
			return nil
		}
		return markErr
	}); err != nil {
		return rn.failFromStep(ctx, r, err)
	}

	return rn.complete(ctx, r, result)
}

// retrySignal carries a retryable publish failure out of the publish
// step so Resume can schedule the next attempt.
type retrySignal struct {
	cause error
	next  time.Time
}

func (s *retrySignal) Error() string { return "retryable publish failure: " + s.cause.Error() }
func (s *retrySignal) Unwrap() error { return s.cause }

// publish performs one publish attempt, or replays the recorded result
// when replay is set (the ledger already holds a succeeded record).
func (rn *Runner) publish(ctx context.Context, exec *Execution, r *run.Run, it *item.Item, replay bool) (*publisher.Result, error) {
	// Replay: a crash after the remote call but before completion must
	// not post twice.
	if replay {
		return StepWithResult(exec, run.StepPublish, func(context.Context) (*publisher.Result, error) {
			return nil, errors.New("unreachable: recorded step must replay")
		})
	}

	// Count the attempt before the remote call. If we crash mid-call
	// the attempt is still spent, which keeps the budget honest under
	// at-least-once delivery.
	r.AttemptCount++
	r.Touch()
	if err := rn.runs.UpdateRun(ctx, r); err != nil {
		return nil, fmt.Errorf("run %s: record attempt: %w", r.Key, err)
	}

	// Credentials are read at publish time, never earlier: they can be
	// revoked or rotated during the wait window.
	cred, err := rn.creds.GetCredential(ctx, it.OwnerID)
	if err != nil {
		rn.emitter.EmitStepFailed(ctx, r, run.StepPublish, err)
		return nil, &publisher.FatalError{Kind: publisher.FatalAuth, Reason: err.Error()}
	}
	if cred.Expired(rn.now()) {
		err := fmt.Errorf("credential for owner %s expired", it.OwnerID)
		rn.emitter.EmitStepFailed(ctx, r, run.StepPublish, err)
		return nil, &publisher.FatalError{Kind: publisher.FatalAuth, Reason: err.Error()}
	}

	return StepWithResult(exec, run.StepPublish, func(ctx context.Context) (*publisher.Result, error) {
		pctx := ctx
		if rn.publishTimeout > 0 {
			var cancel context.CancelFunc
			pctx, cancel = context.WithTimeout(ctx, rn.publishTimeout)
			defer cancel()
		}
		result, pubErr := rn.adapter.Publish(pctx, publisher.Request{
			AuthorToken: cred.Token,
			AuthorURN:   cred.MemberURN,
			ContentText: it.Content,
		})
		if pubErr == nil {
			return result, nil
		}
		if fatal := publisher.AsFatal(pubErr); fatal != nil {
			return nil, fatal
		}
		// Retryable and unclassified failures share the retry path.
		if rn.policy.Exhausted(r.AttemptCount) {
			return nil, fmt.Errorf("%w after %d attempts: %s",
				slate.ErrAttemptsExhausted, r.AttemptCount, pubErr.Error())
		}
		next := rn.now().Add(rn.policy.Delay(r.AttemptCount))
		return nil, &retrySignal{cause: pubErr, next: next}
	})
}

// fetchItem loads and validates the item backing a run.
func (rn *Runner) fetchItem(ctx context.Context, r *run.Run) (*item.Item, error) {
	it, err := rn.items.GetItem(ctx, r.ItemID)
	if err != nil {
		return nil, err
	}
	if !it.Publishable() {
		return nil, fmt.Errorf("item %s: %w", it.ID, slate.ErrAlreadyPublished)
	}
	if len(strings.TrimSpace(it.Content)) < rn.minContent {
		return nil, fmt.Errorf("item %s: %w", it.ID, slate.ErrContentTooShort)
	}
	return it, nil
}

// suspend parks the run until resumeAt. The deadline is persisted on
// the run so suspension survives restarts; no timer or goroutine waits
// on it.
func (rn *Runner) suspend(ctx context.Context, r *run.Run, resumeAt time.Time) error {
	r.State = run.StateWaiting
	r.ResumeAt = resumeAt.UTC()
	r.Touch()
	if err := rn.runs.UpdateRun(ctx, r); err != nil {
		return fmt.Errorf("run %s: suspend: %w", r.Key, err)
	}
	rn.emitter.EmitRunSuspended(ctx, r, r.ResumeAt)
	rn.logger.Info("run suspended",
		slog.String("run_key", r.Key),
		slog.Time("resume_at", r.ResumeAt),
	)
	return nil
}

// suspendForRetry re-parks the run after a retryable publish failure.
func (rn *Runner) suspendForRetry(ctx context.Context, r *run.Run, sig *retrySignal) error {
	rn.emitter.EmitPublishRetrying(ctx, r, r.AttemptCount, sig.next)
	rn.logger.Warn("publish attempt failed, retrying",
		slog.String("run_key", r.Key),
		slog.Int("attempt", r.AttemptCount),
		slog.Time("next_attempt_at", sig.next),
		slog.String("error", sig.cause.Error()),
	)
	return rn.suspend(ctx, r, sig.next)
}

// complete moves the run to its terminal success state.
func (rn *Runner) complete(ctx context.Context, r *run.Run, result *publisher.Result) error {
	now := rn.now().UTC()
	r.State = run.StateCompleted
	if result != nil {
		r.ExternalID = result.ExternalID
	}
	r.CompletedAt = &now
	r.Touch()
	if err := rn.runs.UpdateRun(ctx, r); err != nil {
		return fmt.Errorf("run %s: complete: %w", r.Key, err)
	}
	rn.emitter.EmitRunCompleted(ctx, r, now.Sub(r.StartedAt))
	rn.logger.Info("run completed",
		slog.String("run_key", r.Key),
		slog.String("external_id", r.ExternalID),
		slog.Int("attempts", r.AttemptCount),
	)
	return nil
}

// failFromStep classifies a step error and moves the run to its terminal
// failure state. The step error itself is preserved as the run's reason.
// Errors with no terminal classification are infrastructure faults, not
// verdicts on the run: the state is left untouched so the dispatcher
// redelivers the run once the claim clears.
func (rn *Runner) failFromStep(ctx context.Context, r *run.Run, stepErr error) error {
	kind, terminal := classifyFailure(stepErr)
	if !terminal {
		return stepErr
	}
	now := rn.now().UTC()
	r.State = run.StateFailed
	r.FailureKind = kind
	r.Reason = stepErr.Error()
	r.CompletedAt = &now
	r.Touch()
	if err := rn.runs.UpdateRun(ctx, r); err != nil {
		return fmt.Errorf("run %s: record failure: %w", r.Key, err)
	}
	rn.emitter.EmitRunFailed(ctx, r, stepErr)
	rn.logger.Error("run failed",
		slog.String("run_key", r.Key),
		slog.String("kind", string(kind)),
		slog.String("error", stepErr.Error()),
	)
	return stepErr
}

// classifyFailure maps an error to a terminal failure kind. The second
// return is false for errors outside the terminal classes, such as
// store failures during a drive.
func classifyFailure(err error) (run.FailureKind, bool) {
	if fatal := publisher.AsFatal(err); fatal != nil {
		switch fatal.Kind {
		case publisher.FatalAuth:
			return run.FailureAuth, true
		case publisher.FatalContent:
			return run.FailureContent, true
		}
	}
	switch {
	case errors.Is(err, slate.ErrAttemptsExhausted):
		return run.FailureExhausted, true
	case errors.Is(err, slate.ErrItemNotFound),
		errors.Is(err, slate.ErrAlreadyPublished):
		return run.FailureGone, true
	case errors.Is(err, slate.ErrContentTooShort):
		return run.FailureContent, true
	case errors.Is(err, slate.ErrNotConnected):
		return run.FailureAuth, true
	}
	return "", false
}
