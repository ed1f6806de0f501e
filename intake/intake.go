// Package intake turns item publication triggers into durable runs.
//
// [Intake.Trigger] is the single entry point: it validates the item and
// its owner's credential before any run exists, dedupes redeliveries on
// the run's idempotency key, and hands freshly created runs to the
// executor to begin. Triggering is safe to repeat; redelivery of an
// event for an in-flight run returns the existing run untouched.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mo-hossam-stack/slate"
	"github.com/mo-hossam-stack/slate/credential"
	"github.com/mo-hossam-stack/slate/item"
	"github.com/mo-hossam-stack/slate/run"
	"github.com/mo-hossam-stack/slate/schedule"
)

// Starter begins a freshly created run. Satisfied by *executor.Runner.
type Starter interface {
	Begin(ctx context.Context, r *run.Run) error
}

// Emitter emits intake lifecycle events. Satisfied by *ext.Registry.
type Emitter interface {
	EmitRunCreated(ctx context.Context, r *run.Run)
}

type nopEmitter struct{}

func (nopEmitter) EmitRunCreated(context.Context, *run.Run) {}

// Intake validates publication triggers and creates runs.
type Intake struct {
	runs    run.Store
	items   item.Store
	creds   credential.Provider
	starter Starter
	emitter Emitter
	planner *schedule.Planner
	logger  *slog.Logger
	now     func() time.Time

	minContent int
}

// Option configures an Intake.
type Option func(*Intake)

// WithLogger sets the intake's logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Intake) { in.logger = l }
}

// WithPlanner sets a slot planner consulted for items that carry no
// scheduled time. Without a planner (or without a plan for the owner)
// such items are published immediately.
func WithPlanner(p *schedule.Planner) Option {
	return func(in *Intake) { in.planner = p }
}

// WithMinContentLength sets the minimum accepted content length.
func WithMinContentLength(n int) Option {
	return func(in *Intake) { in.minContent = n }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(in *Intake) { in.now = now }
}

// New creates an Intake. A nil emitter discards events.
func New(
	runs run.Store,
	items item.Store,
	creds credential.Provider,
	starter Starter,
	emitter Emitter,
	opts ...Option,
) *Intake {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	in := &Intake{
		runs:       runs,
		items:      items,
		creds:      creds,
		starter:    starter,
		emitter:    emitter,
		logger:     slog.Default(),
		now:        time.Now,
		minContent: slate.DefaultConfig().MinContentLength,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Trigger creates a publication run for an item, or returns the
// existing run if one was already triggered.
//
// scheduledAt, when non-nil, overrides the item's own scheduled time.
// With neither set, the owner's slot plan assigns the next open slot;
// without a plan the item publishes immediately.
//
// Dedupe semantics on redelivery: a non-terminal run is returned
// untouched; a completed run is returned with slate.ErrAlreadyPublished,
// unless the item's published flag was reset externally after the run
// finished, in which case the handle is returned without error; a
// failed run is returned as-is, since the attempt budget for its key is
// spent. Re-publishing a failed item requires resetting its run
// externally.
func (in *Intake) Trigger(ctx context.Context, itemID string, scheduledAt *time.Time) (*run.Run, error) {
	key := run.KeyForItem(itemID)

	existing, err := in.runs.GetRun(ctx, key)
	if err == nil {
		return in.dedupe(ctx, existing)
	}
	if !errors.Is(err, slate.ErrRunNotFound) {
		return nil, fmt.Errorf("intake: get run %s: %w", key, err)
	}

	it, err := in.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("intake: item %s: %w", itemID, err)
	}
	if !it.Publishable() {
		return nil, fmt.Errorf("intake: item %s: %w", itemID, slate.ErrAlreadyPublished)
	}
	if len(strings.TrimSpace(it.Content)) < in.minContent {
		return nil, fmt.Errorf("intake: item %s: %w", itemID, slate.ErrContentTooShort)
	}

	// The connection check happens before any run exists. The token
	// itself is read again at publish time; only presence matters here.
	if _, err := in.creds.GetCredential(ctx, it.OwnerID); err != nil {
		return nil, fmt.Errorf("intake: owner %s: %w", it.OwnerID, err)
	}

	now := in.now().UTC()
	r := &run.Run{
		Entity:      slate.NewEntity(),
		Key:         key,
		ItemID:      it.ID,
		OwnerID:     it.OwnerID,
		State:       run.StateCreated,
		ScheduledAt: in.resolveSchedule(it, scheduledAt, now),
		StartedAt:   now,
	}
	// Stamped at creation so that a crash before Begin can suspend the
	// run still leaves it claimable at its scheduled time; the
	// dispatcher routes created runs back through the begin phase.
	r.ResumeAt = r.ScheduledAt

	if err := in.runs.CreateRun(ctx, r); err != nil {
		if errors.Is(err, slate.ErrRunExists) {
			// Lost a concurrent-trigger race; the winner's run is the
			// canonical one.
			winner, gerr := in.runs.GetRun(ctx, key)
			if gerr != nil {
				return nil, fmt.Errorf("intake: get run %s: %w", key, gerr)
			}
			return in.dedupe(ctx, winner)
		}
		return nil, fmt.Errorf("intake: create run %s: %w", key, err)
	}

	in.emitter.EmitRunCreated(ctx, r)
	in.logger.Info("run created",
		slog.String("run_key", r.Key),
		slog.String("item_id", r.ItemID),
		slog.Time("scheduled_at", r.ScheduledAt),
	)

	if err := in.starter.Begin(ctx, r); err != nil {
		return r, err
	}
	return r, nil
}

// dedupe maps an existing run to the trigger result for a redelivery.
func (in *Intake) dedupe(ctx context.Context, existing *run.Run) (*run.Run, error) {
	if existing.State == run.StateCompleted {
		// A trigger for a completed run is an error unless the item's
		// published flag was reset externally after the run finished.
		// The run record itself stays terminal either way; the reset
		// only suppresses the error so the caller is not told the item
		// is published when it no longer is.
		it, err := in.items.GetItem(ctx, existing.ItemID)
		if err == nil && !it.Published {
			in.logger.Debug("trigger for completed run with reset item",
				slog.String("run_key", existing.Key),
			)
			return existing, nil
		}
		return existing, fmt.Errorf("intake: run %s: %w", existing.Key, slate.ErrAlreadyPublished)
	}
	in.logger.Debug("trigger deduplicated",
		slog.String("run_key", existing.Key),
		slog.String("state", string(existing.State)),
	)
	return existing, nil
}

// resolveSchedule picks the run's publication time: an explicit
// override wins, then the item's own scheduled time, then the owner's
// next slot, and finally "now" for share-now items.
func (in *Intake) resolveSchedule(it *item.Item, override *time.Time, now time.Time) time.Time {
	if override != nil {
		return override.UTC()
	}
	if it.ScheduledAt != nil {
		return it.ScheduledAt.UTC()
	}
	if in.planner != nil && in.planner.HasPlan(it.OwnerID) {
		slot, err := in.planner.NextSlot(it.OwnerID, now)
		if err == nil {
			return slot.UTC()
		}
		in.logger.Warn("slot lookup failed, publishing immediately",
			slog.String("owner_id", it.OwnerID),
			slog.String("error", err.Error()),
		)
	}
	return now
}
