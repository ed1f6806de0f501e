package intake_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mo-hossam-stack/slate"
	"github.com/mo-hossam-stack/slate/credential"
	"github.com/mo-hossam-stack/slate/intake"
	"github.com/mo-hossam-stack/slate/item"
	"github.com/mo-hossam-stack/slate/run"
	"github.com/mo-hossam-stack/slate/schedule"
	"github.com/mo-hossam-stack/slate/store/memory"
)

// fakeStarter records Begin calls and parks the run like the executor
// would, so dedupe paths see a waiting run.
type fakeStarter struct {
	store *memory.Store
	calls int
	err   error
}

func (s *fakeStarter) Begin(ctx context.Context, r *run.Run) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	r.State = run.StateWaiting
	r.ResumeAt = r.ScheduledAt
	return s.store.UpdateRun(ctx, r)
}

type createdRecorder struct {
	runs []*run.Run
}

func (c *createdRecorder) EmitRunCreated(_ context.Context, r *run.Run) {
	c.runs = append(c.runs, r)
}

type fixture struct {
	store   *memory.Store
	creds   *credential.StaticProvider
	starter *fakeStarter
	created *createdRecorder
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New()
	f := &fixture{
		store: s,
		creds: credential.NewStaticProvider(map[string]credential.Credential{
			"owner-1": {Token: "tok", MemberURN: "urn:li:person:abc"},
		}, slate.ErrNotConnected),
		starter: &fakeStarter{store: s},
		created: &createdRecorder{},
		now:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.store.PutItem(&item.Item{
		ID:      "item-1",
		OwnerID: "owner-1",
		Content: "an announcement worth scheduling",
	})
	return f
}

func (f *fixture) intake(opts ...intake.Option) *intake.Intake {
	base := []intake.Option{intake.WithClock(func() time.Time { return f.now })}
	return intake.New(f.store, f.store, f.creds, f.starter, f.created, append(base, opts...)...)
}

func TestTrigger_CreatesRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	in := f.intake()
	ctx := context.Background()

	scheduledAt := f.now.Add(time.Hour)
	r, err := in.Trigger(ctx, "item-1", &scheduledAt)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	if r.Key != run.KeyForItem("item-1") {
		t.Errorf("key = %q", r.Key)
	}
	if !r.ScheduledAt.Equal(scheduledAt) {
		t.Errorf("ScheduledAt = %v, want %v", r.ScheduledAt, scheduledAt)
	}
	if f.starter.calls != 1 {
		t.Errorf("Begin calls = %d, want 1", f.starter.calls)
	}
	if len(f.created.runs) != 1 {
		t.Errorf("run_created events = %d, want 1", len(f.created.runs))
	}

	stored, err := f.store.GetRun(ctx, r.Key)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.ItemID != "item-1" || stored.OwnerID != "owner-1" {
		t.Errorf("stored run = %+v", stored)
	}
}

func TestTrigger_UsesItemScheduledTime(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	itemTime := f.now.Add(2 * time.Hour)
	f.store.PutItem(&item.Item{
		ID:          "item-1",
		OwnerID:     "owner-1",
		Content:     "scheduled on the item itself",
		ScheduledAt: &itemTime,
	})
	in := f.intake()

	r, err := in.Trigger(context.Background(), "item-1", nil)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if !r.ScheduledAt.Equal(itemTime) {
		t.Errorf("ScheduledAt = %v, want %v", r.ScheduledAt, itemTime)
	}
}

func TestTrigger_AssignsSlotFromPlan(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	planner := schedule.NewPlanner()
	if err := planner.SetPlan(schedule.Plan{OwnerID: "owner-1", Expr: "0 9 * * *"}); err != nil {
		t.Fatalf("SetPlan: %v", err)
	}
	in := f.intake(intake.WithPlanner(planner))

	r, err := in.Trigger(context.Background(), "item-1", nil)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	// Triggered at 12:00; the next 09:00 slot is tomorrow.
	want := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	if !r.ScheduledAt.Equal(want) {
		t.Errorf("ScheduledAt = %v, want %v", r.ScheduledAt, want)
	}
}

func TestTrigger_ShareNowWithoutSchedule(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	in := f.intake()

	r, err := in.Trigger(context.Background(), "item-1", nil)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if !r.ScheduledAt.Equal(f.now) {
		t.Errorf("ScheduledAt = %v, want now %v", r.ScheduledAt, f.now)
	}
}

func TestTrigger_RedeliveryReturnsExistingRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	in := f.intake()
	ctx := context.Background()

	first, err := in.Trigger(ctx, "item-1", nil)
	if err != nil {
		t.Fatalf("first Trigger: %v", err)
	}

	second, err := in.Trigger(ctx, "item-1", nil)
	if err != nil {
		t.Fatalf("second Trigger: %v", err)
	}

	if second.Key != first.Key {
		t.Errorf("second key = %q, want %q", second.Key, first.Key)
	}
	if f.starter.calls != 1 {
		t.Errorf("Begin calls = %d, want 1 (redelivery must not restart)", f.starter.calls)
	}
	if len(f.created.runs) != 1 {
		t.Errorf("run_created events = %d, want 1", len(f.created.runs))
	}
}

func TestTrigger_CompletedRunReturnsAlreadyPublished(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	in := f.intake()
	ctx := context.Background()

	r, err := in.Trigger(ctx, "item-1", nil)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	r.State = run.StateCompleted
	if err := f.store.UpdateRun(ctx, r); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	if err := f.store.MarkPublished(ctx, "item-1", f.now); err != nil {
		t.Fatalf("MarkPublished: %v", err)
	}

	got, err := in.Trigger(ctx, "item-1", nil)
	if !errors.Is(err, slate.ErrAlreadyPublished) {
		t.Fatalf("expected ErrAlreadyPublished, got %v", err)
	}
	if got == nil || got.Key != r.Key {
		t.Error("existing run handle should still be returned")
	}
}

func TestTrigger_CompletedRunWithResetItem(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	in := f.intake()
	ctx := context.Background()

	r, err := in.Trigger(ctx, "item-1", nil)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	r.State = run.StateCompleted
	if err := f.store.UpdateRun(ctx, r); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	// The item's published flag was never set (reset externally), so
	// the redelivered trigger is acknowledged without error.
	got, err := in.Trigger(ctx, "item-1", nil)
	if err != nil {
		t.Fatalf("Trigger after reset: %v", err)
	}
	if got == nil || got.Key != r.Key {
		t.Error("existing run handle should be returned")
	}
	if f.starter.calls != 1 {
		t.Errorf("Begin calls = %d, want 1 (completed runs are never restarted)", f.starter.calls)
	}
}

func TestTrigger_FailedRunReturnsHandle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	in := f.intake()
	ctx := context.Background()

	r, err := in.Trigger(ctx, "item-1", nil)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	r.State = run.StateFailed
	r.FailureKind = run.FailureExhausted
	if err := f.store.UpdateRun(ctx, r); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	got, err := in.Trigger(ctx, "item-1", nil)
	if err != nil {
		t.Fatalf("Trigger on failed run: %v", err)
	}
	if got.State != run.StateFailed {
		t.Errorf("state = %q, want failed handle back", got.State)
	}
	if f.starter.calls != 1 {
		t.Errorf("Begin calls = %d, want 1 (failed key is spent)", f.starter.calls)
	}
}

func TestTrigger_ValidationFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		prepare func(f *fixture)
		opts    []intake.Option
		itemID  string
		wantErr error
	}{
		{
			name:    "item missing",
			prepare: func(f *fixture) { f.store.DeleteItem("item-1") },
			itemID:  "item-1",
			wantErr: slate.ErrItemNotFound,
		},
		{
			name: "item already published",
			prepare: func(f *fixture) {
				f.store.PutItem(&item.Item{ID: "item-1", OwnerID: "owner-1", Content: "published already", Published: true})
			},
			itemID:  "item-1",
			wantErr: slate.ErrAlreadyPublished,
		},
		{
			name: "content too short",
			prepare: func(f *fixture) {
				f.store.PutItem(&item.Item{ID: "item-1", OwnerID: "owner-1", Content: "  hi  "})
			},
			opts:    []intake.Option{intake.WithMinContentLength(10)},
			itemID:  "item-1",
			wantErr: slate.ErrContentTooShort,
		},
		{
			name:    "owner not connected",
			prepare: func(f *fixture) { f.creds.Revoke("owner-1") },
			itemID:  "item-1",
			wantErr: slate.ErrNotConnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			tt.prepare(f)
			in := f.intake(tt.opts...)

			_, err := in.Trigger(context.Background(), tt.itemID, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if f.starter.calls != 0 {
				t.Errorf("Begin calls = %d, want 0 (no run before validation)", f.starter.calls)
			}
		})
	}
}
