package dispatcher_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mo-hossam-stack/slate"
	"github.com/mo-hossam-stack/slate/dispatcher"
	"github.com/mo-hossam-stack/slate/id"
	"github.com/mo-hossam-stack/slate/middleware"
	"github.com/mo-hossam-stack/slate/run"
	"github.com/mo-hossam-stack/slate/store/memory"
)

// completingResumer marks every resumed run completed, counting calls.
type completingResumer struct {
	store *memory.Store
	calls atomic.Int64
	err   error
}

func (c *completingResumer) Resume(ctx context.Context, r *run.Run) error {
	c.calls.Add(1)
	if c.err != nil {
		return c.err
	}
	now := time.Now().UTC()
	r.State = run.StateCompleted
	r.CompletedAt = &now
	return c.store.UpdateRun(ctx, r)
}

func dueRun(itemID string) *run.Run {
	return &run.Run{
		Entity:      slate.NewEntity(),
		Key:         run.KeyForItem(itemID),
		ItemID:      itemID,
		OwnerID:     "owner-1",
		State:       run.StateWaiting,
		ScheduledAt: time.Now().UTC().Add(-time.Second),
		ResumeAt:    time.Now().UTC().Add(-time.Second), // due immediately
		StartedAt:   time.Now().UTC(),
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for condition")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestDispatcher_StartStop(t *testing.T) {
	s := memory.New()
	d := dispatcher.New(s, &completingResumer{store: s},
		dispatcher.WithConcurrency(2),
		dispatcher.WithPollInterval(20*time.Millisecond),
	)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	// Double start is a no-op.
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("double-stop error: %v", err)
	}
}

func TestDispatcher_ResumesDueRun(t *testing.T) {
	s := memory.New()
	resumer := &completingResumer{store: s}
	d := dispatcher.New(s, resumer,
		dispatcher.WithConcurrency(1),
		dispatcher.WithPollInterval(10*time.Millisecond),
	)

	r := dueRun("item-1")
	if err := s.CreateRun(context.Background(), r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer d.Stop(context.Background())

	waitFor(t, 5*time.Second, func() bool { return resumer.calls.Load() > 0 })

	waitFor(t, 5*time.Second, func() bool {
		got, err := s.GetRun(context.Background(), r.Key)
		return err == nil && got.State == run.StateCompleted && !got.Claimed()
	})
}

func TestDispatcher_FutureRunStaysParked(t *testing.T) {
	s := memory.New()
	resumer := &completingResumer{store: s}
	d := dispatcher.New(s, resumer,
		dispatcher.WithConcurrency(1),
		dispatcher.WithPollInterval(10*time.Millisecond),
	)

	r := dueRun("item-1")
	r.ResumeAt = time.Now().UTC().Add(time.Hour)
	if err := s.CreateRun(context.Background(), r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer d.Stop(context.Background())

	time.Sleep(100 * time.Millisecond)
	if got := resumer.calls.Load(); got != 0 {
		t.Errorf("resume calls = %d, want 0 for a future run", got)
	}
}

func TestDispatcher_ResumeErrorReleasesClaim(t *testing.T) {
	s := memory.New()
	resumer := &completingResumer{store: s, err: errors.New("resume failed")}
	d := dispatcher.New(s, resumer,
		dispatcher.WithConcurrency(1),
		dispatcher.WithPollInterval(10*time.Millisecond),
	)

	r := dueRun("item-1")
	if err := s.CreateRun(context.Background(), r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer d.Stop(context.Background())

	waitFor(t, 5*time.Second, func() bool { return resumer.calls.Load() > 0 })

	// Even on error the claim must not be held forever.
	waitFor(t, 5*time.Second, func() bool {
		got, err := s.GetRun(context.Background(), r.Key)
		return err == nil && !got.Claimed()
	})
}

// denyingLimiter rejects the first n acquisitions.
type denyingLimiter struct {
	denials  atomic.Int64
	budget   int64
	acquired atomic.Int64
}

func (l *denyingLimiter) Acquire(string) bool {
	if l.denials.Add(1) <= l.budget {
		return false
	}
	l.acquired.Add(1)
	return true
}

func (l *denyingLimiter) Release(string) {}

func TestDispatcher_RateLimitedRunIsDeferredNotDropped(t *testing.T) {
	s := memory.New()
	resumer := &completingResumer{store: s}
	lim := &denyingLimiter{budget: 2}
	d := dispatcher.New(s, resumer,
		dispatcher.WithConcurrency(1),
		dispatcher.WithPollInterval(10*time.Millisecond),
		dispatcher.WithLimiter(lim),
	)

	r := dueRun("item-1")
	if err := s.CreateRun(context.Background(), r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer d.Stop(context.Background())

	// The run survives the denials and completes once a slot opens.
	waitFor(t, 5*time.Second, func() bool {
		got, err := s.GetRun(context.Background(), r.Key)
		return err == nil && got.State == run.StateCompleted
	})
	if lim.acquired.Load() != 1 {
		t.Errorf("acquired = %d, want 1", lim.acquired.Load())
	}
}

func TestDispatcher_MiddlewareWrapsResume(t *testing.T) {
	s := memory.New()
	resumer := &completingResumer{store: s}

	var seen atomic.Int64
	observe := func(ctx context.Context, r *run.Run, next middleware.Handler) error {
		seen.Add(1)
		return next(ctx)
	}

	d := dispatcher.New(s, resumer,
		dispatcher.WithConcurrency(1),
		dispatcher.WithPollInterval(10*time.Millisecond),
		dispatcher.WithMiddleware(observe),
	)

	r := dueRun("item-1")
	if err := s.CreateRun(context.Background(), r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer d.Stop(context.Background())

	waitFor(t, 5*time.Second, func() bool { return resumer.calls.Load() > 0 })
	if seen.Load() == 0 {
		t.Error("middleware was not invoked")
	}
}

func TestDispatcher_ReapsStaleClaims(t *testing.T) {
	s := memory.New()
	resumer := &completingResumer{store: s}
	d := dispatcher.New(s, resumer,
		dispatcher.WithConcurrency(1),
		dispatcher.WithPollInterval(10*time.Millisecond),
		dispatcher.WithStaleClaimThreshold(20*time.Millisecond),
	)

	ctx := context.Background()

	// A run claimed by a worker that died: heartbeat stamped in the past.
	r := dueRun("item-1")
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if _, err := s.ClaimDue(ctx, id.NewWorkerID(), time.Now().UTC(), 1); err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer d.Stop(context.Background())

	// The reaper clears the dead claim and this dispatcher completes it.
	waitFor(t, 5*time.Second, func() bool {
		got, err := s.GetRun(ctx, r.Key)
		return err == nil && got.State == run.StateCompleted
	})
}
