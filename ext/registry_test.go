package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/mo-hossam-stack/slate/ext"
	"github.com/mo-hossam-stack/slate/run"
)

// recorder implements every hook and records which fired.
type recorder struct {
	calls []string
	fail  bool
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) record(name string) error {
	r.calls = append(r.calls, name)
	if r.fail {
		return errors.New("hook failure")
	}
	return nil
}

func (r *recorder) OnRunCreated(ctx context.Context, rn *run.Run) error {
	return r.record("created")
}

func (r *recorder) OnRunSuspended(ctx context.Context, rn *run.Run, resumeAt time.Time) error {
	return r.record("suspended")
}

func (r *recorder) OnRunResumed(ctx context.Context, rn *run.Run) error {
	return r.record("resumed")
}

func (r *recorder) OnStepCompleted(ctx context.Context, rn *run.Run, stepName string, elapsed time.Duration) error {
	return r.record("step:" + stepName)
}

func (r *recorder) OnStepFailed(ctx context.Context, rn *run.Run, stepName string, err error) error {
	return r.record("stepfail:" + stepName)
}

func (r *recorder) OnPublishRetrying(ctx context.Context, rn *run.Run, attempt int, next time.Time) error {
	return r.record("retrying")
}

func (r *recorder) OnRunCompleted(ctx context.Context, rn *run.Run, elapsed time.Duration) error {
	return r.record("completed")
}

func (r *recorder) OnRunFailed(ctx context.Context, rn *run.Run, err error) error {
	return r.record("failed")
}

func (r *recorder) OnShutdown(ctx context.Context) error {
	return r.record("shutdown")
}

// createdOnly implements only the RunCreated hook.
type createdOnly struct {
	count int
}

func (c *createdOnly) Name() string { return "created-only" }

func (c *createdOnly) OnRunCreated(ctx context.Context, rn *run.Run) error {
	c.count++
	return nil
}

func testRun() *run.Run {
	return &run.Run{Key: run.KeyForItem("item-1"), ItemID: "item-1", State: run.StateCreated}
}

func TestRegistryEmitsAllHooks(t *testing.T) {
	reg := ext.NewRegistry(slog.Default())
	rec := &recorder{}
	reg.Register(rec)

	ctx := context.Background()
	rn := testRun()
	now := time.Now()

	reg.EmitRunCreated(ctx, rn)
	reg.EmitRunSuspended(ctx, rn, now)
	reg.EmitRunResumed(ctx, rn)
	reg.EmitStepCompleted(ctx, rn, run.StepPublish, time.Second)
	reg.EmitStepFailed(ctx, rn, run.StepPublish, errors.New("boom"))
	reg.EmitPublishRetrying(ctx, rn, 1, now)
	reg.EmitRunCompleted(ctx, rn, time.Second)
	reg.EmitRunFailed(ctx, rn, errors.New("boom"))
	reg.EmitShutdown(ctx)

	want := []string{
		"created", "suspended", "resumed",
		"step:publish", "stepfail:publish",
		"retrying", "completed", "failed", "shutdown",
	}
	if len(rec.calls) != len(want) {
		t.Fatalf("recorded %d calls, want %d: %v", len(rec.calls), len(want), rec.calls)
	}
	for i, w := range want {
		if rec.calls[i] != w {
			t.Errorf("call %d = %q, want %q", i, rec.calls[i], w)
		}
	}
}

func TestRegistryPartialExtension(t *testing.T) {
	reg := ext.NewRegistry(slog.Default())
	c := &createdOnly{}
	reg.Register(c)

	ctx := context.Background()
	rn := testRun()

	// Only the implemented hook should fire; the rest are no-ops.
	reg.EmitRunCreated(ctx, rn)
	reg.EmitRunCompleted(ctx, rn, time.Second)
	reg.EmitShutdown(ctx)

	if c.count != 1 {
		t.Errorf("OnRunCreated fired %d times, want 1", c.count)
	}
}

func TestRegistryHookErrorsDoNotPropagate(t *testing.T) {
	reg := ext.NewRegistry(slog.Default())
	failing := &recorder{fail: true}
	after := &createdOnly{}
	reg.Register(failing)
	reg.Register(after)

	// A failing hook must not stop later extensions from being notified.
	reg.EmitRunCreated(context.Background(), testRun())

	if after.count != 1 {
		t.Errorf("extension after failing hook fired %d times, want 1", after.count)
	}
}

func TestRegistryOrder(t *testing.T) {
	reg := ext.NewRegistry(slog.Default())
	a := &recorder{}
	b := &recorder{}
	reg.Register(a)
	reg.Register(b)

	if got := len(reg.Extensions()); got != 2 {
		t.Fatalf("Extensions() len = %d, want 2", got)
	}

	reg.EmitShutdown(context.Background())
	if len(a.calls) != 1 || len(b.calls) != 1 {
		t.Errorf("both extensions should see shutdown: a=%v b=%v", a.calls, b.calls)
	}
}
