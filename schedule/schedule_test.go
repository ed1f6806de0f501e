package schedule_test

import (
	"errors"
	"testing"
	"time"

	"github.com/mo-hossam-stack/slate"
	"github.com/mo-hossam-stack/slate/schedule"
)

func TestPlanner_NextSlot(t *testing.T) {
	p := schedule.NewPlanner()
	if err := p.SetPlan(schedule.Plan{
		OwnerID: "42",
		Expr:    "0 9 * * *", // every day at 09:00
	}); err != nil {
		t.Fatalf("SetPlan: %v", err)
	}

	// 08:00 on a given day: slot is 09:00 the same day.
	after := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	slot, err := p.NextSlot("42", after)
	if err != nil {
		t.Fatalf("NextSlot: %v", err)
	}
	want := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if !slot.Equal(want) {
		t.Errorf("slot = %v, want %v", slot, want)
	}

	// 10:00: slot rolls to the next day.
	after = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	slot, err = p.NextSlot("42", after)
	if err != nil {
		t.Fatalf("NextSlot: %v", err)
	}
	want = time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	if !slot.Equal(want) {
		t.Errorf("slot = %v, want %v", slot, want)
	}
}

func TestPlanner_WeekdaySlots(t *testing.T) {
	p := schedule.NewPlanner()
	if err := p.SetPlan(schedule.Plan{
		OwnerID: "42",
		Expr:    "0 9 * * 1-5", // weekday mornings
	}); err != nil {
		t.Fatalf("SetPlan: %v", err)
	}

	// Saturday: slot jumps to Monday 09:00.
	saturday := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	slot, err := p.NextSlot("42", saturday)
	if err != nil {
		t.Fatalf("NextSlot: %v", err)
	}
	monday := time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC)
	if !slot.Equal(monday) {
		t.Errorf("slot = %v, want %v", slot, monday)
	}
}

func TestPlanner_NoPlan(t *testing.T) {
	p := schedule.NewPlanner()
	_, err := p.NextSlot("nobody", time.Now())
	if !errors.Is(err, slate.ErrNoSchedule) {
		t.Fatalf("expected ErrNoSchedule, got %v", err)
	}
}

func TestPlanner_InvalidExpr(t *testing.T) {
	p := schedule.NewPlanner()
	err := p.SetPlan(schedule.Plan{OwnerID: "42", Expr: "not a cron"})
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestPlanner_ReplaceAndRemove(t *testing.T) {
	p := schedule.NewPlanner()
	if err := p.SetPlan(schedule.Plan{OwnerID: "42", Expr: "0 9 * * *"}); err != nil {
		t.Fatalf("SetPlan: %v", err)
	}
	if !p.HasPlan("42") {
		t.Fatal("expected plan to be registered")
	}

	// Replace with an evening slot.
	if err := p.SetPlan(schedule.Plan{OwnerID: "42", Expr: "0 18 * * *"}); err != nil {
		t.Fatalf("SetPlan replace: %v", err)
	}
	after := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	slot, err := p.NextSlot("42", after)
	if err != nil {
		t.Fatalf("NextSlot: %v", err)
	}
	want := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	if !slot.Equal(want) {
		t.Errorf("slot = %v, want %v", slot, want)
	}

	p.RemovePlan("42")
	if p.HasPlan("42") {
		t.Fatal("expected plan to be removed")
	}
}

func TestParseExpr_Descriptor(t *testing.T) {
	sched, err := schedule.ParseExpr("@daily")
	if err != nil {
		t.Fatalf("ParseExpr: %v", err)
	}
	after := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	next := sched.Next(after)
	want := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}
