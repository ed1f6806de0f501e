// Package schedule computes posting slots for items that carry no
// explicit scheduled time. Owners register a slot plan as a cron
// expression ("0 9 * * 1-5", "@daily") and items without a schedule are
// assigned the next open slot instead of publishing immediately.
package schedule

import (
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/mo-hossam-stack/slate"
)

// cronParser supports standard 5-field cron and descriptors like "@daily".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseExpr parses a cron expression and returns the schedule.
func ParseExpr(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Plan is a per-owner posting slot plan.
type Plan struct {
	// OwnerID is the item owner the plan applies to.
	OwnerID string

	// Expr is a cron expression describing the owner's posting slots
	// (e.g., "0 9 * * 1-5" for weekday mornings).
	Expr string

	// Location resolves the slot times. Defaults to UTC.
	Location *time.Location
}

// planState pairs a plan with its parsed schedule.
type planState struct {
	plan  Plan
	sched cronlib.Schedule
}

// Planner resolves posting slots for owners. It is safe for concurrent use.
type Planner struct {
	mu    sync.RWMutex
	plans map[string]*planState
}

// NewPlanner creates an empty Planner.
func NewPlanner() *Planner {
	return &Planner{plans: make(map[string]*planState)}
}

// SetPlan registers or replaces the slot plan for an owner.
// Returns an error if the cron expression does not parse.
func (p *Planner) SetPlan(plan Plan) error {
	sched, err := ParseExpr(plan.Expr)
	if err != nil {
		return fmt.Errorf("parse slot plan for owner %s: %w", plan.OwnerID, err)
	}
	if plan.Location == nil {
		plan.Location = time.UTC
	}

	p.mu.Lock()
	p.plans[plan.OwnerID] = &planState{plan: plan, sched: sched}
	p.mu.Unlock()
	return nil
}

// RemovePlan deletes the slot plan for an owner.
func (p *Planner) RemovePlan(ownerID string) {
	p.mu.Lock()
	delete(p.plans, ownerID)
	p.mu.Unlock()
}

// NextSlot returns the next open posting slot for the owner strictly
// after the given time. Returns slate.ErrNoSchedule if the owner has
// no plan.
func (p *Planner) NextSlot(ownerID string, after time.Time) (time.Time, error) {
	p.mu.RLock()
	ps := p.plans[ownerID]
	p.mu.RUnlock()

	if ps == nil {
		return time.Time{}, slate.ErrNoSchedule
	}
	return ps.sched.Next(after.In(ps.plan.Location)), nil
}

// HasPlan reports whether the owner has a registered slot plan.
func (p *Planner) HasPlan(ownerID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.plans[ownerID]
	return ok
}
