// Package journal records the attempt history of publication runs.
//
// Every significant transition (run created, suspended, resumed, step
// completed or failed, retry scheduled, terminal outcome) is appended as
// an [Entry] so operators can reconstruct exactly what happened to an
// item's publication after the fact. Entries are written through the
// extension system and never block or fail the run itself.
package journal

import (
	"context"
	"time"

	"github.com/mo-hossam-stack/slate/id"
)

// Journal event actions. Each constant corresponds to one lifecycle hook
// and becomes the Action field of the entry.
const (
	ActionRunCreated      = "run.created"
	ActionRunSuspended    = "run.suspended"
	ActionRunResumed      = "run.resumed"
	ActionStepCompleted   = "run.step_completed"
	ActionStepFailed      = "run.step_failed"
	ActionPublishRetrying = "run.publish_retrying"
	ActionRunCompleted    = "run.completed"
	ActionRunFailed       = "run.failed"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AllActions returns every action this package can record.
func AllActions() []string {
	return []string{
		ActionRunCreated,
		ActionRunSuspended,
		ActionRunResumed,
		ActionStepCompleted,
		ActionStepFailed,
		ActionPublishRetrying,
		ActionRunCompleted,
		ActionRunFailed,
	}
}

// Entry is one journal record for a run.
type Entry struct {
	ID      id.JournalID `json:"id"`
	RunKey  string       `json:"run_key"`
	Action  string       `json:"action"`
	Step    string       `json:"step,omitempty"`
	Outcome string       `json:"outcome"`
	Attempt int          `json:"attempt"`
	Reason  string       `json:"reason,omitempty"`
	At      time.Time    `json:"at"`

	// Metadata carries action-specific detail such as elapsed_ms or
	// next_attempt_at.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Store defines the persistence contract for journal entries.
type Store interface {
	// AppendEntry persists a journal entry.
	AppendEntry(ctx context.Context, e *Entry) error

	// ListEntries returns all entries for a run in append order.
	ListEntries(ctx context.Context, runKey string) ([]*Entry, error)
}
