// Package run defines publication runs, step ledger records, and the
// run store interface.
package run

import (
	"time"

	"github.com/mo-hossam-stack/slate"
	"github.com/mo-hossam-stack/slate/id"
)

// KeyPrefix prefixes every run idempotency key.
const KeyPrefix = "publish."

// KeyForItem derives the idempotency key for an item. The key is a
// deterministic function of the item ID alone — never of the current
// time — so re-saving an item before it publishes resumes the same run
// instead of duplicating it.
func KeyForItem(itemID string) string {
	return KeyPrefix + itemID
}

// State represents the lifecycle state of a publication run.
type State string

const (
	// StateCreated means the run exists but has not begun work.
	StateCreated State = "created"
	// StateWaiting means the run is suspended until its resume time.
	StateWaiting State = "waiting_to_publish"
	// StatePublishing means the run is attempting the publish step.
	StatePublishing State = "publishing"
	// StateCompleted means the item was published successfully.
	StateCompleted State = "completed"
	// StateFailed means the run failed terminally.
	StateFailed State = "failed"
)

// Terminal reports whether the state is final. Terminal runs are
// immutable and retained for audit and idempotency lookups.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// FailureKind distinguishes terminal failure causes, since remediation
// differs for each.
type FailureKind string

const (
	// FailureAuth means the credential was expired, revoked, or missing.
	// Remediation: reconnect the publishing account.
	FailureAuth FailureKind = "auth"
	// FailureContent means the platform rejected the content.
	// Remediation: edit the item.
	FailureContent FailureKind = "content"
	// FailureGone means the item was deleted or externally published
	// during the wait window.
	FailureGone FailureKind = "gone"
	// FailureExhausted means retryable failures consumed the attempt
	// budget.
	FailureExhausted FailureKind = "exhausted"
)

// Run represents one durable execution of the publication workflow for
// one item. Its identity is the idempotency key, not a generated ID.
type Run struct {
	slate.Entity

	Key     string `json:"key"`
	ItemID  string `json:"item_id"`
	OwnerID string `json:"owner_id"`
	State   State  `json:"state"`

	// ScheduledAt is the requested publication time captured at trigger.
	ScheduledAt time.Time `json:"scheduled_at"`

	// ResumeAt is when the dispatcher should next pick this run up.
	// It equals ScheduledAt while waiting, or a backoff deadline
	// between publish attempts. Stored on the run, not an in-memory
	// timer, so suspension survives restarts.
	ResumeAt time.Time `json:"resume_at"`

	// AttemptCount counts publish invocations so far.
	AttemptCount int `json:"attempt_count"`

	// FailureKind and Reason describe a terminal failure.
	FailureKind FailureKind `json:"failure_kind,omitempty"`
	Reason      string      `json:"reason,omitempty"`

	// ExternalID is the platform post ID after a successful publish.
	ExternalID string `json:"external_id,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Claim bookkeeping: which dispatcher worker holds the run, and
	// when it last proved liveness.
	ClaimedBy   id.WorkerID `json:"claimed_by,omitempty"`
	HeartbeatAt *time.Time  `json:"heartbeat_at,omitempty"`
}

// Claimed reports whether a dispatcher worker currently holds the run.
func (r *Run) Claimed() bool {
	return !r.ClaimedBy.IsNil()
}
