package run

import (
	"context"
	"time"

	"github.com/mo-hossam-stack/slate/id"
)

// ListOpts controls pagination and filtering for run list queries.
type ListOpts struct {
	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit int
	// Offset is the number of runs to skip.
	Offset int
	// State filters by run state. Empty means all states.
	State State
	// OwnerID filters by item owner. Empty means all owners.
	OwnerID string
}

// Store defines the persistence contract for runs and the step ledger.
type Store interface {
	// CreateRun persists a new run. Returns slate.ErrRunExists if a run
	// with the same key already exists — creation doubles as the
	// at-most-once guard for trigger redelivery.
	CreateRun(ctx context.Context, r *Run) error

	// GetRun retrieves a run by idempotency key.
	// Returns slate.ErrRunNotFound if absent.
	GetRun(ctx context.Context, key string) (*Run, error)

	// UpdateRun persists changes to an existing run. Implementations
	// must reject updates to runs already in a terminal state with
	// slate.ErrRunTerminal.
	UpdateRun(ctx context.Context, r *Run) error

	// ListRuns returns runs matching the given options.
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)

	// ClaimDue atomically claims up to limit unclaimed, non-terminal
	// runs whose ResumeAt is at or before now, stamping them with the
	// worker ID and a heartbeat. A claimed run is invisible to other
	// workers until released or reaped.
	ClaimDue(ctx context.Context, workerID id.WorkerID, now time.Time, limit int) ([]*Run, error)

	// ReleaseRun clears the claim on a run, typically together with a
	// new ResumeAt for the next suspension window.
	ReleaseRun(ctx context.Context, key string, workerID id.WorkerID) error

	// HeartbeatRun refreshes the claim heartbeat for a running claim.
	HeartbeatRun(ctx context.Context, key string, workerID id.WorkerID) error

	// ReapStaleClaims clears claims whose heartbeat is older than the
	// threshold (worker crashed mid-run) and returns the affected runs
	// so the dispatcher can log them. Reaped runs become due again
	// immediately; the step ledger makes the re-drive idempotent.
	ReapStaleClaims(ctx context.Context, threshold time.Duration) ([]*Run, error)

	// SaveStep records a step outcome. Writes are first-write-wins per
	// (run key, step name): if a succeeded record already exists the
	// write is discarded and the stored record kept, serializing
	// concurrent writers.
	SaveStep(ctx context.Context, rec *StepRecord) error

	// GetStep retrieves the step record for (run key, step name).
	// Returns nil (no error) if no record exists.
	GetStep(ctx context.Context, runKey, stepName string) (*StepRecord, error)

	// ListSteps returns all step records for a run in recording order.
	ListSteps(ctx context.Context, runKey string) ([]*StepRecord, error)
}
