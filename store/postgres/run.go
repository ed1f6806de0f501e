package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mo-hossam-stack/slate"
	"github.com/mo-hossam-stack/slate/id"
	"github.com/mo-hossam-stack/slate/run"
)

const runColumns = `
	key, item_id, owner_id, state, scheduled_at, resume_at,
	attempt_count, failure_kind, reason, external_id,
	started_at, completed_at, claimed_by, heartbeat_at,
	created_at, updated_at`

// CreateRun persists a new run. The key is the at-most-once guard: a
// second insert for the same key returns slate.ErrRunExists.
func (s *Store) CreateRun(ctx context.Context, r *run.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO slate_runs (
			key, item_id, owner_id, state, scheduled_at, resume_at,
			attempt_count, failure_kind, reason, external_id,
			started_at, completed_at, claimed_by, heartbeat_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16
		)`,
		r.Key, r.ItemID, r.OwnerID, string(r.State), r.ScheduledAt, r.ResumeAt,
		r.AttemptCount, string(r.FailureKind), r.Reason, r.ExternalID,
		r.StartedAt, r.CompletedAt, r.ClaimedBy.String(), r.HeartbeatAt,
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return slate.ErrRunExists
		}
		return fmt.Errorf("slate/postgres: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by idempotency key.
func (s *Store) GetRun(ctx context.Context, key string) (*run.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM slate_runs WHERE key = $1`, key)

	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, slate.ErrRunNotFound
		}
		return nil, fmt.Errorf("slate/postgres: get run: %w", err)
	}
	return r, nil
}

// UpdateRun persists changes to a run. The WHERE clause excludes
// terminal states so completed and failed runs stay immutable even
// under concurrent writers.
func (s *Store) UpdateRun(ctx context.Context, r *run.Run) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE slate_runs SET
			item_id = $2, owner_id = $3, state = $4,
			scheduled_at = $5, resume_at = $6, attempt_count = $7,
			failure_kind = $8, reason = $9, external_id = $10,
			started_at = $11, completed_at = $12,
			claimed_by = $13, heartbeat_at = $14,
			updated_at = NOW()
		WHERE key = $1
		  AND state NOT IN ('completed', 'failed')`,
		r.Key, r.ItemID, r.OwnerID, string(r.State),
		r.ScheduledAt, r.ResumeAt, r.AttemptCount,
		string(r.FailureKind), r.Reason, r.ExternalID,
		r.StartedAt, r.CompletedAt,
		r.ClaimedBy.String(), r.HeartbeatAt,
	)
	if err != nil {
		return fmt.Errorf("slate/postgres: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing run from a terminal one.
		var state string
		err = s.pool.QueryRow(ctx,
			`SELECT state FROM slate_runs WHERE key = $1`, r.Key,
		).Scan(&state)
		if err != nil {
			if isNoRows(err) {
				return slate.ErrRunNotFound
			}
			return fmt.Errorf("slate/postgres: update run: %w", err)
		}
		return slate.ErrRunTerminal
	}
	return nil
}

// ListRuns returns runs matching the given options, oldest first.
func (s *Store) ListRuns(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	query := `SELECT ` + runColumns + ` FROM slate_runs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
		argIdx++
	}
	if opts.OwnerID != "" {
		query += fmt.Sprintf(" AND owner_id = $%d", argIdx)
		args = append(args, opts.OwnerID)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("slate/postgres: list runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// ClaimDue atomically claims up to limit unclaimed, due runs for the
// given worker. SELECT FOR UPDATE SKIP LOCKED keeps concurrent pollers
// from claiming the same run.
func (s *Store) ClaimDue(ctx context.Context, workerID id.WorkerID, now time.Time, limit int) ([]*run.Run, error) {
	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE slate_runs
			SET claimed_by = $1, heartbeat_at = $2, updated_at = NOW()
			WHERE key IN (
				SELECT key FROM slate_runs
				WHERE state IN ('created', 'waiting_to_publish', 'publishing')
				  AND claimed_by = ''
				  AND resume_at <= $2
				ORDER BY resume_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $3
			)
			RETURNING `+runColumns+`
		)
		SELECT * FROM claimed ORDER BY resume_at ASC`,
		workerID.String(), now.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("slate/postgres: claim due runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// ReleaseRun clears the claim held by the given worker.
func (s *Store) ReleaseRun(ctx context.Context, key string, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE slate_runs
		SET claimed_by = '', heartbeat_at = NULL, updated_at = NOW()
		WHERE key = $1 AND claimed_by = $2`,
		key, workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("slate/postgres: release run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.claimMismatch(ctx, key)
	}
	return nil
}

// HeartbeatRun refreshes the claim heartbeat for a running claim.
func (s *Store) HeartbeatRun(ctx context.Context, key string, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE slate_runs
		SET heartbeat_at = NOW(), updated_at = NOW()
		WHERE key = $1 AND claimed_by = $2`,
		key, workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("slate/postgres: heartbeat run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.claimMismatch(ctx, key)
	}
	return nil
}

// claimMismatch resolves a zero-row claim update into the right error:
// the run is either gone or claimed by a different worker.
func (s *Store) claimMismatch(ctx context.Context, key string) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM slate_runs WHERE key = $1)`, key,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("slate/postgres: check run claim: %w", err)
	}
	if !exists {
		return slate.ErrRunNotFound
	}
	return slate.ErrInvalidState
}

// ReapStaleClaims clears claims whose heartbeat is older than the
// threshold and returns the affected runs. Reaped runs become due
// again on the next poll.
func (s *Store) ReapStaleClaims(ctx context.Context, threshold time.Duration) ([]*run.Run, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	rows, err := s.pool.Query(ctx, `
		WITH reaped AS (
			UPDATE slate_runs
			SET claimed_by = '', heartbeat_at = NULL, updated_at = NOW()
			WHERE claimed_by <> ''
			  AND state NOT IN ('completed', 'failed')
			  AND (heartbeat_at IS NULL OR heartbeat_at < $1)
			RETURNING `+runColumns+`
		)
		SELECT * FROM reaped`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("slate/postgres: reap stale claims: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// scanRun scans a single run row.
func scanRun(row pgx.Row) (*run.Run, error) {
	var (
		r          run.Run
		stateStr   string
		failureStr string
		claimedStr string
	)
	err := row.Scan(
		&r.Key, &r.ItemID, &r.OwnerID, &stateStr, &r.ScheduledAt, &r.ResumeAt,
		&r.AttemptCount, &failureStr, &r.Reason, &r.ExternalID,
		&r.StartedAt, &r.CompletedAt, &claimedStr, &r.HeartbeatAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.State = run.State(stateStr)
	r.FailureKind = run.FailureKind(failureStr)

	if claimedStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(claimedStr)
		if workerErr == nil {
			r.ClaimedBy = parsedWorker
		}
	}

	return &r, nil
}

// collectRuns collects all runs from query rows.
func collectRuns(rows pgx.Rows) ([]*run.Run, error) {
	var runs []*run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("slate/postgres: scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("slate/postgres: iterate run rows: %w", err)
	}
	return runs, nil
}
