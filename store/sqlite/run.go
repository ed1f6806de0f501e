package sqlite

import (
	"context"
	"fmt"
	"time"

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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO slate_runs (
			key, item_id, owner_id, state, scheduled_at, resume_at,
			attempt_count, failure_kind, reason, external_id,
			started_at, completed_at, claimed_by, heartbeat_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Key, r.ItemID, r.OwnerID, string(r.State), r.ScheduledAt, r.ResumeAt,
		r.AttemptCount, string(r.FailureKind), r.Reason, r.ExternalID,
		r.StartedAt, r.CompletedAt, r.ClaimedBy.String(), r.HeartbeatAt,
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return slate.ErrRunExists
		}
		return fmt.Errorf("slate/sqlite: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by idempotency key.
func (s *Store) GetRun(ctx context.Context, key string) (*run.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM slate_runs WHERE key = ?`, key)

	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, slate.ErrRunNotFound
		}
		return nil, fmt.Errorf("slate/sqlite: get run: %w", err)
	}
	return r, nil
}

// UpdateRun persists changes to a run. The WHERE clause excludes
// terminal states so completed and failed runs stay immutable.
func (s *Store) UpdateRun(ctx context.Context, r *run.Run) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE slate_runs SET
			item_id = ?, owner_id = ?, state = ?,
			scheduled_at = ?, resume_at = ?, attempt_count = ?,
			failure_kind = ?, reason = ?, external_id = ?,
			started_at = ?, completed_at = ?,
			claimed_by = ?, heartbeat_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE key = ?
		  AND state NOT IN ('completed', 'failed')`,
		r.ItemID, r.OwnerID, string(r.State),
		r.ScheduledAt, r.ResumeAt, r.AttemptCount,
		string(r.FailureKind), r.Reason, r.ExternalID,
		r.StartedAt, r.CompletedAt,
		r.ClaimedBy.String(), r.HeartbeatAt,
		r.Key,
	)
	if err != nil {
		return fmt.Errorf("slate/sqlite: update run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("slate/sqlite: update run: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing run from a terminal one.
		var state string
		err = s.db.QueryRowContext(ctx,
			`SELECT state FROM slate_runs WHERE key = ?`, r.Key,
		).Scan(&state)
		if err != nil {
			if isNoRows(err) {
				return slate.ErrRunNotFound
			}
			return fmt.Errorf("slate/sqlite: update run: %w", err)
		}
		return slate.ErrRunTerminal
	}
	return nil
}

// ListRuns returns runs matching the given options, oldest first.
func (s *Store) ListRuns(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	query := `SELECT ` + runColumns + ` FROM slate_runs WHERE 1=1`
	args := []interface{}{}

	if opts.State != "" {
		query += " AND state = ?"
		args = append(args, string(opts.State))
	}
	if opts.OwnerID != "" {
		query += " AND owner_id = ?"
		args = append(args, opts.OwnerID)
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			// SQLite requires a LIMIT clause before OFFSET.
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("slate/sqlite: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("slate/sqlite: scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("slate/sqlite: iterate run rows: %w", err)
	}
	return runs, nil
}

// ClaimDue atomically claims up to limit unclaimed, due runs for the
// given worker. SQLite serializes writers, so a plain transaction is
// enough to keep concurrent pollers from claiming the same run.
func (s *Store) ClaimDue(ctx context.Context, workerID id.WorkerID, now time.Time, limit int) ([]*run.Run, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("slate/sqlite: claim due runs: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	rows, err := tx.QueryContext(ctx, `
		SELECT `+runColumns+` FROM slate_runs
		WHERE state IN ('created', 'waiting_to_publish', 'publishing')
		  AND claimed_by = ''
		  AND resume_at <= ?
		ORDER BY resume_at ASC
		LIMIT ?`,
		now.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("slate/sqlite: claim due runs: %w", err)
	}

	var claimed []*run.Run
	for rows.Next() {
		r, scanErr := scanRun(rows)
		if scanErr != nil {
			rows.Close()
			return nil, fmt.Errorf("slate/sqlite: scan run row: %w", scanErr)
		}
		claimed = append(claimed, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("slate/sqlite: iterate run rows: %w", err)
	}
	rows.Close()

	hb := now.UTC()
	for _, r := range claimed {
		if _, err := tx.ExecContext(ctx, `
			UPDATE slate_runs
			SET claimed_by = ?, heartbeat_at = ?, updated_at = CURRENT_TIMESTAMP
			WHERE key = ?`,
			workerID.String(), hb, r.Key,
		); err != nil {
			return nil, fmt.Errorf("slate/sqlite: claim run %s: %w", r.Key, err)
		}
		r.ClaimedBy = workerID
		h := hb
		r.HeartbeatAt = &h
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("slate/sqlite: claim due runs: %w", err)
	}
	return claimed, nil
}

// ReleaseRun clears the claim held by the given worker.
func (s *Store) ReleaseRun(ctx context.Context, key string, workerID id.WorkerID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE slate_runs
		SET claimed_by = '', heartbeat_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE key = ? AND claimed_by = ?`,
		key, workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("slate/sqlite: release run: %w", err)
	}
	return s.resolveClaimResult(ctx, res, key)
}

// HeartbeatRun refreshes the claim heartbeat for a running claim.
func (s *Store) HeartbeatRun(ctx context.Context, key string, workerID id.WorkerID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE slate_runs
		SET heartbeat_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE key = ? AND claimed_by = ?`,
		time.Now().UTC(), key, workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("slate/sqlite: heartbeat run: %w", err)
	}
	return s.resolveClaimResult(ctx, res, key)
}

// resolveClaimResult turns a zero-row claim update into the right
// error: the run is either gone or claimed by a different worker.
func (s *Store) resolveClaimResult(ctx context.Context, res interface{ RowsAffected() (int64, error) }, key string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("slate/sqlite: check run claim: %w", err)
	}
	if affected > 0 {
		return nil
	}
	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM slate_runs WHERE key = ?)`, key,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("slate/sqlite: check run claim: %w", err)
	}
	if !exists {
		return slate.ErrRunNotFound
	}
	return slate.ErrInvalidState
}

// ReapStaleClaims clears claims whose heartbeat is older than the
// threshold and returns the affected runs.
func (s *Store) ReapStaleClaims(ctx context.Context, threshold time.Duration) ([]*run.Run, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("slate/sqlite: reap stale claims: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	rows, err := tx.QueryContext(ctx, `
		SELECT `+runColumns+` FROM slate_runs
		WHERE claimed_by <> ''
		  AND state NOT IN ('completed', 'failed')
		  AND (heartbeat_at IS NULL OR heartbeat_at < ?)`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("slate/sqlite: reap stale claims: %w", err)
	}

	var reaped []*run.Run
	for rows.Next() {
		r, scanErr := scanRun(rows)
		if scanErr != nil {
			rows.Close()
			return nil, fmt.Errorf("slate/sqlite: scan run row: %w", scanErr)
		}
		reaped = append(reaped, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("slate/sqlite: iterate run rows: %w", err)
	}
	rows.Close()

	for _, r := range reaped {
		if _, err := tx.ExecContext(ctx, `
			UPDATE slate_runs
			SET claimed_by = '', heartbeat_at = NULL, updated_at = CURRENT_TIMESTAMP
			WHERE key = ?`,
			r.Key,
		); err != nil {
			return nil, fmt.Errorf("slate/sqlite: reap run %s: %w", r.Key, err)
		}
		r.ClaimedBy = id.WorkerID{}
		r.HeartbeatAt = nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("slate/sqlite: reap stale claims: %w", err)
	}
	return reaped, nil
}

// scanRun scans a single run row.
func scanRun(row interface{ Scan(dest ...any) error }) (*run.Run, error) {
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
