package sqlite

import (
	"context"
	"fmt"

	"github.com/mo-hossam-stack/slate/id"
	"github.com/mo-hossam-stack/slate/run"
)

// SaveStep records a step outcome. The ON CONFLICT guard implements
// first-write-wins per (run key, step name): a succeeded record is
// never overwritten.
func (s *Store) SaveStep(ctx context.Context, rec *run.StepRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO slate_steps (
			id, run_key, step_name, status, value, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_key, step_name) DO UPDATE SET
			id = excluded.id,
			status = excluded.status,
			value = excluded.value,
			recorded_at = excluded.recorded_at
		WHERE slate_steps.status <> 'succeeded'`,
		rec.ID.String(), rec.RunKey, rec.StepName,
		string(rec.Status), rec.Value, rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("slate/sqlite: save step: %w", err)
	}
	return nil
}

// GetStep retrieves the step record for (run key, step name).
// Returns nil with no error if no record exists.
func (s *Store) GetStep(ctx context.Context, runKey, stepName string) (*run.StepRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_key, step_name, status, value, recorded_at
		FROM slate_steps
		WHERE run_key = ? AND step_name = ?`,
		runKey, stepName,
	)

	rec, err := scanStep(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("slate/sqlite: get step: %w", err)
	}
	return rec, nil
}

// ListSteps returns all step records for a run in recording order.
func (s *Store) ListSteps(ctx context.Context, runKey string) ([]*run.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_key, step_name, status, value, recorded_at
		FROM slate_steps
		WHERE run_key = ?
		ORDER BY seq ASC`,
		runKey,
	)
	if err != nil {
		return nil, fmt.Errorf("slate/sqlite: list steps: %w", err)
	}
	defer rows.Close()

	var recs []*run.StepRecord
	for rows.Next() {
		rec, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("slate/sqlite: scan step row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("slate/sqlite: iterate step rows: %w", err)
	}
	return recs, nil
}

// scanStep scans a single step record row.
func scanStep(row interface{ Scan(dest ...any) error }) (*run.StepRecord, error) {
	var (
		rec       run.StepRecord
		idStr     string
		statusStr string
	)
	err := row.Scan(
		&idStr, &rec.RunKey, &rec.StepName, &statusStr,
		&rec.Value, &rec.RecordedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = run.StepStatus(statusStr)

	parsedID, parseErr := id.ParseStepID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("slate/sqlite: parse step id %q: %w", idStr, parseErr)
	}
	rec.ID = parsedID

	return &rec, nil
}
