package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mo-hossam-stack/slate/id"
	"github.com/mo-hossam-stack/slate/journal"
)

// AppendEntry persists a journal entry. The seq column preserves append
// order independent of timestamp resolution.
func (s *Store) AppendEntry(ctx context.Context, e *journal.Entry) error {
	var metadata []byte
	if len(e.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("slate/postgres: marshal journal metadata: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO slate_journal (
			id, run_key, action, step, outcome, attempt, reason, at, metadata
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)`,
		e.ID.String(), e.RunKey, e.Action, e.Step, e.Outcome,
		e.Attempt, e.Reason, e.At, metadata,
	)
	if err != nil {
		return fmt.Errorf("slate/postgres: append journal entry: %w", err)
	}
	return nil
}

// ListEntries returns all entries for a run in append order.
func (s *Store) ListEntries(ctx context.Context, runKey string) ([]*journal.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_key, action, step, outcome, attempt, reason, at, metadata
		FROM slate_journal
		WHERE run_key = $1
		ORDER BY seq ASC`,
		runKey,
	)
	if err != nil {
		return nil, fmt.Errorf("slate/postgres: list journal entries: %w", err)
	}
	defer rows.Close()

	var entries []*journal.Entry
	for rows.Next() {
		var (
			e        journal.Entry
			idStr    string
			metadata []byte
		)
		err := rows.Scan(
			&idStr, &e.RunKey, &e.Action, &e.Step, &e.Outcome,
			&e.Attempt, &e.Reason, &e.At, &metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("slate/postgres: scan journal row: %w", err)
		}

		parsedID, parseErr := id.ParseJournalID(idStr)
		if parseErr != nil {
			return nil, fmt.Errorf("slate/postgres: parse journal id %q: %w", idStr, parseErr)
		}
		e.ID = parsedID

		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("slate/postgres: unmarshal journal metadata: %w", err)
			}
		}

		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("slate/postgres: iterate journal rows: %w", err)
	}
	return entries, nil
}
