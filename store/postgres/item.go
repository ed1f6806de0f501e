package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/mo-hossam-stack/slate"
	"github.com/mo-hossam-stack/slate/item"
)

// GetItem retrieves an item by ID.
func (s *Store) GetItem(ctx context.Context, itemID string) (*item.Item, error) {
	var it item.Item
	err := s.pool.QueryRow(ctx, `
		SELECT
			id, owner_id, content, scheduled_at,
			share_start_at, share_complete_at,
			published, published_at, created_at, updated_at
		FROM slate_items
		WHERE id = $1`,
		itemID,
	).Scan(
		&it.ID, &it.OwnerID, &it.Content, &it.ScheduledAt,
		&it.ShareStartAt, &it.ShareCompleteAt,
		&it.Published, &it.PublishedAt, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, slate.ErrItemNotFound
		}
		return nil, fmt.Errorf("slate/postgres: get item: %w", err)
	}
	return &it, nil
}

// RecordShareStart stamps ShareStartAt on the item.
func (s *Store) RecordShareStart(ctx context.Context, itemID string, startedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE slate_items
		SET share_start_at = $2, updated_at = NOW()
		WHERE id = $1`,
		itemID, startedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("slate/postgres: record share start: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return slate.ErrItemNotFound
	}
	return nil
}

// MarkPublished sets the published flag exactly once. The NOT published
// guard in the WHERE clause makes the flip atomic under concurrent runs.
func (s *Store) MarkPublished(ctx context.Context, itemID string, completedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE slate_items
		SET published = TRUE, published_at = $2,
			share_complete_at = $2, updated_at = NOW()
		WHERE id = $1 AND NOT published`,
		itemID, completedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("slate/postgres: mark published: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var published bool
		err = s.pool.QueryRow(ctx,
			`SELECT published FROM slate_items WHERE id = $1`, itemID,
		).Scan(&published)
		if err != nil {
			if isNoRows(err) {
				return slate.ErrItemNotFound
			}
			return fmt.Errorf("slate/postgres: mark published: %w", err)
		}
		return slate.ErrItemConflict
	}
	return nil
}

// PutItem inserts or replaces an item record. The item's CRUD surface
// is owned by a collaborating system; this helper exists for
// development wiring and integration tests against a real database.
func (s *Store) PutItem(ctx context.Context, it *item.Item) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO slate_items (
			id, owner_id, content, scheduled_at,
			share_start_at, share_complete_at,
			published, published_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8, $9, $10
		)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			content = EXCLUDED.content,
			scheduled_at = EXCLUDED.scheduled_at,
			share_start_at = EXCLUDED.share_start_at,
			share_complete_at = EXCLUDED.share_complete_at,
			published = EXCLUDED.published,
			published_at = EXCLUDED.published_at,
			updated_at = NOW()`,
		it.ID, it.OwnerID, it.Content, it.ScheduledAt,
		it.ShareStartAt, it.ShareCompleteAt,
		it.Published, it.PublishedAt, it.CreatedAt, it.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("slate/postgres: put item: %w", err)
	}
	return nil
}

// DeleteItem removes an item record. Development and test helper.
func (s *Store) DeleteItem(ctx context.Context, itemID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM slate_items WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("slate/postgres: delete item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return slate.ErrItemNotFound
	}
	return nil
}
