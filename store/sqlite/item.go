package sqlite

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
	err := s.db.QueryRowContext(ctx, `
		SELECT
			id, owner_id, content, scheduled_at,
			share_start_at, share_complete_at,
			published, published_at, created_at, updated_at
		FROM slate_items
		WHERE id = ?`,
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
		return nil, fmt.Errorf("slate/sqlite: get item: %w", err)
	}
	return &it, nil
}

// RecordShareStart stamps ShareStartAt on the item.
func (s *Store) RecordShareStart(ctx context.Context, itemID string, startedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE slate_items
		SET share_start_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		startedAt.UTC(), itemID,
	)
	if err != nil {
		return fmt.Errorf("slate/sqlite: record share start: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("slate/sqlite: record share start: %w", err)
	}
	if affected == 0 {
		return slate.ErrItemNotFound
	}
	return nil
}

// MarkPublished sets the published flag exactly once.
func (s *Store) MarkPublished(ctx context.Context, itemID string, completedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE slate_items
		SET published = 1, published_at = ?,
			share_complete_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND published = 0`,
		completedAt.UTC(), completedAt.UTC(), itemID,
	)
	if err != nil {
		return fmt.Errorf("slate/sqlite: mark published: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("slate/sqlite: mark published: %w", err)
	}
	if affected == 0 {
		var published bool
		err = s.db.QueryRowContext(ctx,
			`SELECT published FROM slate_items WHERE id = ?`, itemID,
		).Scan(&published)
		if err != nil {
			if isNoRows(err) {
				return slate.ErrItemNotFound
			}
			return fmt.Errorf("slate/sqlite: mark published: %w", err)
		}
		return slate.ErrItemConflict
	}
	return nil
}

// PutItem inserts or replaces an item record. Development and test
// helper; the item's CRUD surface is owned by a collaborating system.
func (s *Store) PutItem(ctx context.Context, it *item.Item) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO slate_items (
			id, owner_id, content, scheduled_at,
			share_start_at, share_complete_at,
			published, published_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = excluded.owner_id,
			content = excluded.content,
			scheduled_at = excluded.scheduled_at,
			share_start_at = excluded.share_start_at,
			share_complete_at = excluded.share_complete_at,
			published = excluded.published,
			published_at = excluded.published_at,
			updated_at = CURRENT_TIMESTAMP`,
		it.ID, it.OwnerID, it.Content, it.ScheduledAt,
		it.ShareStartAt, it.ShareCompleteAt,
		it.Published, it.PublishedAt, it.CreatedAt, it.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("slate/sqlite: put item: %w", err)
	}
	return nil
}

// DeleteItem removes an item record. Development and test helper.
func (s *Store) DeleteItem(ctx context.Context, itemID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM slate_items WHERE id = ?`, itemID)
	if err != nil {
		return fmt.Errorf("slate/sqlite: delete item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("slate/sqlite: delete item: %w", err)
	}
	if affected == 0 {
		return slate.ErrItemNotFound
	}
	return nil
}
