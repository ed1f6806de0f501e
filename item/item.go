// Package item defines the publishable item entity and the store
// contract through which the engine reads items and records publication.
// The item's CRUD surface is owned by a collaborating system; the engine
// only consumes validated items through this interface.
package item

import (
	"context"
	"time"

	"github.com/mo-hossam-stack/slate"
)

// Item is a publishable content record.
type Item struct {
	slate.Entity

	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Content string `json:"content"`

	// ScheduledAt is the requested publication time. Nil means "now".
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`

	// ShareStartAt records when the publication run began work on
	// this item; written once by the engine's record-start step.
	ShareStartAt *time.Time `json:"share_start_at,omitempty"`

	// ShareCompleteAt records when the publication run finished;
	// written once by the engine's record-completion step.
	ShareCompleteAt *time.Time `json:"share_complete_at,omitempty"`

	// Published and PublishedAt are set exclusively by the engine's
	// record-completion step. No other writer is permitted.
	Published   bool       `json:"published"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Publishable reports whether a run may be created for this item.
func (i *Item) Publishable() bool {
	return !i.Published
}

// Store defines the engine's read/write contract against the item record.
type Store interface {
	// GetItem retrieves an item by ID.
	// Returns slate.ErrItemNotFound if the item does not exist.
	GetItem(ctx context.Context, itemID string) (*Item, error)

	// RecordShareStart stamps ShareStartAt on the item. Overwrites are
	// harmless; the engine memoizes the step so it writes at most once.
	RecordShareStart(ctx context.Context, itemID string, startedAt time.Time) error

	// MarkPublished sets the published flag, PublishedAt, and
	// ShareCompleteAt. Returns slate.ErrItemConflict if the item is
	// already published (the flag is set by exactly one run).
	MarkPublished(ctx context.Context, itemID string, completedAt time.Time) error
}
