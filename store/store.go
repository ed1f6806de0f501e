// Package store defines the aggregate persistence interface. Each
// subsystem (run, item, journal) defines its own store interface; the
// composite Store composes them all. Backends: Postgres, SQLite, and
// Memory.
package store

import (
	"context"

	"github.com/mo-hossam-stack/slate/item"
	"github.com/mo-hossam-stack/slate/journal"
	"github.com/mo-hossam-stack/slate/run"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (postgres, sqlite, memory) implements all of them.
type Store interface {
	run.Store
	item.Store
	journal.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
