// Package sqlite implements store.Store using database/sql with the
// mattn/go-sqlite3 driver. Suitable for single-node deployments, CLI
// tools, and local development.
//
// Open builds a store that owns its database handle:
//
//	store, _ := sqlite.Open("slate.db")
//	defer store.Close()
//	store.Migrate(ctx)
//
// New wraps an existing *sql.DB when the caller owns the lifecycle.
package sqlite
