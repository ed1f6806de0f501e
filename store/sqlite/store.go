package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3" // register sqlite3 driver

	"github.com/mo-hossam-stack/slate/item"
	"github.com/mo-hossam-stack/slate/journal"
	"github.com/mo-hossam-stack/slate/run"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ run.Store     = (*Store)(nil)
	_ item.Store    = (*Store)(nil)
	_ journal.Store = (*Store)(nil)
)

// Store is a SQLite implementation of store.Store using database/sql.
// SQLite serializes writers, so run claiming uses a plain transaction
// instead of SKIP LOCKED. Suitable for single-node deployments and
// local development.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open creates a new SQLite store at the given path. Use ":memory:"
// for an ephemeral database. The connection is limited to one writer
// and WAL mode is enabled for concurrent readers.
func Open(path string, opts ...Option) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("slate/sqlite: open %s: %w", path, err)
	}

	// A single connection avoids SQLITE_BUSY between pool connections.
	db.SetMaxOpenConns(1)

	return New(db, opts...), nil
}

// New creates a new SQLite store from an existing *sql.DB.
// The caller owns the db lifecycle unless the store was built with Open.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate runs all embedded SQL migration files in order.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS slate_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("slate/sqlite: create migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("slate/sqlite: read migrations: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var applied bool
		err = s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM slate_migrations WHERE filename = ?)`,
			entry.Name(),
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("slate/sqlite: check migration %s: %w", entry.Name(), err)
		}
		if applied {
			continue
		}

		data, readErr := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if readErr != nil {
			return fmt.Errorf("slate/sqlite: read migration %s: %w", entry.Name(), readErr)
		}

		if _, execErr := s.db.ExecContext(ctx, string(data)); execErr != nil {
			return fmt.Errorf("slate/sqlite: execute migration %s: %w", entry.Name(), execErr)
		}

		if _, recErr := s.db.ExecContext(ctx,
			`INSERT INTO slate_migrations (filename) VALUES (?)`,
			entry.Name(),
		); recErr != nil {
			return fmt.Errorf("slate/sqlite: record migration %s: %w", entry.Name(), recErr)
		}

		s.logger.Info("applied migration", "file", entry.Name())
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ── helpers ──────────────────────────────────────────────────────

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a SQLite error is a unique constraint violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
