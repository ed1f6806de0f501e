// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED run claiming, first-write-wins step ledger via
// ON CONFLICT, embedded SQL migrations.
package postgres
