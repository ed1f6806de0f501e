// Package slate provides a durable scheduled-publication engine for Go.
// Given a publishable item and a future timestamp, Slate guarantees that
// the publish action executes effectively-once at or after that time,
// survives process restarts, retries transient failures with bounded
// backoff, and never double-publishes locally even when the triggering
// event is redelivered.
//
// Slate is designed as a library, not a service. Import it, configure a
// store and a publisher adapter, and hand it validated items to publish.
//
// # Quick Start
//
//	cfg := slate.DefaultConfig()
//	cfg.Concurrency = 4
//	eng, err := engine.Build(store, adapter, creds,
//	    engine.WithConfig(cfg),
//	)
//	handle, err := eng.Intake().Trigger(ctx, itemID, &publishAt)
//
// # Architecture
//
// Slate follows a composable store pattern where each subsystem (run,
// item, journal) defines its own store interface. A single backend
// implements all of them.
//
// A Run is keyed by a deterministic idempotency key derived from the
// item ("publish.<item-id>"), so redelivered triggers resume the same
// run instead of starting a second one. Every side-effecting step inside
// a run is memoized in a durable step ledger; replaying a run after a
// crash short-circuits completed steps instead of re-running them.
package slate
