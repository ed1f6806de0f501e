package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mo-hossam-stack/slate"
	"github.com/mo-hossam-stack/slate/id"
	"github.com/mo-hossam-stack/slate/item"
	"github.com/mo-hossam-stack/slate/journal"
	"github.com/mo-hossam-stack/slate/run"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ run.Store     = (*Store)(nil)
	_ item.Store    = (*Store)(nil)
	_ journal.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	runs    map[string]*run.Run        // key: run key
	steps   map[string]*run.StepRecord // key: "runKey|stepName"
	stepSeq map[string]int             // insertion order for ListSteps
	seq     int
	items   map[string]*item.Item
	entries []*journal.Entry
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		runs:    make(map[string]*run.Run),
		steps:   make(map[string]*run.StepRecord),
		stepSeq: make(map[string]int),
		items:   make(map[string]*item.Item),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Run Store
// ──────────────────────────────────────────────────

// CreateRun persists a new run. The key is the at-most-once guard:
// a second create for the same key returns slate.ErrRunExists.
func (m *Store) CreateRun(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[r.Key]; exists {
		return slate.ErrRunExists
	}
	cp := *r
	m.runs[r.Key] = &cp
	return nil
}

// GetRun retrieves a run by key.
func (m *Store) GetRun(_ context.Context, key string) (*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[key]
	if !ok {
		return nil, slate.ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

// UpdateRun persists changes to a run. Terminal runs are immutable.
func (m *Store) UpdateRun(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.runs[r.Key]
	if !ok {
		return slate.ErrRunNotFound
	}
	if stored.State.Terminal() {
		return slate.ErrRunTerminal
	}
	cp := *r
	m.runs[r.Key] = &cp
	return nil
}

// ListRuns returns runs matching the given options, oldest first.
func (m *Store) ListRuns(_ context.Context, opts run.ListOpts) ([]*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*run.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if opts.State != "" && r.State != opts.State {
			continue
		}
		if opts.OwnerID != "" && r.OwnerID != opts.OwnerID {
			continue
		}
		matched = append(matched, r)
	}

	sort.Slice(matched, func(i, k int) bool {
		return matched[i].CreatedAt.Before(matched[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return []*run.Run{}, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	result := make([]*run.Run, len(matched))
	for i, r := range matched {
		cp := *r
		result[i] = &cp
	}
	return result, nil
}

// ClaimDue atomically claims up to limit unclaimed, due runs.
func (m *Store) ClaimDue(_ context.Context, workerID id.WorkerID, now time.Time, limit int) ([]*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := make([]*run.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if r.State != run.StateCreated && r.State != run.StateWaiting && r.State != run.StatePublishing {
			continue
		}
		if r.Claimed() {
			continue
		}
		if r.ResumeAt.After(now) {
			continue
		}
		candidates = append(candidates, r)
	}

	// Oldest deadline first.
	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].ResumeAt.Before(candidates[k].ResumeAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	hb := now.UTC()
	result := make([]*run.Run, len(candidates))
	for i, r := range candidates {
		r.ClaimedBy = workerID
		h := hb
		r.HeartbeatAt = &h
		// Return a copy so callers can mutate without racing with the store.
		cp := *r
		result[i] = &cp
	}
	return result, nil
}

// ReleaseRun clears the claim held by the given worker.
func (m *Store) ReleaseRun(_ context.Context, key string, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[key]
	if !ok {
		return slate.ErrRunNotFound
	}
	if r.ClaimedBy.String() != workerID.String() {
		return slate.ErrInvalidState
	}
	r.ClaimedBy = id.WorkerID{}
	r.HeartbeatAt = nil
	return nil
}

// HeartbeatRun refreshes the claim heartbeat.
func (m *Store) HeartbeatRun(_ context.Context, key string, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[key]
	if !ok {
		return slate.ErrRunNotFound
	}
	if r.ClaimedBy.String() != workerID.String() {
		return slate.ErrInvalidState
	}
	now := time.Now().UTC()
	r.HeartbeatAt = &now
	return nil
}

// ReapStaleClaims clears claims whose heartbeat is older than threshold.
func (m *Store) ReapStaleClaims(_ context.Context, threshold time.Duration) ([]*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var reaped []*run.Run
	for _, r := range m.runs {
		if !r.Claimed() || r.State.Terminal() {
			continue
		}
		if r.HeartbeatAt != nil && r.HeartbeatAt.After(cutoff) {
			continue
		}
		r.ClaimedBy = id.WorkerID{}
		r.HeartbeatAt = nil
		cp := *r
		reaped = append(reaped, &cp)
	}
	return reaped, nil
}

// ──────────────────────────────────────────────────
// Step Ledger
// ──────────────────────────────────────────────────

func stepKey(runKey, stepName string) string {
	return runKey + "|" + stepName
}

// SaveStep records a step outcome. First write wins per
// (run key, step name): a succeeded record is never overwritten.
func (m *Store) SaveStep(_ context.Context, rec *run.StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := stepKey(rec.RunKey, rec.StepName)
	if existing, ok := m.steps[key]; ok && existing.Status == run.StepSucceeded {
		return nil
	}
	cp := *rec
	m.steps[key] = &cp
	if _, ok := m.stepSeq[key]; !ok {
		m.seq++
		m.stepSeq[key] = m.seq
	}
	return nil
}

// GetStep retrieves the step record for (run key, step name).
func (m *Store) GetStep(_ context.Context, runKey, stepName string) (*run.StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.steps[stepKey(runKey, stepName)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// ListSteps returns all step records for a run in recording order.
func (m *Store) ListSteps(_ context.Context, runKey string) ([]*run.StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type ordered struct {
		rec *run.StepRecord
		seq int
	}
	var recs []ordered
	for key, rec := range m.steps {
		if rec.RunKey != runKey {
			continue
		}
		recs = append(recs, ordered{rec, m.stepSeq[key]})
	}
	sort.Slice(recs, func(i, k int) bool { return recs[i].seq < recs[k].seq })

	result := make([]*run.StepRecord, len(recs))
	for i, o := range recs {
		cp := *o.rec
		result[i] = &cp
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Item Store
// ──────────────────────────────────────────────────

// PutItem seeds or replaces an item. Memory-store helper for tests and
// development wiring; the production item record is owned elsewhere.
func (m *Store) PutItem(it *item.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *it
	m.items[it.ID] = &cp
}

// DeleteItem removes an item. Memory-store helper.
func (m *Store) DeleteItem(itemID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, itemID)
}

// GetItem retrieves an item by ID.
func (m *Store) GetItem(_ context.Context, itemID string) (*item.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, ok := m.items[itemID]
	if !ok {
		return nil, slate.ErrItemNotFound
	}
	cp := *it
	return &cp, nil
}

// RecordShareStart stamps ShareStartAt on the item.
func (m *Store) RecordShareStart(_ context.Context, itemID string, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[itemID]
	if !ok {
		return slate.ErrItemNotFound
	}
	t := startedAt.UTC()
	it.ShareStartAt = &t
	return nil
}

// MarkPublished sets the published flag exactly once.
func (m *Store) MarkPublished(_ context.Context, itemID string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[itemID]
	if !ok {
		return slate.ErrItemNotFound
	}
	if it.Published {
		return slate.ErrItemConflict
	}
	t := completedAt.UTC()
	it.Published = true
	it.PublishedAt = &t
	it.ShareCompleteAt = &t
	return nil
}

// ──────────────────────────────────────────────────
// Journal Store
// ──────────────────────────────────────────────────

// AppendEntry persists a journal entry.
func (m *Store) AppendEntry(_ context.Context, e *journal.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

// ListEntries returns all entries for a run in append order.
func (m *Store) ListEntries(_ context.Context, runKey string) ([]*journal.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*journal.Entry
	for _, e := range m.entries {
		if e.RunKey != runKey {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}
