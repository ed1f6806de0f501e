package limiter

import (
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Manager basics
// ---------------------------------------------------------------------------

func TestNewManager_Empty(t *testing.T) {
	m := NewManager(Config{})
	// No limits; Acquire/Release should always succeed.
	if !m.Acquire("anyone") {
		t.Fatal("expected Acquire to succeed with zero config")
	}
	m.Release("anyone")
}

// ---------------------------------------------------------------------------
// Concurrency limits
// ---------------------------------------------------------------------------

func TestManager_MaxConcurrency(t *testing.T) {
	m := NewManager(Config{MaxConcurrency: 2})

	if !m.Acquire("") {
		t.Fatal("first Acquire should succeed")
	}
	if !m.Acquire("") {
		t.Fatal("second Acquire should succeed")
	}
	// Third should be blocked.
	if m.Acquire("") {
		t.Fatal("third Acquire should fail (max concurrency 2)")
	}

	// Release one slot.
	m.Release("")
	if !m.Acquire("") {
		t.Fatal("Acquire should succeed after Release")
	}
}

func TestManager_AcquireRelease_ActiveCount(t *testing.T) {
	m := NewManager(Config{MaxConcurrency: 5})

	for i := range 3 {
		if !m.Acquire("") {
			t.Fatalf("Acquire %d should succeed", i)
		}
	}
	if m.ActiveCount() != 3 {
		t.Fatalf("expected 3 active, got %d", m.ActiveCount())
	}

	m.Release("")
	m.Release("")
	if m.ActiveCount() != 1 {
		t.Fatalf("expected 1 active, got %d", m.ActiveCount())
	}
}

// ---------------------------------------------------------------------------
// Rate limiting
// ---------------------------------------------------------------------------

func TestManager_RateLimit_Throttles(t *testing.T) {
	m := NewManager(Config{
		RateLimit: 1.0, // 1 per second
		RateBurst: 1,
	})

	// First should succeed (burst allows it).
	if !m.Acquire("") {
		t.Fatal("first Acquire should succeed (within burst)")
	}
	m.Release("")

	// Immediately after, token bucket is empty.
	if m.Acquire("") {
		t.Fatal("second Acquire should fail (rate limited)")
	}

	// Wait for token refill.
	time.Sleep(1100 * time.Millisecond)
	if !m.Acquire("") {
		t.Fatal("Acquire should succeed after token refill")
	}
	m.Release("")
}

func TestManager_RateLimit_BurstAllows(t *testing.T) {
	m := NewManager(Config{
		RateLimit: 10.0,
		RateBurst: 3,
	})

	// Three immediate acquires should succeed (burst = 3).
	for i := range 3 {
		if !m.Acquire("") {
			t.Fatalf("Acquire %d should succeed (within burst)", i)
		}
		m.Release("")
	}
}

// ---------------------------------------------------------------------------
// Per-owner isolation
// ---------------------------------------------------------------------------

func TestManager_OwnerConcurrency(t *testing.T) {
	m := NewManager(Config{MaxConcurrency: 100})

	m.SetOwnerConfig(OwnerConfig{
		OwnerID:        "ownerA",
		MaxConcurrency: 1,
	})

	// Owner A: first attempt succeeds.
	if !m.Acquire("ownerA") {
		t.Fatal("ownerA first Acquire should succeed")
	}
	// Owner A: second attempt blocked.
	if m.Acquire("ownerA") {
		t.Fatal("ownerA second Acquire should fail (owner max 1)")
	}

	// Owner B (no config): should still succeed.
	if !m.Acquire("ownerB") {
		t.Fatal("ownerB Acquire should succeed (no owner limit)")
	}

	m.Release("ownerA")
	m.Release("ownerB")
}

func TestManager_OwnerIsolation(t *testing.T) {
	m := NewManager(Config{MaxConcurrency: 100})

	m.SetOwnerConfig(OwnerConfig{OwnerID: "ownerA", MaxConcurrency: 2})
	m.SetOwnerConfig(OwnerConfig{OwnerID: "ownerB", MaxConcurrency: 2})

	// Fill ownerA slots.
	m.Acquire("ownerA")
	m.Acquire("ownerA")

	// ownerA is maxed.
	if m.Acquire("ownerA") {
		t.Fatal("ownerA should be blocked at max concurrency")
	}

	// ownerB is unaffected.
	if !m.Acquire("ownerB") {
		t.Fatal("ownerB should not be affected by ownerA's limits")
	}

	m.Release("ownerA")
	m.Release("ownerA")
	m.Release("ownerB")
}

func TestManager_OwnerActiveCount(t *testing.T) {
	m := NewManager(Config{MaxConcurrency: 10})
	m.SetOwnerConfig(OwnerConfig{OwnerID: "ownerA", MaxConcurrency: 5})

	m.Acquire("ownerA")
	m.Acquire("ownerA")
	if got := m.OwnerActiveCount("ownerA"); got != 2 {
		t.Fatalf("expected 2 active for ownerA, got %d", got)
	}

	m.Release("ownerA")
	if got := m.OwnerActiveCount("ownerA"); got != 1 {
		t.Fatalf("expected 1 active for ownerA, got %d", got)
	}
}

func TestManager_SetConfig_PreservesActive(t *testing.T) {
	m := NewManager(Config{MaxConcurrency: 5})
	m.Acquire("")
	m.Acquire("")

	m.SetConfig(Config{MaxConcurrency: 2})
	if m.ActiveCount() != 2 {
		t.Fatalf("expected active count preserved, got %d", m.ActiveCount())
	}

	// Already at the new limit.
	if m.Acquire("") {
		t.Fatal("Acquire should fail at new max concurrency")
	}
}
