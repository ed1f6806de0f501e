package limiter

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines the global publishing limits that apply across all owners.
type Config struct {
	// MaxConcurrency limits how many publish attempts may run
	// simultaneously across the local dispatcher. Zero means no global
	// limit (dispatcher concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained publish attempts per second.
	// Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// globalState tracks runtime state for the global limit.
type globalState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager controls global and per-owner publish rate limiting and
// concurrency. It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	global *globalState
	owners map[string]*ownerState
}

// NewManager creates a Manager with the given global configuration.
// A zero Config imposes no global limits.
func NewManager(cfg Config) *Manager {
	return &Manager{
		global: newGlobalState(cfg),
		owners: make(map[string]*ownerState),
	}
}

func newGlobalState(cfg Config) *globalState {
	gs := &globalState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		gs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return gs
}

// Acquire checks rate limits and concurrency globally and for the given
// owner. If the publish attempt is allowed to proceed it increments the
// active counters and returns true. The caller MUST call Release when
// the attempt completes.
func (m *Manager) Acquire(ownerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check global constraints.
	if m.global.limiter != nil && !m.global.limiter.Allow() {
		return false
	}
	if m.global.config.MaxConcurrency > 0 && m.global.active >= m.global.config.MaxConcurrency {
		return false
	}

	// Check owner-level constraints.
	if ownerID != "" {
		os := m.owners[ownerID]
		if os != nil {
			if os.limiter != nil && !os.limiter.Allow() {
				return false
			}
			if os.maxConcurrency > 0 && os.active >= os.maxConcurrency {
				return false
			}
			os.active++
		}
	}

	m.global.active++
	return true
}

// Release decrements the active attempt count globally and for the owner.
func (m *Manager) Release(ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.global.active > 0 {
		m.global.active--
	}

	if ownerID != "" {
		if os := m.owners[ownerID]; os != nil && os.active > 0 {
			os.active--
		}
	}
}

// SetConfig dynamically replaces the global configuration.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gs := newGlobalState(cfg)
	gs.active = m.global.active
	m.global = gs
}

// ActiveCount returns the current number of active publish attempts.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.global.active
}
