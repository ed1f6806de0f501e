package limiter

import (
	"golang.org/x/time/rate"
)

// OwnerConfig defines rate limits and concurrency for a specific owner.
// Remote platforms throttle per authenticated member, so limits here
// should track the platform's documented per-member quotas.
type OwnerConfig struct {
	// OwnerID is the item owner the limits apply to.
	OwnerID string

	// RateLimit is the sustained publish attempts per second for this owner.
	RateLimit float64

	// RateBurst is the burst size for the owner's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous publish attempts for this owner.
	// Zero means no owner-specific concurrency limit.
	MaxConcurrency int
}

// ownerState tracks runtime state for a single owner.
type ownerState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

// SetOwnerConfig configures rate limits and concurrency for a specific
// owner. Calling this multiple times for the same owner replaces the
// previous configuration.
func (m *Manager) SetOwnerConfig(cfg OwnerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.owners[cfg.OwnerID]

	os := &ownerState{
		maxConcurrency: cfg.MaxConcurrency,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		os.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	// Preserve current active count if reconfiguring.
	if existing != nil {
		os.active = existing.active
	}
	m.owners[cfg.OwnerID] = os
}

// OwnerActiveCount returns the current number of active publish attempts
// for an owner.
func (m *Manager) OwnerActiveCount(ownerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if os := m.owners[ownerID]; os != nil {
		return os.active
	}
	return 0
}
