// Package backoff provides the retry delay strategies and the explicit
// retry policy applied to the publish step. All strategies are safe for
// concurrent use (they are stateless).
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * 2^(attempt-1), Max)].
// This prevents thundering herd against shared remote rate limits when
// many scheduled publications retry simultaneously.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ──────────────────────────────────────────────────
// Policy
// ──────────────────────────────────────────────────

// Policy is the complete retry contract for the publish step, owned by
// this engine rather than inherited from a remote client's defaults so
// behaviour is testable and reproducible offline.
type Policy struct {
	// MaxAttempts is the total number of publish invocations allowed,
	// including the first. A retryable failure on the final attempt is
	// terminal.
	MaxAttempts int

	// Timeout is the per-attempt deadline. Exceeding it is classified
	// as a retryable (network/timeout class) failure.
	Timeout time.Duration

	// Strategy computes the delay between attempts.
	Strategy Strategy
}

// DefaultPolicy returns the default publish retry policy: 3 attempts,
// exponential backoff doubling from 1s, 5 minute per-attempt timeout.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Timeout:     5 * time.Minute,
		Strategy:    NewExponential(1*time.Second, 1*time.Minute),
	}
}

// Exhausted reports whether the given attempt count has consumed the
// policy's attempt budget.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Delay returns the backoff delay after the given failed attempt (1-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	if p.Strategy == nil {
		return 0
	}
	return p.Strategy.Delay(attempt)
}
