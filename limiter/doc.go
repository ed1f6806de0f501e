// Package limiter enforces publish rate limits and concurrency caps.
//
// Remote platforms throttle API calls both globally and per authenticated
// member. [Manager] gates publish attempts before they leave the
// dispatcher using a token-bucket rate limiter (golang.org/x/time/rate)
// and an active-count gate for concurrency.
//
//	m := limiter.NewManager(limiter.Config{RateLimit: 10, RateBurst: 20})
//	m.SetOwnerConfig(limiter.OwnerConfig{OwnerID: "42", RateLimit: 1})
//
//	if m.Acquire(ownerID) {
//	    defer m.Release(ownerID)
//	    // perform the publish attempt
//	}
//
// When Acquire returns false the dispatcher leaves the run claimed-free
// for a later poll rather than blocking a worker slot.
//
// Owners without an [OwnerConfig] are bounded only by the global limits.
package limiter
