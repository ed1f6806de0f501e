// Package credential defines the read-only contract through which the
// engine obtains a bearer credential for an item owner at the moment of
// publishing. Token acquisition, refresh, and storage are owned by a
// collaborating system.
package credential

import (
	"context"
	"sync"
	"time"
)

// Credential is a bearer credential for the remote publishing platform.
// The engine never mutates or persists it.
type Credential struct {
	// Token is the bearer token presented to the remote API.
	Token string

	// MemberURN is the platform identity the post is authored as
	// (e.g. "urn:li:person:<uid>").
	MemberURN string

	// ExpiresAt is the token expiry, if known. Zero means unknown.
	ExpiresAt time.Time
}

// Expired reports whether the credential is known to be expired at t.
func (c Credential) Expired(t time.Time) bool {
	return !c.ExpiresAt.IsZero() && !t.Before(c.ExpiresAt)
}

// Provider resolves the current credential for an item owner.
//
// Implementations must return slate.ErrNotConnected when the owner has
// no linked publishing account. The engine reads through this interface
// at publish time, never earlier: credentials can expire or be revoked
// during the wait window, so caching a trigger-time read would be a
// correctness bug.
type Provider interface {
	GetCredential(ctx context.Context, ownerID string) (Credential, error)
}

// ProviderFunc is an adapter to use a plain function as a Provider.
type ProviderFunc func(ctx context.Context, ownerID string) (Credential, error)

func (f ProviderFunc) GetCredential(ctx context.Context, ownerID string) (Credential, error) {
	return f(ctx, ownerID)
}

// StaticProvider serves credentials from a fixed in-memory map.
// Intended for wiring examples and tests.
type StaticProvider struct {
	mu    sync.RWMutex
	creds map[string]Credential
	// notConnected is the error returned for unknown owners.
	notConnected error
}

// NewStaticProvider creates a StaticProvider. Owners absent from the map
// get notConnected (typically slate.ErrNotConnected).
func NewStaticProvider(creds map[string]Credential, notConnected error) *StaticProvider {
	copied := make(map[string]Credential, len(creds))
	for k, v := range creds {
		copied[k] = v
	}
	return &StaticProvider{creds: copied, notConnected: notConnected}
}

// GetCredential implements Provider.
func (p *StaticProvider) GetCredential(_ context.Context, ownerID string) (Credential, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.creds[ownerID]
	if !ok {
		return Credential{}, p.notConnected
	}
	return c, nil
}

// Set adds or replaces the credential for an owner.
func (p *StaticProvider) Set(ownerID string, c Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds[ownerID] = c
}

// Revoke removes the credential for an owner.
func (p *StaticProvider) Revoke(ownerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.creds, ownerID)
}
