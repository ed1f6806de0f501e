// Package publisher wraps the external platform's publish call and
// classifies every outcome into exactly one of: success, retryable
// failure, or fatal failure. The classification — not the caller —
// decides whether the engine retries.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Request carries everything needed for one publish call. The credential
// fields are resolved at call time by the executor, never at trigger time.
type Request struct {
	// AuthorToken is the bearer token for the remote API.
	AuthorToken string

	// AuthorURN is the platform identity the post is authored as.
	AuthorURN string

	// ContentText is the post body.
	ContentText string
}

// Result is a successful publish outcome.
type Result struct {
	// ExternalID is the opaque post identifier assigned by the platform.
	ExternalID string `json:"external_id"`
}

// Adapter performs the external publish call.
//
// On failure it returns either *RetryableError or *FatalError; any other
// error is treated as retryable by the executor (unknown transport
// faults are the retryable class).
type Adapter interface {
	Publish(ctx context.Context, req Request) (*Result, error)
}

// AdapterFunc is an adapter to use a plain function as an Adapter.
type AdapterFunc func(ctx context.Context, req Request) (*Result, error)

func (f AdapterFunc) Publish(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

// ──────────────────────────────────────────────────
// Outcome classification
// ──────────────────────────────────────────────────

// FatalKind distinguishes fatal failure subtypes, since remediation
// differs: auth failures need a reconnected credential, content failures
// need the item edited.
type FatalKind string

const (
	// FatalAuth means the credential was rejected (expired/revoked).
	FatalAuth FatalKind = "auth"
	// FatalContent means the platform rejected the content itself.
	FatalContent FatalKind = "content"
)

// RetryableError is a transient publish failure: rate limiting,
// upstream unavailability, or transport/timeout faults.
type RetryableError struct {
	Reason string
	// StatusCode is the HTTP status that produced this error, or zero
	// for transport-level faults.
	StatusCode int
}

func (e *RetryableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("publisher: retryable (%d): %s", e.StatusCode, e.Reason)
	}
	return "publisher: retryable: " + e.Reason
}

// FatalError is a permanent publish failure. The run fails without
// further attempts.
type FatalError struct {
	Kind       FatalKind
	Reason     string
	StatusCode int
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("publisher: fatal (%s): %s", e.Kind, e.Reason)
}

// IsRetryable reports whether err classifies as a retryable failure.
// Unclassified errors are retryable: an unknown fault must not burn the
// run permanently.
func IsRetryable(err error) bool {
	var fatal *FatalError
	return err != nil && !errors.As(err, &fatal)
}

// AsFatal returns the FatalError wrapped in err, or nil.
func AsFatal(err error) *FatalError {
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return fatal
	}
	return nil
}

// Classify maps an HTTP response status to the failure taxonomy:
// 401/403 → fatal auth, 429 → retryable rate limit, remaining 4xx →
// fatal content, 5xx → retryable server error. Success statuses return nil.
func Classify(statusCode int, reason string) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &FatalError{Kind: FatalAuth, Reason: reason, StatusCode: statusCode}
	case statusCode == http.StatusTooManyRequests:
		return &RetryableError{Reason: reason, StatusCode: statusCode}
	case statusCode >= 400 && statusCode < 500:
		return &FatalError{Kind: FatalContent, Reason: reason, StatusCode: statusCode}
	default:
		return &RetryableError{Reason: reason, StatusCode: statusCode}
	}
}
