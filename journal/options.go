package journal

import (
	"log/slog"
	"time"
)

// Option configures an Extension.
type Option func(*Extension)

// WithActions restricts the extension to record only the listed actions.
// By default all actions are enabled. Unknown actions are silently ignored.
//
// Example:
//
//	journal.New(store,
//	    journal.WithActions(
//	        journal.ActionStepCompleted,
//	        journal.ActionRunCompleted,
//	        journal.ActionRunFailed,
//	    ),
//	)
func WithActions(actions ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			e.enabled[a] = true
		}
	}
}

// WithLogger sets a custom logger for the extension.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Extension) { e.now = now }
}
