package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/mo-hossam-stack/slate/run"
)

// Timeout returns middleware that enforces an execution deadline on each
// run handler call. When the deadline is exceeded the context is cancelled
// and the handler should return context.DeadlineExceeded. A zero duration
// disables the deadline.
func Timeout(logger *slog.Logger, d time.Duration) Middleware {
	return func(ctx context.Context, r *run.Run, next Handler) error {
		if d > 0 {
			logger.Debug("run deadline set",
				slog.String("run_key", r.Key),
				slog.Duration("timeout", d),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
