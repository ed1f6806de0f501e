package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/mo-hossam-stack/slate/run"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, r *run.Run, next Handler) (retErr error) {
		defer func() {
			if rec := recover(); rec != nil {
				stack := string(debug.Stack())
				logger.Error("run handler panicked",
					slog.String("run_key", r.Key),
					slog.String("item_id", r.ItemID),
					slog.Any("panic", rec),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic in run %s: %v", r.Key, rec)
			}
		}()
		return next(ctx)
	}
}
