package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/mo-hossam-stack/slate/run"
)

// Logging returns middleware that logs run execution start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, r *run.Run, next Handler) error {
		logger.Info("run execution started",
			slog.String("run_key", r.Key),
			slog.String("item_id", r.ItemID),
			slog.String("state", string(r.State)),
			slog.Int("attempt", r.AttemptCount),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("run execution failed",
				slog.String("run_key", r.Key),
				slog.String("item_id", r.ItemID),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("run execution finished",
				slog.String("run_key", r.Key),
				slog.String("item_id", r.ItemID),
				slog.String("state", string(r.State)),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
