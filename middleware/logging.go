package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BinderPOS/bullmq/job"
)

// Logging returns middleware that logs each attempt's start and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (json.RawMessage, error) {
		logger.Info("job attempt started",
			slog.String("job_name", j.Name),
			slog.Uint64("job_id", j.ID),
			slog.String("queue", j.Queue),
			slog.Int("attempt", j.AttemptsMade+1),
		)

		start := time.Now()
		ret, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("job attempt failed",
				slog.String("job_name", j.Name),
				slog.Uint64("job_id", j.ID),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("job attempt completed",
				slog.String("job_name", j.Name),
				slog.Uint64("job_id", j.ID),
				slog.Duration("elapsed", elapsed),
			)
		}

		return ret, err
	}
}
