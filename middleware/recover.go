package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/BinderPOS/bullmq/job"
)

// Recover returns middleware that recovers from panics in the handler
// chain. Panics become ordinary handler errors, so a panicking handler
// fails the job instead of crashing the worker loop.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (ret json.RawMessage, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("job handler panicked",
					slog.String("job_name", j.Name),
					slog.Uint64("job_id", j.ID),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				ret = nil
				retErr = fmt.Errorf("panic in job %s: %v", j.Name, r)
			}
		}()
		return next(ctx)
	}
}
