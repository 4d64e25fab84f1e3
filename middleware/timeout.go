package middleware

import (
	"context"
	"encoding/json"

	"github.com/BinderPOS/bullmq/job"
)

// Timeout returns middleware that enforces a per-job execution deadline.
// If the job has a non-zero Timeout, a context.WithTimeout wraps the
// handler call; when the deadline passes the context is cancelled and the
// handler should return context.DeadlineExceeded.
func Timeout() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (json.RawMessage, error) {
		if j.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, j.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
