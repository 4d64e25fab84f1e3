// Package middleware provides composable middleware for job execution.
// Middleware wraps handler calls synchronously and can modify execution
// (recover from panics, log, enforce deadlines, add tracing).
package middleware

import (
	"context"
	"encoding/json"

	"github.com/BinderPOS/bullmq/job"
)

// Handler is the terminal function that executes job logic and returns
// the value recorded on the job when it completes.
type Handler func(ctx context.Context) (json.RawMessage, error)

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the job being executed, and the next handler to call.
// Middleware MUST call next to continue the chain unless short-circuiting
// on error.
type Middleware func(ctx context.Context, j *job.Job, next Handler) (json.RawMessage, error)

// Chain composes multiple middleware into a single Middleware. Middleware
// apply right-to-left: the first in the list is the outermost wrapper.
//
// Example: Chain(logging, recover, tracing) executes as:
//
//	logging → recover → tracing → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (json.RawMessage, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) (json.RawMessage, error) {
				return mw(ctx, j, prev)
			}
		}
		return h(ctx)
	}
}
