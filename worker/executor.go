package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BinderPOS/bullmq/events"
	"github.com/BinderPOS/bullmq/job"
)

// execute runs one claimed job through the middleware chain and the
// processor, then records the outcome. Handler errors are contained here:
// they drive the retry-or-fail policy and are exposed only through the
// failed event and registered observers.
func (w *Worker) execute(ctx context.Context, j *job.Job) {
	terminal := func(ctx context.Context) (json.RawMessage, error) {
		return w.processor(ctx, j)
	}

	ret, err := w.mw(ctx, j, terminal)
	if err == nil {
		w.recordSuccess(ctx, j, ret)
		return
	}
	w.recordFailure(ctx, j, err)
}

// recordSuccess moves the job to completed and notifies observers.
func (w *Worker) recordSuccess(ctx context.Context, j *job.Job, ret json.RawMessage) {
	if err := w.store.CompleteJob(ctx, w.queue, j.ID, ret); err != nil {
		// The claim may have been reclaimed as stalled; the job will run
		// again elsewhere. At-least-once, not exactly-once.
		w.logger.Error("record completion failed",
			slog.String("queue", w.queue),
			slog.Uint64("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	now := time.Now().UTC()
	j.State = job.StateCompleted
	j.ReturnValue = ret
	j.FinishedAt = &now

	w.publish(ctx, events.NewCompleted(j, ret))

	w.cbMu.RLock()
	callbacks := make([]CompletedFunc, len(w.onCompleted))
	copy(callbacks, w.onCompleted)
	w.cbMu.RUnlock()
	for _, fn := range callbacks {
		fn(j, ret)
	}
}

// recordFailure applies the retry-or-fail policy for a failed attempt.
func (w *Worker) recordFailure(ctx context.Context, j *job.Job, handlerErr error) {
	attempts := j.AttemptsMade + 1

	if attempts < j.MaxAttempts {
		delay := w.backoff.Delay(attempts)
		dueAt := time.Now().UTC().Add(delay)

		if err := w.store.RetryJob(ctx, w.queue, j.ID, attempts, dueAt); err != nil {
			w.logger.Error("record retry failed",
				slog.String("queue", w.queue),
				slog.Uint64("job_id", j.ID),
				slog.String("error", err.Error()),
			)
			return
		}

		j.AttemptsMade = attempts
		w.publish(ctx, events.NewRetrying(j, attempts, dueAt))

		w.logger.Info("job attempt failed, retrying",
			slog.String("queue", w.queue),
			slog.Uint64("job_id", j.ID),
			slog.Int("attempt", attempts),
			slog.Int("max_attempts", j.MaxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", handlerErr.Error()),
		)
		return
	}

	if err := w.store.FailJob(ctx, w.queue, j.ID, attempts, handlerErr.Error()); err != nil {
		w.logger.Error("record failure failed",
			slog.String("queue", w.queue),
			slog.Uint64("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	now := time.Now().UTC()
	j.State = job.StateFailed
	j.AttemptsMade = attempts
	j.FailedReason = handlerErr.Error()
	j.FinishedAt = &now

	w.publish(ctx, events.NewFailed(j, handlerErr.Error()))

	w.cbMu.RLock()
	callbacks := make([]FailedFunc, len(w.onFailed))
	copy(callbacks, w.onFailed)
	w.cbMu.RUnlock()
	for _, fn := range callbacks {
		fn(j, handlerErr)
	}

	w.logger.Warn("job failed after exhausting attempts",
		slog.String("queue", w.queue),
		slog.Uint64("job_id", j.ID),
		slog.Int("attempts", attempts),
		slog.String("error", handlerErr.Error()),
	)
}
