// Package queue provides the producer-facing API: add jobs to a named
// backlog and inspect its delayed and waiting sets.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BinderPOS/bullmq"
	"github.com/BinderPOS/bullmq/events"
	"github.com/BinderPOS/bullmq/job"
	"github.com/BinderPOS/bullmq/repeat"
	"github.com/BinderPOS/bullmq/store"
)

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// Queue is a producer handle on a named backlog. Every Queue, Scheduler,
// Worker, and event Channel sharing a name through the same store operates
// against the same logical backlog.
type Queue struct {
	store  store.Store
	name   string
	logger *slog.Logger
}

// New creates a producer handle for the named queue.
func New(s store.Store, name string, opts ...Option) *Queue {
	q := &Queue{
		store:  s,
		name:   name,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Add enqueues a job. With a positive delay the job lands in the delayed
// index and a delayed event is published before Add returns; otherwise it
// lands directly in the wait lane and a waiting event is published. The
// returned Job carries the store-assigned ID and echoes the options back.
func (q *Queue) Add(ctx context.Context, name string, payload json.RawMessage, opts ...job.Option) (*job.Job, error) {
	if q.store == nil {
		return nil, bullmq.ErrNoStore
	}
	if q.name == "" {
		return nil, bullmq.ErrEmptyQueueName
	}

	o := job.DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Delay < 0 {
		return nil, bullmq.ErrInvalidDelay
	}
	if o.MaxAttempts < 1 {
		return nil, bullmq.ErrInvalidAttempts
	}

	now := time.Now().UTC()
	ts := o.Timestamp
	if ts.IsZero() {
		ts = now
	}
	delay := o.Delay

	if o.RepeatSpec != "" {
		if _, err := repeat.Parse(o.RepeatSpec); err != nil {
			return nil, fmt.Errorf("%w: %v", bullmq.ErrInvalidRepeat, err)
		}
		// A repeatable add without an explicit delay starts at the first
		// occurrence of its schedule.
		if delay == 0 {
			next, err := repeat.Next(o.RepeatSpec, now)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", bullmq.ErrInvalidRepeat, err)
			}
			delay = next.Sub(ts)
		}
	}

	j := &job.Job{
		Name:        name,
		Queue:       q.name,
		Payload:     payload,
		Delay:       delay,
		Timestamp:   ts,
		DueAt:       ts.Add(delay),
		MaxAttempts: o.MaxAttempts,
		Timeout:     o.Timeout,
		RepeatSpec:  o.RepeatSpec,
		CreatedAt:   now,
	}

	if err := q.store.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("queue %q: add: %w", q.name, err)
	}

	var evt *events.Event
	if j.State == job.StateDelayed {
		evt = events.NewDelayed(j)
	} else {
		evt = events.NewWaiting(j)
	}
	if err := q.store.PublishEvent(ctx, q.name, evt); err != nil {
		return nil, fmt.Errorf("queue %q: publish %s: %w", q.name, evt.Type, err)
	}

	q.logger.Debug("job added",
		slog.String("queue", q.name),
		slog.String("job_name", name),
		slog.Uint64("job_id", j.ID),
		slog.String("state", string(j.State)),
		slog.Duration("delay", delay),
	)
	return j, nil
}

// GetWaiting returns a consistent snapshot of the wait lane, FIFO order.
func (q *Queue) GetWaiting(ctx context.Context) ([]*job.Job, error) {
	return q.store.GetWaiting(ctx, q.name)
}

// GetDelayed returns a consistent snapshot of the delayed index, ordered
// by due time then creation sequence.
func (q *Queue) GetDelayed(ctx context.Context) ([]*job.Job, error) {
	return q.store.GetDelayed(ctx, q.name)
}

// GetJob retrieves a single job by ID.
func (q *Queue) GetJob(ctx context.Context, id uint64) (*job.Job, error) {
	return q.store.GetJob(ctx, q.name, id)
}

// Counts tallies jobs per state.
func (q *Queue) Counts(ctx context.Context) (map[job.State]int, error) {
	return q.store.Counts(ctx, q.name)
}

// Clean removes terminal jobs that finished more than olderThan ago.
func (q *Queue) Clean(ctx context.Context, olderThan time.Duration) (int, error) {
	return q.store.CleanFinished(ctx, q.name, olderThan)
}
