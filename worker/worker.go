// Package worker provides the consumer side of a queue: a pool of
// goroutines that claim jobs from the wait lane, execute the registered
// processor through middleware, and record the outcome.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/BinderPOS/bullmq"
	"github.com/BinderPOS/bullmq/backoff"
	"github.com/BinderPOS/bullmq/events"
	"github.com/BinderPOS/bullmq/job"
	"github.com/BinderPOS/bullmq/middleware"
	"github.com/BinderPOS/bullmq/store"
)

// Processor is the user-supplied job handler. The returned value is
// recorded on the job and carried by its completed event. Errors never
// crash the worker loop; they feed the retry-or-fail policy.
type Processor func(ctx context.Context, j *job.Job) (json.RawMessage, error)

// CompletedFunc observes successful jobs.
type CompletedFunc func(j *job.Job, returnValue json.RawMessage)

// FailedFunc observes jobs whose attempts are exhausted. Observational
// only: it cannot affect queue state.
type FailedFunc func(j *job.Job, err error)

// Option configures a Worker.
type Option func(*Worker)

// WithConcurrency sets the number of concurrent claim loops.
func WithConcurrency(n int) Option {
	return func(w *Worker) { w.concurrency = n }
}

// WithPollInterval sets how long a claim loop sleeps when the wait lane
// is empty.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) { w.pollInterval = d }
}

// WithLease sets the claim lease duration. A job still unresolved when
// its lease expires counts as stalled and is reclaimed by the scheduler.
func WithLease(d time.Duration) Option {
	return func(w *Worker) { w.lease = d }
}

// WithBackoff sets the retry delay strategy applied after failed attempts.
func WithBackoff(s backoff.Strategy) Option {
	return func(w *Worker) { w.backoff = s }
}

// WithRateLimit caps sustained job starts per second with the given
// burst, using a token bucket shared by all claim loops.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(w *Worker) {
		if burst <= 0 {
			burst = 1
		}
		w.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithMiddleware sets the middleware chain wrapped around the processor.
// Middleware apply left-to-right: the first is the outermost wrapper.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(w *Worker) { w.mw = middleware.Chain(mws...) }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// Worker consumes one queue's wait lane. Multiple workers on the same
// queue may run in the same or different processes; the store's ClaimNext
// primitive guarantees no two of them claim the same job.
type Worker struct {
	store     store.Store
	queue     string
	processor Processor
	logger    *slog.Logger

	concurrency  int
	pollInterval time.Duration
	lease        time.Duration
	backoff      backoff.Strategy
	limiter      *rate.Limiter
	mw           middleware.Middleware
	workerID     string

	cbMu        sync.RWMutex
	onCompleted []CompletedFunc
	onFailed    []FailedFunc

	ready   chan struct{}
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool
}

// New creates a Worker for the named queue. Call Start to begin claiming.
func New(s store.Store, queueName string, p Processor, opts ...Option) (*Worker, error) {
	if s == nil {
		return nil, bullmq.ErrNoStore
	}
	if p == nil {
		return nil, bullmq.ErrMissingHandler
	}
	w := &Worker{
		store:        s,
		queue:        queueName,
		processor:    p,
		logger:       slog.Default(),
		concurrency:  1,
		pollInterval: 250 * time.Millisecond,
		lease:        30 * time.Second,
		backoff:      backoff.Default(),
		mw:           middleware.Chain(),
		workerID:     uuid.NewString(),
		ready:        make(chan struct{}),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// ID returns the worker's unique identifier, recorded on claimed jobs.
func (w *Worker) ID() string { return w.workerID }

// OnCompleted registers an observer for successful jobs.
func (w *Worker) OnCompleted(fn CompletedFunc) {
	w.cbMu.Lock()
	w.onCompleted = append(w.onCompleted, fn)
	w.cbMu.Unlock()
}

// OnFailed registers an observer for jobs whose attempts are exhausted.
func (w *Worker) OnFailed(fn FailedFunc) {
	w.cbMu.Lock()
	w.onFailed = append(w.onFailed, fn)
	w.cbMu.Unlock()
}

// Start connects to the store and launches the claim loops. Connection
// failures retry with backoff until success or Close. Use WaitUntilReady
// to block until the worker is claiming.
func (w *Worker) Start(ctx context.Context) error {
	if w.closed.Load() {
		return bullmq.ErrStoreClosed
	}
	if !w.started.CompareAndSwap(false, true) {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel

	w.wg.Add(1)
	go w.connect(loopCtx)
	return nil
}

// connect waits for the store to answer, then launches the claim loops.
func (w *Worker) connect(ctx context.Context) {
	defer w.wg.Done()

	for {
		if err := w.store.Ping(ctx); err == nil {
			close(w.ready)
			for i := 0; i < w.concurrency; i++ {
				w.wg.Add(1)
				go w.claimLoop(ctx)
			}
			w.logger.Info("worker started",
				slog.String("queue", w.queue),
				slog.String("worker_id", w.workerID),
				slog.Int("concurrency", w.concurrency),
			)
			return
		} else {
			w.logger.Warn("worker connect failed, retrying",
				slog.String("queue", w.queue),
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-time.After(w.pollInterval):
		case <-w.stopCh:
			return
		}
	}
}

// WaitUntilReady blocks until the store session is established or ctx is
// done.
func (w *Worker) WaitUntilReady(ctx context.Context) error {
	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops claiming new jobs, waits for in-flight handler invocations
// to finish, and releases resources. Idempotent; concurrent calls do not
// double-release.
func (w *Worker) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(w.stopCh)
	w.wg.Wait()
	if w.cancel != nil {
		w.cancel()
	}
	w.logger.Info("worker stopped",
		slog.String("queue", w.queue),
		slog.String("worker_id", w.workerID),
	)
	return nil
}

// claimLoop repeatedly claims the wait-lane head and executes it. The
// loop drains its current job before honoring stop.
func (w *Worker) claimLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		if w.limiter != nil {
			if err := w.waitForToken(ctx); err != nil {
				return
			}
		}

		j, err := w.store.ClaimNext(ctx, w.queue, w.workerID, w.lease)
		if errors.Is(err, bullmq.ErrNoJobWaiting) {
			w.sleep()
			continue
		}
		if err != nil {
			w.logger.Warn("claim failed, backing off",
				slog.String("queue", w.queue),
				slog.String("error", err.Error()),
			)
			w.sleep()
			continue
		}

		w.publish(ctx, events.NewActive(j))
		w.execute(ctx, j)
	}
}

// waitForToken blocks on the rate limiter, aborting on stop.
func (w *Worker) waitForToken(ctx context.Context) error {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-waitCtx.Done():
		}
	}()
	return w.limiter.Wait(waitCtx)
}

func (w *Worker) sleep() {
	select {
	case <-time.After(w.pollInterval):
	case <-w.stopCh:
	}
}

// publish sends a lifecycle event, logging delivery failures.
func (w *Worker) publish(ctx context.Context, evt *events.Event) {
	if err := w.store.PublishEvent(ctx, w.queue, evt); err != nil {
		w.logger.Warn("event publish failed",
			slog.String("queue", w.queue),
			slog.String("type", string(evt.Type)),
			slog.Uint64("job_id", evt.JobID),
			slog.String("error", err.Error()),
		)
	}
}
