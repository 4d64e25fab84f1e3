// Package scheduler drives promotion of due delayed jobs into the wait
// lane, reclaims stalled jobs whose worker lease expired, and sweeps
// finished jobs past their retention age.
//
// Any number of schedulers may run concurrently against the same queue
// for availability. No leader election is involved: the store's
// PromoteDue primitive is atomic, so at most one instance promotes any
// given job and the others observe a no-op.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BinderPOS/bullmq"
	"github.com/BinderPOS/bullmq/events"
	"github.com/BinderPOS/bullmq/job"
	"github.com/BinderPOS/bullmq/repeat"
	"github.com/BinderPOS/bullmq/store"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPollInterval sets the safety-net polling interval: the longest the
// scheduler will sleep even when no delayed job is known to be due.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.pollInterval = d }
}

// WithStalledInterval sets how often expired worker leases are reclaimed
// and, when retention is configured, finished jobs are swept.
func WithStalledInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.stalledInterval = d }
}

// WithRetention sets how long terminal jobs are kept before the sweep
// removes them. Zero keeps them forever.
func WithRetention(d time.Duration) Option {
	return func(s *Scheduler) { s.retention = d }
}

// WithRetryBackoff sets the pause after a transient store error before
// the affected loop tries again.
func WithRetryBackoff(d time.Duration) Option {
	return func(s *Scheduler) { s.retryBackoff = d }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler promotes due jobs for a single queue. One promotion pass is
// single-threaded; concurrency safety across instances lives in the store.
type Scheduler struct {
	store  store.Store
	queue  string
	logger *slog.Logger

	pollInterval    time.Duration
	stalledInterval time.Duration
	retention       time.Duration
	retryBackoff    time.Duration

	sub   events.Subscription
	ready chan struct{}
	// wake is nudged when a delayed event may carry an earlier due time
	// than the pending sleep, bounding promotion latency by the event
	// delivery delay instead of the poll interval.
	wake chan struct{}

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool
}

// New creates a Scheduler for the named queue. Call Start to begin.
func New(s store.Store, queueName string, opts ...Option) *Scheduler {
	sc := &Scheduler{
		store:           s,
		queue:           queueName,
		logger:          slog.Default(),
		pollInterval:    5 * time.Second,
		stalledInterval: 30 * time.Second,
		retryBackoff:    time.Second,
		ready:           make(chan struct{}),
		wake:            make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

// Start connects to the store and launches the promotion and stalled
// loops. Connection failures are transient: Start returns immediately and
// the connect attempt retries with backoff until it succeeds or the
// scheduler is closed. Use WaitUntilReady to block until connected.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.closed.Load() {
		return bullmq.ErrStoreClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	s.wg.Add(1)
	go s.connect(ctx)
	return nil
}

// connect establishes the store session, then launches the work loops.
func (s *Scheduler) connect(ctx context.Context) {
	defer s.wg.Done()

	for {
		err := s.store.Ping(ctx)
		if err == nil {
			var sub events.Subscription
			sub, err = s.store.SubscribeEvents(ctx, s.queue)
			if err == nil {
				s.sub = sub
				close(s.ready)

				s.wg.Add(3)
				go s.promoteLoop()
				go s.watchLoop()
				go s.stalledLoop()

				s.logger.Info("scheduler started",
					slog.String("queue", s.queue),
					slog.Duration("poll_interval", s.pollInterval),
				)
				return
			}
		}

		s.logger.Warn("scheduler connect failed, retrying",
			slog.String("queue", s.queue),
			slog.String("error", err.Error()),
		)
		if !s.pause(s.retryBackoff) {
			return
		}
	}
}

// WaitUntilReady blocks until the store session is established or ctx is
// done. Callers use it to avoid adding jobs before any promoter is live.
func (s *Scheduler) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the loops, lets the in-flight pass finish, and releases the
// event subscription. Idempotent; concurrent calls do not double-release.
func (s *Scheduler) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.stopCh)
	s.wg.Wait()
	if s.sub != nil {
		if err := s.sub.Close(); err != nil {
			s.logger.Warn("scheduler subscription close",
				slog.String("queue", s.queue),
				slog.String("error", err.Error()),
			)
		}
	}
	s.logger.Info("scheduler stopped", slog.String("queue", s.queue))
	return nil
}

// promoteLoop drains due jobs, then sleeps until the earlier of the next
// due time and the poll interval. A wake nudge cuts the sleep short.
func (s *Scheduler) promoteLoop() {
	defer s.wg.Done()

	ctx := context.Background()
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		s.promotePass(ctx)

		sleep := s.pollInterval
		next, ok, err := s.store.NextDue(ctx, s.queue)
		if err != nil {
			s.logger.Warn("next due lookup failed",
				slog.String("queue", s.queue),
				slog.String("error", err.Error()),
			)
			sleep = s.retryBackoff
		} else if ok {
			if until := time.Until(next); until < sleep {
				if until <= 0 {
					continue // became due between pass and peek
				}
				sleep = until
			}
		}

		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
		case <-s.wake:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}

// promotePass promotes every currently due job, in (DueAt, ID) order,
// publishing a waiting event per promotion.
func (s *Scheduler) promotePass(ctx context.Context) {
	for {
		now := time.Now().UTC()
		j, err := s.store.PromoteDue(ctx, s.queue, now)
		if errors.Is(err, bullmq.ErrNoJobDue) {
			return
		}
		if err != nil {
			s.logger.Warn("promote failed, backing off",
				slog.String("queue", s.queue),
				slog.String("error", err.Error()),
			)
			s.pause(s.retryBackoff)
			return
		}
		if j.DueAt.After(now) {
			// Broken store atomicity. Do not continue silently.
			s.logger.Error("promotion returned a job that is not yet due",
				slog.String("queue", s.queue),
				slog.Uint64("job_id", j.ID),
				slog.Time("due_at", j.DueAt),
				slog.Time("now", now),
				slog.String("error", bullmq.ErrPromotionOrder.Error()),
			)
			return
		}

		s.publish(ctx, events.NewWaiting(j))

		if j.RepeatSpec != "" {
			s.enqueueNextOccurrence(ctx, j, now)
		}
	}
}

// enqueueNextOccurrence adds a fresh delayed job for the next activation
// of a repeatable job's schedule.
func (s *Scheduler) enqueueNextOccurrence(ctx context.Context, j *job.Job, now time.Time) {
	next, err := repeat.Next(j.RepeatSpec, now)
	if err != nil {
		s.logger.Error("repeat schedule parse failed",
			slog.String("queue", s.queue),
			slog.Uint64("job_id", j.ID),
			slog.String("spec", j.RepeatSpec),
			slog.String("error", err.Error()),
		)
		return
	}

	nj := &job.Job{
		Name:        j.Name,
		Queue:       j.Queue,
		Payload:     j.Payload,
		Delay:       next.Sub(now),
		Timestamp:   now,
		DueAt:       next,
		MaxAttempts: j.MaxAttempts,
		Timeout:     j.Timeout,
		RepeatSpec:  j.RepeatSpec,
		CreatedAt:   now,
	}
	if err := s.store.CreateJob(ctx, nj); err != nil {
		s.logger.Error("repeat enqueue failed",
			slog.String("queue", s.queue),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	s.publish(ctx, events.NewDelayed(nj))
}

// watchLoop reads the queue's event feed and nudges the promotion loop
// when a newly delayed job may be due earlier than the pending sleep.
func (s *Scheduler) watchLoop() {
	defer s.wg.Done()

	for {
		select {
		case evt, ok := <-s.sub.C():
			if !ok {
				return
			}
			if evt.Type != events.TypeDelayed && evt.Type != events.TypeRetrying {
				continue
			}
			select {
			case s.wake <- struct{}{}:
			default:
			}
		case <-s.stopCh:
			return
		}
	}
}

// stalledLoop reclaims expired leases and sweeps finished jobs.
func (s *Scheduler) stalledLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.stalledInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.reclaimStalled()
			s.sweepFinished()
		}
	}
}

func (s *Scheduler) reclaimStalled() {
	ctx := context.Background()
	stalled, err := s.store.ReclaimStalled(ctx, s.queue, time.Now().UTC())
	if err != nil {
		s.logger.Warn("stalled reclaim failed",
			slog.String("queue", s.queue),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, j := range stalled {
		s.logger.Info("reclaimed stalled job",
			slog.String("queue", s.queue),
			slog.Uint64("job_id", j.ID),
		)
		s.publish(ctx, events.NewStalled(j))
		s.publish(ctx, events.NewWaiting(j))
	}
}

func (s *Scheduler) sweepFinished() {
	if s.retention <= 0 {
		return
	}
	removed, err := s.store.CleanFinished(context.Background(), s.queue, s.retention)
	if err != nil {
		s.logger.Warn("retention sweep failed",
			slog.String("queue", s.queue),
			slog.String("error", err.Error()),
		)
		return
	}
	if removed > 0 {
		s.logger.Debug("retention sweep removed finished jobs",
			slog.String("queue", s.queue),
			slog.Int("removed", removed),
		)
	}
}

// publish sends a lifecycle event, logging delivery failures.
func (s *Scheduler) publish(ctx context.Context, evt *events.Event) {
	if err := s.store.PublishEvent(ctx, s.queue, evt); err != nil {
		s.logger.Warn("event publish failed",
			slog.String("queue", s.queue),
			slog.String("type", string(evt.Type)),
			slog.Uint64("job_id", evt.JobID),
			slog.String("error", err.Error()),
		)
	}
}

// pause sleeps for d, returning false if the scheduler stopped first.
func (s *Scheduler) pause(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-s.stopCh:
		return false
	}
}
