// Package memory implements store.Store entirely in memory. Safe for
// concurrent access. Intended for unit testing and development; nothing
// survives the process.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/BinderPOS/bullmq"
	"github.com/BinderPOS/bullmq/events"
	"github.com/BinderPOS/bullmq/job"
	"github.com/BinderPOS/bullmq/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// subscriberBuffer is the per-subscriber event buffer. Slow subscribers
// drop events rather than block publishers.
const subscriberBuffer = 256

// queueState holds all state for one logical queue. The owning Store's
// mutex guards every field, which is what makes each primitive atomic:
// no mutation is visible until the lock is released.
type queueState struct {
	seq  uint64
	jobs map[uint64]*job.Job

	// delayed is kept sorted by (DueAt, ID); wait is FIFO job IDs.
	delayed []*job.Job
	wait    []uint64

	subs map[uint64]*subscription
}

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu     sync.Mutex
	queues map[string]*queueState
	subSeq uint64
	closed bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{queues: make(map[string]*queueState)}
}

// queue returns the state for name, creating it on first use.
// Callers must hold s.mu.
func (s *Store) queue(name string) *queueState {
	qs, ok := s.queues[name]
	if !ok {
		qs = &queueState{
			jobs: make(map[uint64]*job.Job),
			subs: make(map[uint64]*subscription),
		}
		s.queues[name] = qs
	}
	return qs
}

// Ping reports whether the store is usable.
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return bullmq.ErrStoreClosed
	}
	return nil
}

// Close closes every live subscription and rejects further use.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, qs := range s.queues {
		for _, sub := range qs.subs {
			sub.shutdown()
		}
		qs.subs = make(map[uint64]*subscription)
	}
	return nil
}

// ──────────────────────────────────────────────────
// job.Store
// ──────────────────────────────────────────────────

// CreateJob assigns the next sequence ID and routes the job to the
// delayed index or the wait-lane tail in one atomic step.
func (s *Store) CreateJob(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return bullmq.ErrStoreClosed
	}

	qs := s.queue(j.Queue)
	qs.seq++
	j.ID = qs.seq

	if j.Delay > 0 {
		j.State = job.StateDelayed
	} else {
		j.State = job.StateWaiting
	}

	cp := *j
	qs.jobs[cp.ID] = &cp
	if cp.State == job.StateDelayed {
		qs.insertDelayed(&cp)
	} else {
		qs.wait = append(qs.wait, cp.ID)
	}
	return nil
}

// insertDelayed keeps the delayed index sorted by (DueAt, ID).
func (qs *queueState) insertDelayed(j *job.Job) {
	i := sort.Search(len(qs.delayed), func(i int) bool {
		d := qs.delayed[i]
		if !d.DueAt.Equal(j.DueAt) {
			return d.DueAt.After(j.DueAt)
		}
		return d.ID > j.ID
	})
	qs.delayed = append(qs.delayed, nil)
	copy(qs.delayed[i+1:], qs.delayed[i:])
	qs.delayed[i] = j
}

// removeDelayed drops the entry with the given ID, if present.
func (qs *queueState) removeDelayed(id uint64) {
	for i, d := range qs.delayed {
		if d.ID == id {
			qs.delayed = append(qs.delayed[:i], qs.delayed[i+1:]...)
			return
		}
	}
}

// GetJob retrieves a job by queue and ID.
func (s *Store) GetJob(_ context.Context, queue string, id uint64) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.queue(queue).jobs[id]
	if !ok {
		return nil, bullmq.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// GetWaiting returns the wait lane in FIFO order.
func (s *Store) GetWaiting(_ context.Context, queue string) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs := s.queue(queue)
	out := make([]*job.Job, 0, len(qs.wait))
	for _, id := range qs.wait {
		if j, ok := qs.jobs[id]; ok {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

// GetDelayed returns the delayed index ordered by (DueAt, ID).
func (s *Store) GetDelayed(_ context.Context, queue string) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs := s.queue(queue)
	out := make([]*job.Job, 0, len(qs.delayed))
	for _, j := range qs.delayed {
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

// NextDue returns the due time of the minimum delayed entry.
func (s *Store) NextDue(_ context.Context, queue string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs := s.queue(queue)
	if len(qs.delayed) == 0 {
		return time.Time{}, false, nil
	}
	return qs.delayed[0].DueAt, true, nil
}

// PromoteDue atomically moves the minimum due entry to the wait lane.
func (s *Store) PromoteDue(_ context.Context, queue string, now time.Time) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs := s.queue(queue)
	if len(qs.delayed) == 0 {
		return nil, bullmq.ErrNoJobDue
	}
	head := qs.delayed[0]
	if head.DueAt.After(now) {
		return nil, bullmq.ErrNoJobDue
	}

	qs.delayed = qs.delayed[1:]
	head.State = job.StateWaiting
	qs.wait = append(qs.wait, head.ID)

	cp := *head
	return &cp, nil
}

// ClaimNext pops the wait-lane head and marks it active with a lease.
func (s *Store) ClaimNext(_ context.Context, queue, workerID string, lease time.Duration) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs := s.queue(queue)
	for len(qs.wait) > 0 {
		id := qs.wait[0]
		qs.wait = qs.wait[1:]
		j, ok := qs.jobs[id]
		if !ok {
			continue // removed while waiting
		}
		now := time.Now().UTC()
		j.State = job.StateActive
		j.WorkerID = workerID
		j.LeaseUntil = now.Add(lease)
		if j.ProcessedAt == nil {
			p := now
			j.ProcessedAt = &p
		}
		cp := *j
		return &cp, nil
	}
	return nil, bullmq.ErrNoJobWaiting
}

// CompleteJob moves an active job to completed.
func (s *Store) CompleteJob(_ context.Context, queue string, id uint64, returnValue json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.queue(queue).jobs[id]
	if !ok {
		return bullmq.ErrJobNotFound
	}
	if j.State != job.StateActive {
		return bullmq.ErrInvalidState
	}
	now := time.Now().UTC()
	j.State = job.StateCompleted
	j.ReturnValue = returnValue
	j.FinishedAt = &now
	j.WorkerID = ""
	j.LeaseUntil = time.Time{}
	return nil
}

// FailJob moves an active job to failed.
func (s *Store) FailJob(_ context.Context, queue string, id uint64, attemptsMade int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.queue(queue).jobs[id]
	if !ok {
		return bullmq.ErrJobNotFound
	}
	if j.State != job.StateActive {
		return bullmq.ErrInvalidState
	}
	now := time.Now().UTC()
	j.State = job.StateFailed
	j.AttemptsMade = attemptsMade
	j.FailedReason = reason
	j.FinishedAt = &now
	j.WorkerID = ""
	j.LeaseUntil = time.Time{}
	return nil
}

// RetryJob releases an active job for another attempt.
func (s *Store) RetryJob(_ context.Context, queue string, id uint64, attemptsMade int, dueAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs := s.queue(queue)
	j, ok := qs.jobs[id]
	if !ok {
		return bullmq.ErrJobNotFound
	}
	if j.State != job.StateActive {
		return bullmq.ErrInvalidState
	}

	j.AttemptsMade = attemptsMade
	j.WorkerID = ""
	j.LeaseUntil = time.Time{}
	if dueAt.After(time.Now().UTC()) {
		j.State = job.StateDelayed
		j.DueAt = dueAt
		qs.insertDelayed(j)
	} else {
		j.State = job.StateWaiting
		qs.wait = append(qs.wait, j.ID)
	}
	return nil
}

// ReclaimStalled moves active jobs with expired leases back to waiting.
func (s *Store) ReclaimStalled(_ context.Context, queue string, now time.Time) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs := s.queue(queue)
	var stalled []*job.Job
	ids := make([]uint64, 0, len(qs.jobs))
	for id := range qs.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, k int) bool { return ids[i] < ids[k] })

	for _, id := range ids {
		j := qs.jobs[id]
		if j.State != job.StateActive || j.LeaseUntil.After(now) {
			continue
		}
		j.State = job.StateWaiting
		j.WorkerID = ""
		j.LeaseUntil = time.Time{}
		qs.wait = append(qs.wait, j.ID)
		cp := *j
		stalled = append(stalled, &cp)
	}
	return stalled, nil
}

// CleanFinished removes terminal jobs that finished before the cutoff.
func (s *Store) CleanFinished(_ context.Context, queue string, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs := s.queue(queue)
	cutoff := time.Now().UTC().Add(-olderThan)
	removed := 0
	for id, j := range qs.jobs {
		if !j.State.Terminal() {
			continue
		}
		if j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(qs.jobs, id)
			removed++
		}
	}
	return removed, nil
}

// Counts tallies jobs per state.
func (s *Store) Counts(_ context.Context, queue string) (map[job.State]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[job.State]int)
	for _, j := range s.queue(queue).jobs {
		counts[j.State]++
	}
	return counts, nil
}

// ──────────────────────────────────────────────────
// events.Bus
// ──────────────────────────────────────────────────

// subscription is one in-process attachment to a queue's event channel.
type subscription struct {
	id    uint64
	ch    chan *events.Event
	once  sync.Once
	store *Store
	queue string
}

func (sub *subscription) C() <-chan *events.Event { return sub.ch }

// Close detaches the subscription. Safe to call multiple times.
func (sub *subscription) Close() error {
	sub.store.mu.Lock()
	delete(sub.store.queue(sub.queue).subs, sub.id)
	sub.store.mu.Unlock()
	sub.shutdown()
	return nil
}

// shutdown closes the channel exactly once. Callers must have already
// removed the subscription from the registry (or hold the store lock).
func (sub *subscription) shutdown() {
	sub.once.Do(func() { close(sub.ch) })
}

// PublishEvent delivers evt to every current subscriber of queue, in
// publish order. Subscribers with a full buffer miss the event rather
// than blocking the publisher.
func (s *Store) PublishEvent(_ context.Context, queue string, evt *events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return bullmq.ErrStoreClosed
	}

	qs := s.queue(queue)
	for _, sub := range qs.subs {
		select {
		case sub.ch <- evt:
		default:
		}
	}
	return nil
}

// SubscribeEvents attaches a new subscriber to queue.
func (s *Store) SubscribeEvents(_ context.Context, queue string) (events.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, bullmq.ErrStoreClosed
	}

	s.subSeq++
	sub := &subscription{
		id:    s.subSeq,
		ch:    make(chan *events.Event, subscriberBuffer),
		store: s,
		queue: queue,
	}
	s.queue(queue).subs[sub.id] = sub
	return sub, nil
}
