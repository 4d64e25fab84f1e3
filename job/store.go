package job

import (
	"context"
	"encoding/json"
	"time"
)

// Store defines the persistence contract for jobs. Every method is atomic
// and linearizable with respect to the others for a given queue: that is
// what makes concurrent producers, schedulers, and workers safe without
// any coordination protocol in application code.
type Store interface {
	// CreateJob assigns j.ID from the queue's monotonic sequence and places
	// the job in the delayed index (DueAt after now) or at the tail of the
	// wait lane, setting State accordingly. One atomic step.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by queue and ID.
	GetJob(ctx context.Context, queue string, id uint64) (*Job, error)

	// GetWaiting returns a consistent snapshot of the wait lane in FIFO
	// order, never a partial view mid-promotion.
	GetWaiting(ctx context.Context, queue string) ([]*Job, error)

	// GetDelayed returns a consistent snapshot of the delayed index ordered
	// by (DueAt, ID).
	GetDelayed(ctx context.Context, queue string) ([]*Job, error)

	// NextDue returns the due time of the minimum delayed entry. ok is
	// false when the delayed index is empty.
	NextDue(ctx context.Context, queue string) (due time.Time, ok bool, err error)

	// PromoteDue removes the minimum delayed entry if its due time has
	// arrived, appends it to the wait lane, sets StateWaiting, and returns
	// it. Returns bullmq.ErrNoJobDue when the index is empty or the head
	// is not yet due. With concurrent schedulers at most one caller
	// succeeds per job; the others observe ErrNoJobDue.
	PromoteDue(ctx context.Context, queue string, now time.Time) (*Job, error)

	// ClaimNext pops the wait-lane head, sets StateActive with an exclusive
	// claim for workerID and a lease expiring after lease, and returns it.
	// Returns bullmq.ErrNoJobWaiting when the lane is empty.
	ClaimNext(ctx context.Context, queue, workerID string, lease time.Duration) (*Job, error)

	// CompleteJob moves an active job to StateCompleted and records the
	// handler's return value.
	CompleteJob(ctx context.Context, queue string, id uint64, returnValue json.RawMessage) error

	// FailJob moves an active job to StateFailed, recording the final
	// attempt count and the failure reason.
	FailJob(ctx context.Context, queue string, id uint64, attemptsMade int, reason string) error

	// RetryJob releases an active job for another attempt, recording the
	// attempts made so far: back into the delayed index when dueAt is in
	// the future, otherwise to the wait-lane tail.
	RetryJob(ctx context.Context, queue string, id uint64, attemptsMade int, dueAt time.Time) error

	// ReclaimStalled moves active jobs whose lease expired before now back
	// to the wait lane and returns them. At-least-once delivery: the
	// original worker may still finish, so handlers must be idempotent.
	ReclaimStalled(ctx context.Context, queue string, now time.Time) ([]*Job, error)

	// CleanFinished removes terminal jobs that finished more than olderThan
	// ago and reports how many were removed.
	CleanFinished(ctx context.Context, queue string, olderThan time.Duration) (int, error)

	// Counts tallies jobs per state for inspection dashboards.
	Counts(ctx context.Context, queue string) (map[State]int, error)
}
