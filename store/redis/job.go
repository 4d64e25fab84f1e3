package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/BinderPOS/bullmq"
	"github.com/BinderPOS/bullmq/job"
)

// CreateJob assigns the next sequence ID, writes the job Hash, and files
// the job in the delayed index or the wait lane, all in one script.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	delayed := "0"
	j.State = job.StateWaiting
	if j.Delay > 0 {
		delayed = "1"
		j.State = job.StateDelayed
	}

	keys := []string{seqKey(j.Queue), delayedKey(j.Queue), waitKey(j.Queue)}
	argv := []interface{}{
		jobKeyPrefix(j.Queue),
		delayed,
		strconv.FormatInt(j.DueAt.UnixMilli(), 10),
		"name", j.Name,
		"queue", j.Queue,
		"payload", string(j.Payload),
		"state", string(j.State),
		"delay", strconv.FormatInt(int64(j.Delay), 10),
		"timestamp", j.Timestamp.Format(time.RFC3339Nano),
		"due_at", j.DueAt.Format(time.RFC3339Nano),
		"attempts_made", strconv.Itoa(j.AttemptsMade),
		"max_attempts", strconv.Itoa(j.MaxAttempts),
		"repeat_spec", j.RepeatSpec,
		"timeout", strconv.FormatInt(int64(j.Timeout), 10),
		"created_at", j.CreatedAt.Format(time.RFC3339Nano),
	}

	id, err := createScript.Run(ctx, s.client, keys, argv...).Int64()
	if err != nil {
		return fmt.Errorf("bullmq/redis: create job: %w", err)
	}
	j.ID = uint64(id)
	return nil
}

// GetJob retrieves a job by queue and ID.
func (s *Store) GetJob(ctx context.Context, queue string, id uint64) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(queue, id))
}

// GetWaiting returns the wait lane in FIFO order. Membership and job
// hashes are read in one script, so the snapshot never shows a lane
// entry whose state a concurrent claim already changed.
func (s *Store) GetWaiting(ctx context.Context, queue string) ([]*job.Job, error) {
	res, err := waitingSnapshotScript.Run(ctx, s.client,
		[]string{waitKey(queue)}, jobKeyPrefix(queue)).Result()
	if err != nil {
		return nil, fmt.Errorf("bullmq/redis: get waiting: %w", err)
	}
	return snapshotToJobs(res)
}

// GetDelayed returns the delayed index ordered by (due time, ID), read
// atomically the same way as GetWaiting.
func (s *Store) GetDelayed(ctx context.Context, queue string) ([]*job.Job, error) {
	res, err := delayedSnapshotScript.Run(ctx, s.client,
		[]string{delayedKey(queue)}, jobKeyPrefix(queue)).Result()
	if err != nil {
		return nil, fmt.Errorf("bullmq/redis: get delayed: %w", err)
	}
	return snapshotToJobs(res)
}

// NextDue returns the due time of the minimum delayed entry.
func (s *Store) NextDue(ctx context.Context, queue string) (time.Time, bool, error) {
	head, err := s.client.ZRangeWithScores(ctx, delayedKey(queue), 0, 0).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("bullmq/redis: next due: %w", err)
	}
	if len(head) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(int64(head[0].Score)).UTC(), true, nil
}

// PromoteDue pops the minimum delayed entry if due and appends it to the
// wait lane. At most one concurrent caller wins each job; the rest see
// bullmq.ErrNoJobDue.
func (s *Store) PromoteDue(ctx context.Context, queue string, now time.Time) (*job.Job, error) {
	keys := []string{delayedKey(queue), waitKey(queue)}
	res, err := promoteScript.Run(ctx, s.client, keys,
		jobKeyPrefix(queue),
		strconv.FormatInt(now.UnixMilli(), 10),
	).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, bullmq.ErrNoJobDue
	}
	if err != nil {
		return nil, fmt.Errorf("bullmq/redis: promote due: %w", err)
	}
	return hashReplyToJob(res)
}

// ClaimNext pops the wait-lane head under an exclusive claim for
// workerID with the given lease.
func (s *Store) ClaimNext(ctx context.Context, queue, workerID string, lease time.Duration) (*job.Job, error) {
	now := time.Now().UTC()
	leaseUntil := now.Add(lease)

	keys := []string{waitKey(queue), activeKey(queue)}
	res, err := claimScript.Run(ctx, s.client, keys,
		jobKeyPrefix(queue),
		workerID,
		strconv.FormatInt(leaseUntil.UnixMilli(), 10),
		leaseUntil.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, bullmq.ErrNoJobWaiting
	}
	if err != nil {
		return nil, fmt.Errorf("bullmq/redis: claim next: %w", err)
	}
	return hashReplyToJob(res)
}

// CompleteJob moves an active job to completed with its return value.
func (s *Store) CompleteJob(ctx context.Context, queue string, id uint64, returnValue json.RawMessage) error {
	now := time.Now().UTC()
	keys := []string{activeKey(queue), completedKey(queue)}
	status, err := completeScript.Run(ctx, s.client, keys,
		jobKeyPrefix(queue),
		strconv.FormatUint(id, 10),
		string(returnValue),
		strconv.FormatInt(now.UnixMilli(), 10),
		now.Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("bullmq/redis: complete job: %w", err)
	}
	if status < 0 {
		return bullmq.ErrJobNotFound
	}
	return nil
}

// FailJob moves an active job to failed with its final attempt count.
func (s *Store) FailJob(ctx context.Context, queue string, id uint64, attemptsMade int, reason string) error {
	now := time.Now().UTC()
	keys := []string{activeKey(queue), failedKey(queue)}
	status, err := failScript.Run(ctx, s.client, keys,
		jobKeyPrefix(queue),
		strconv.FormatUint(id, 10),
		strconv.Itoa(attemptsMade),
		reason,
		strconv.FormatInt(now.UnixMilli(), 10),
		now.Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("bullmq/redis: fail job: %w", err)
	}
	if status < 0 {
		return bullmq.ErrJobNotFound
	}
	return nil
}

// RetryJob releases an active job for another attempt at dueAt.
func (s *Store) RetryJob(ctx context.Context, queue string, id uint64, attemptsMade int, dueAt time.Time) error {
	keys := []string{activeKey(queue), delayedKey(queue), waitKey(queue)}
	status, err := retryScript.Run(ctx, s.client, keys,
		jobKeyPrefix(queue),
		strconv.FormatUint(id, 10),
		strconv.Itoa(attemptsMade),
		strconv.FormatInt(dueAt.UnixMilli(), 10),
		dueAt.Format(time.RFC3339Nano),
		strconv.FormatInt(time.Now().UTC().UnixMilli(), 10),
		paddedID(id),
	).Int()
	if err != nil {
		return fmt.Errorf("bullmq/redis: retry job: %w", err)
	}
	if status < 0 {
		return bullmq.ErrJobNotFound
	}
	return nil
}

// ReclaimStalled moves active jobs with expired leases back to the wait
// lane and returns them.
func (s *Store) ReclaimStalled(ctx context.Context, queue string, now time.Time) ([]*job.Job, error) {
	keys := []string{activeKey(queue), waitKey(queue)}
	ids, err := reclaimScript.Run(ctx, s.client, keys,
		jobKeyPrefix(queue),
		strconv.FormatInt(now.UnixMilli(), 10),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("bullmq/redis: reclaim stalled: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, id := range ids {
		j, getErr := s.getJobByKey(ctx, jobKeyPrefix(queue)+id)
		if getErr != nil {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CleanFinished removes terminal jobs that finished before now-olderThan.
func (s *Store) CleanFinished(ctx context.Context, queue string, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	keys := []string{completedKey(queue), failedKey(queue)}
	removed, err := cleanScript.Run(ctx, s.client, keys,
		jobKeyPrefix(queue),
		strconv.FormatInt(cutoff.UnixMilli(), 10),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("bullmq/redis: clean finished: %w", err)
	}
	return removed, nil
}

// Counts tallies jobs per state from the lane cardinalities.
func (s *Store) Counts(ctx context.Context, queue string) (map[job.State]int, error) {
	pipe := s.client.Pipeline()
	delayed := pipe.ZCard(ctx, delayedKey(queue))
	waiting := pipe.LLen(ctx, waitKey(queue))
	active := pipe.ZCard(ctx, activeKey(queue))
	completed := pipe.ZCard(ctx, completedKey(queue))
	failed := pipe.ZCard(ctx, failedKey(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("bullmq/redis: counts: %w", err)
	}

	return map[job.State]int{
		job.StateDelayed:   int(delayed.Val()),
		job.StateWaiting:   int(waiting.Val()),
		job.StateActive:    int(active.Val()),
		job.StateCompleted: int(completed.Val()),
		job.StateFailed:    int(failed.Val()),
	}, nil
}

// ── helpers ──

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("bullmq/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, bullmq.ErrJobNotFound
	}
	return mapToJob(vals)
}

// snapshotToJobs converts a snapshot script's reply (one HGETALL array
// per lane member) into jobs, preserving the script's ordering. Empty
// rows mean the hash was deleted out of band and are skipped.
func snapshotToJobs(res interface{}) ([]*job.Job, error) {
	rows, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("bullmq/redis: unexpected snapshot reply %T", res)
	}
	jobs := make([]*job.Job, 0, len(rows))
	for _, row := range rows {
		flat, ok := row.([]interface{})
		if !ok || len(flat) == 0 {
			continue
		}
		j, err := hashReplyToJob(row)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// hashReplyToJob converts a script's HGETALL reply (a flat array of
// alternating field and value strings) into a job.
func hashReplyToJob(res interface{}) (*job.Job, error) {
	flat, ok := res.([]interface{})
	if !ok || len(flat)%2 != 0 {
		return nil, fmt.Errorf("bullmq/redis: unexpected script reply %T", res)
	}
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		field, fOK := flat[i].(string)
		value, vOK := flat[i+1].(string)
		if !fOK || !vOK {
			continue
		}
		m[field] = value
	}
	return mapToJob(m)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	id, err := strconv.ParseUint(m["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bullmq/redis: parse job id %q: %w", m["id"], err)
	}

	delay, _ := strconv.ParseInt(m["delay"], 10, 64)       //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempts_made"])        //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])      //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64)   //nolint:errcheck // best-effort parse from trusted Redis data
	timestamp, _ := time.Parse(time.RFC3339Nano, m["timestamp"]) //nolint:errcheck // best-effort parse from trusted Redis data
	dueAt, _ := time.Parse(time.RFC3339Nano, m["due_at"])        //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		ID:           id,
		Name:         m["name"],
		Queue:        m["queue"],
		Payload:      []byte(m["payload"]),
		State:        job.State(m["state"]),
		Delay:        time.Duration(delay),
		Timestamp:    timestamp,
		DueAt:        dueAt,
		AttemptsMade: attempts,
		MaxAttempts:  maxAttempts,
		FailedReason: m["failed_reason"],
		RepeatSpec:   m["repeat_spec"],
		Timeout:      time.Duration(timeout),
		WorkerID:     m["worker_id"],
		CreatedAt:    createdAt,
	}

	if v := m["return_value"]; v != "" {
		j.ReturnValue = []byte(v)
	}
	if v := m["lease_until"]; v != "" {
		j.LeaseUntil, _ = time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["processed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.ProcessedAt = &t
	}
	if v := m["finished_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.FinishedAt = &t
	}

	return j, nil
}
