package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BinderPOS/bullmq"
	"github.com/BinderPOS/bullmq/events"
	"github.com/BinderPOS/bullmq/job"
	"github.com/BinderPOS/bullmq/store/memory"
)

func newDelayedJob(queue string, dueAt time.Time) *job.Job {
	return &job.Job{
		Name:        "test",
		Queue:       queue,
		Delay:       time.Minute,
		Timestamp:   dueAt.Add(-time.Minute),
		DueAt:       dueAt,
		MaxAttempts: 1,
		CreatedAt:   time.Now().UTC(),
	}
}

func newWaitingJob(queue string) *job.Job {
	now := time.Now().UTC()
	return &job.Job{
		Name:        "test",
		Queue:       queue,
		Timestamp:   now,
		DueAt:       now,
		MaxAttempts: 1,
		CreatedAt:   now,
	}
}

func TestCreateJob_AssignsSequentialIDs(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	for want := uint64(1); want <= 5; want++ {
		j := newWaitingJob("default")
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("create error: %v", err)
		}
		if j.ID != want {
			t.Errorf("job ID = %d, want %d", j.ID, want)
		}
	}
}

func TestCreateJob_RoutesByDelay(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	delayed := newDelayedJob("default", time.Now().UTC().Add(time.Hour))
	if err := s.CreateJob(ctx, delayed); err != nil {
		t.Fatalf("create error: %v", err)
	}
	if delayed.State != job.StateDelayed {
		t.Errorf("state = %q, want %q", delayed.State, job.StateDelayed)
	}

	waiting := newWaitingJob("default")
	if err := s.CreateJob(ctx, waiting); err != nil {
		t.Fatalf("create error: %v", err)
	}
	if waiting.State != job.StateWaiting {
		t.Errorf("state = %q, want %q", waiting.State, job.StateWaiting)
	}

	dj, err := s.GetDelayed(ctx, "default")
	if err != nil {
		t.Fatalf("get delayed error: %v", err)
	}
	if len(dj) != 1 || dj[0].ID != delayed.ID {
		t.Errorf("delayed index = %v, want the delayed job only", dj)
	}

	wj, err := s.GetWaiting(ctx, "default")
	if err != nil {
		t.Fatalf("get waiting error: %v", err)
	}
	if len(wj) != 1 || wj[0].ID != waiting.ID {
		t.Errorf("wait lane = %v, want the undelayed job only", wj)
	}
}

func TestCreateJob_ConcurrentAddsLandExactlyOnce(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.CreateJob(ctx, newWaitingJob("default")); err != nil {
				t.Errorf("create error: %v", err)
			}
		}()
	}
	wg.Wait()

	jobs, err := s.GetWaiting(ctx, "default")
	if err != nil {
		t.Fatalf("get waiting error: %v", err)
	}
	if len(jobs) != n {
		t.Fatalf("wait lane has %d jobs, want %d", len(jobs), n)
	}
	seen := make(map[uint64]bool, n)
	for _, j := range jobs {
		if seen[j.ID] {
			t.Errorf("duplicate job ID %d", j.ID)
		}
		seen[j.ID] = true
	}
}

func TestGetDelayed_OrderedByDueAtThenID(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	base := time.Now().UTC().Add(time.Hour)
	// Insert out of due order; ties break by creation sequence.
	for _, offset := range []time.Duration{300, 100, 200, 100} {
		j := newDelayedJob("default", base.Add(offset*time.Millisecond))
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("create error: %v", err)
		}
	}

	got, err := s.GetDelayed(ctx, "default")
	if err != nil {
		t.Fatalf("get delayed error: %v", err)
	}
	wantIDs := []uint64{2, 4, 3, 1} // 100ms(id2), 100ms(id4), 200ms, 300ms
	if len(got) != len(wantIDs) {
		t.Fatalf("delayed index has %d jobs, want %d", len(got), len(wantIDs))
	}
	for i, want := range wantIDs {
		if got[i].ID != want {
			t.Errorf("delayed[%d].ID = %d, want %d", i, got[i].ID, want)
		}
	}
}

func TestPromoteDue_OnlyWhenDue(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	j := newDelayedJob("default", now.Add(time.Hour))
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create error: %v", err)
	}

	if _, err := s.PromoteDue(ctx, "default", now); !errors.Is(err, bullmq.ErrNoJobDue) {
		t.Fatalf("promote before due = %v, want ErrNoJobDue", err)
	}

	got, err := s.PromoteDue(ctx, "default", now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("promote after due error: %v", err)
	}
	if got.ID != j.ID {
		t.Errorf("promoted ID = %d, want %d", got.ID, j.ID)
	}
	if got.State != job.StateWaiting {
		t.Errorf("promoted state = %q, want %q", got.State, job.StateWaiting)
	}

	// The index is now empty.
	if _, err := s.PromoteDue(ctx, "default", now.Add(2*time.Hour)); !errors.Is(err, bullmq.ErrNoJobDue) {
		t.Fatalf("promote on empty index = %v, want ErrNoJobDue", err)
	}
}

func TestPromoteDue_DrainsInOrder(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	base := time.Now().UTC()

	// Three jobs sharing one due instant promote in creation order.
	for i := 0; i < 3; i++ {
		if err := s.CreateJob(ctx, newDelayedJob("default", base)); err != nil {
			t.Fatalf("create error: %v", err)
		}
	}

	for want := uint64(1); want <= 3; want++ {
		j, err := s.PromoteDue(ctx, "default", base.Add(time.Second))
		if err != nil {
			t.Fatalf("promote error: %v", err)
		}
		if j.ID != want {
			t.Errorf("promoted ID = %d, want %d", j.ID, want)
		}
	}
}

func TestNextDue(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	if _, ok, err := s.NextDue(ctx, "default"); err != nil || ok {
		t.Fatalf("NextDue on empty index = (ok=%v, err=%v), want (false, nil)", ok, err)
	}

	due := time.Now().UTC().Add(time.Minute)
	if err := s.CreateJob(ctx, newDelayedJob("default", due)); err != nil {
		t.Fatalf("create error: %v", err)
	}

	got, ok, err := s.NextDue(ctx, "default")
	if err != nil || !ok {
		t.Fatalf("NextDue = (ok=%v, err=%v), want (true, nil)", ok, err)
	}
	if !got.Equal(due) {
		t.Errorf("NextDue = %v, want %v", got, due)
	}
}

func TestClaimNext_ExclusiveAndFIFO(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	const n = 10
	for i := 0; i < n; i++ {
		if err := s.CreateJob(ctx, newWaitingJob("default")); err != nil {
			t.Fatalf("create error: %v", err)
		}
	}

	// Concurrent claimers never see the same job twice.
	var mu sync.Mutex
	claimed := make(map[uint64]int)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := s.ClaimNext(ctx, "default", "w", time.Minute)
				if errors.Is(err, bullmq.ErrNoJobWaiting) {
					return
				}
				if err != nil {
					t.Errorf("claim error: %v", err)
					return
				}
				mu.Lock()
				claimed[j.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != n {
		t.Fatalf("claimed %d distinct jobs, want %d", len(claimed), n)
	}
	for id, count := range claimed {
		if count != 1 {
			t.Errorf("job %d claimed %d times", id, count)
		}
	}
}

func TestClaimNext_SetsClaimFields(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	if err := s.CreateJob(ctx, newWaitingJob("default")); err != nil {
		t.Fatalf("create error: %v", err)
	}

	j, err := s.ClaimNext(ctx, "default", "worker-1", time.Minute)
	if err != nil {
		t.Fatalf("claim error: %v", err)
	}
	if j.State != job.StateActive {
		t.Errorf("state = %q, want %q", j.State, job.StateActive)
	}
	if j.WorkerID != "worker-1" {
		t.Errorf("worker ID = %q, want %q", j.WorkerID, "worker-1")
	}
	if j.LeaseUntil.IsZero() {
		t.Error("expected LeaseUntil to be set")
	}
	if j.ProcessedAt == nil {
		t.Error("expected ProcessedAt to be set")
	}
}

func TestCompleteJob(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newWaitingJob("default")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create error: %v", err)
	}

	// Completing a non-active job is a state error.
	if err := s.CompleteJob(ctx, "default", j.ID, nil); !errors.Is(err, bullmq.ErrInvalidState) {
		t.Fatalf("complete waiting job = %v, want ErrInvalidState", err)
	}

	if _, err := s.ClaimNext(ctx, "default", "w", time.Minute); err != nil {
		t.Fatalf("claim error: %v", err)
	}
	if err := s.CompleteJob(ctx, "default", j.ID, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("complete error: %v", err)
	}

	got, err := s.GetJob(ctx, "default", j.ID)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got.State != job.StateCompleted {
		t.Errorf("state = %q, want %q", got.State, job.StateCompleted)
	}
	if string(got.ReturnValue) != `{"ok":true}` {
		t.Errorf("return value = %s", got.ReturnValue)
	}
	if got.FinishedAt == nil {
		t.Error("expected FinishedAt to be set")
	}
}

func TestRetryJob_RoutesByDueAt(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.CreateJob(ctx, newWaitingJob("default")); err != nil {
			t.Fatalf("create error: %v", err)
		}
	}

	// Future due time lands in the delayed index.
	j1, err := s.ClaimNext(ctx, "default", "w", time.Minute)
	if err != nil {
		t.Fatalf("claim error: %v", err)
	}
	if err := s.RetryJob(ctx, "default", j1.ID, 1, time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("retry error: %v", err)
	}
	got, _ := s.GetJob(ctx, "default", j1.ID)
	if got.State != job.StateDelayed {
		t.Errorf("state = %q, want %q", got.State, job.StateDelayed)
	}
	if got.AttemptsMade != 1 {
		t.Errorf("attempts made = %d, want 1", got.AttemptsMade)
	}

	// Past due time goes straight back to the wait lane.
	j2, err := s.ClaimNext(ctx, "default", "w", time.Minute)
	if err != nil {
		t.Fatalf("claim error: %v", err)
	}
	if err := s.RetryJob(ctx, "default", j2.ID, 1, time.Now().UTC().Add(-time.Second)); err != nil {
		t.Fatalf("retry error: %v", err)
	}
	got, _ = s.GetJob(ctx, "default", j2.ID)
	if got.State != job.StateWaiting {
		t.Errorf("state = %q, want %q", got.State, job.StateWaiting)
	}
}

func TestFailJob_RecordsReason(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newWaitingJob("default")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create error: %v", err)
	}
	if _, err := s.ClaimNext(ctx, "default", "w", time.Minute); err != nil {
		t.Fatalf("claim error: %v", err)
	}
	if err := s.FailJob(ctx, "default", j.ID, 3, "boom"); err != nil {
		t.Fatalf("fail error: %v", err)
	}

	got, _ := s.GetJob(ctx, "default", j.ID)
	if got.State != job.StateFailed {
		t.Errorf("state = %q, want %q", got.State, job.StateFailed)
	}
	if got.FailedReason != "boom" {
		t.Errorf("failed reason = %q, want %q", got.FailedReason, "boom")
	}
	if got.AttemptsMade != 3 {
		t.Errorf("attempts made = %d, want 3", got.AttemptsMade)
	}
}

func TestReclaimStalled(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.CreateJob(ctx, newWaitingJob("default")); err != nil {
			t.Fatalf("create error: %v", err)
		}
	}

	// One short lease, one long.
	if _, err := s.ClaimNext(ctx, "default", "w1", time.Millisecond); err != nil {
		t.Fatalf("claim error: %v", err)
	}
	if _, err := s.ClaimNext(ctx, "default", "w2", time.Hour); err != nil {
		t.Fatalf("claim error: %v", err)
	}

	stalled, err := s.ReclaimStalled(ctx, "default", time.Now().UTC().Add(time.Second))
	if err != nil {
		t.Fatalf("reclaim error: %v", err)
	}
	if len(stalled) != 1 {
		t.Fatalf("reclaimed %d jobs, want 1", len(stalled))
	}
	if stalled[0].ID != 1 {
		t.Errorf("reclaimed ID = %d, want 1", stalled[0].ID)
	}
	if stalled[0].State != job.StateWaiting {
		t.Errorf("reclaimed state = %q, want %q", stalled[0].State, job.StateWaiting)
	}
}

func TestCleanFinished(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newWaitingJob("default")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create error: %v", err)
	}
	if _, err := s.ClaimNext(ctx, "default", "w", time.Minute); err != nil {
		t.Fatalf("claim error: %v", err)
	}
	if err := s.CompleteJob(ctx, "default", j.ID, nil); err != nil {
		t.Fatalf("complete error: %v", err)
	}

	// Not old enough yet.
	removed, err := s.CleanFinished(ctx, "default", time.Hour)
	if err != nil {
		t.Fatalf("clean error: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed %d jobs, want 0", removed)
	}

	removed, err = s.CleanFinished(ctx, "default", -time.Second)
	if err != nil {
		t.Fatalf("clean error: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed %d jobs, want 1", removed)
	}
	if _, err := s.GetJob(ctx, "default", j.ID); !errors.Is(err, bullmq.ErrJobNotFound) {
		t.Errorf("get after clean = %v, want ErrJobNotFound", err)
	}
}

func TestCounts(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	if err := s.CreateJob(ctx, newDelayedJob("default", time.Now().UTC().Add(time.Hour))); err != nil {
		t.Fatalf("create error: %v", err)
	}
	if err := s.CreateJob(ctx, newWaitingJob("default")); err != nil {
		t.Fatalf("create error: %v", err)
	}

	counts, err := s.Counts(ctx, "default")
	if err != nil {
		t.Fatalf("counts error: %v", err)
	}
	if counts[job.StateDelayed] != 1 || counts[job.StateWaiting] != 1 {
		t.Errorf("counts = %v, want 1 delayed and 1 waiting", counts)
	}
}

func TestPublishEvent_DeliversInOrder(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	sub, err := s.SubscribeEvents(ctx, "default")
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	defer sub.Close() //nolint:errcheck // test cleanup

	j := &job.Job{ID: 7, Queue: "default"}
	for i := 0; i < 5; i++ {
		if err := s.PublishEvent(ctx, "default", events.NewWaiting(j)); err != nil {
			t.Fatalf("publish error: %v", err)
		}
	}

	for i := 0; i < 5; i++ {
		select {
		case evt := <-sub.C():
			if evt.Type != events.TypeWaiting || evt.JobID != 7 {
				t.Errorf("event %d = %+v", i, evt)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestSubscription_NotRetroactive(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := &job.Job{ID: 1, Queue: "default"}
	if err := s.PublishEvent(ctx, "default", events.NewWaiting(j)); err != nil {
		t.Fatalf("publish error: %v", err)
	}

	sub, err := s.SubscribeEvents(ctx, "default")
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	defer sub.Close() //nolint:errcheck // test cleanup

	select {
	case evt := <-sub.C():
		t.Fatalf("unexpected replayed event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClose_ShutsDownSubscriptions(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	sub, err := s.SubscribeEvents(ctx, "default")
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}
	// Double close is a no-op.
	if err := s.Close(); err != nil {
		t.Fatalf("double close error: %v", err)
	}

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("expected subscription channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscription shutdown")
	}

	if err := s.Ping(ctx); !errors.Is(err, bullmq.ErrStoreClosed) {
		t.Errorf("ping after close = %v, want ErrStoreClosed", err)
	}
}
