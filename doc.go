// Package bullmq provides a durable, delay-aware job queue for Go.
// Producers enqueue jobs, optionally deferred to a future instant; a
// scheduler promotes due jobs into a ready lane; workers consume the
// ready lane and execute user handlers; an event channel broadcasts
// lifecycle transitions to any number of observers.
//
// bullmq is a library, not a service. All components addressing the same
// queue name through the same store operate against one logical backlog,
// so producers, schedulers, workers, and observers may run in separate
// processes sharing only the backing store.
//
// # Quick Start
//
//	s := memory.New()
//	q := queue.New(s, "mail")
//	j, err := q.Add(ctx, "welcome", payload, job.WithDelay(time.Minute))
//
// # Architecture
//
// Correctness under concurrent schedulers relies on the store's atomic
// primitives (create, promote-if-due, claim), not on leader election or
// application-level locking. The delayed backlog is totally ordered by
// (due time, creation sequence), so jobs sharing a due instant promote
// in creation order.
package bullmq
