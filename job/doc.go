// Package job defines the Job record, its lifecycle states, per-job
// options, and the Store contract every backend must satisfy.
//
// A job lives in exactly one place at a time: the delayed index (ordered
// by due time then creation sequence), the wait lane (FIFO), an active
// claim held by a single worker, or a terminal set. Store primitives move
// jobs between those places atomically; callers never observe a job in
// two places or in neither.
package job
