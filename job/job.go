package job

import (
	"encoding/json"
	"time"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateDelayed means the job sits in the delayed index until due.
	StateDelayed State = "delayed"
	// StateWaiting means the job is in the wait lane, eligible for a worker.
	StateWaiting State = "waiting"
	// StateActive means a worker holds an exclusive claim on the job.
	StateActive State = "active"
	// StateCompleted means the handler finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the handler failed and attempts are exhausted.
	StateFailed State = "failed"
)

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job represents a unit of work. IDs are assigned by the store from a
// per-queue sequence, so creation order is recoverable from ID order and
// serves as the tie-break among jobs sharing a due instant.
type Job struct {
	ID      uint64          `json:"id"`
	Name    string          `json:"name"`
	Queue   string          `json:"queue"`
	Payload json.RawMessage `json:"payload,omitempty"`
	State   State           `json:"state"`

	// Delay and Timestamp are echoed back from the Add options.
	// DueAt = Timestamp + Delay, fixed at creation and never recomputed.
	Delay     time.Duration `json:"delay,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	DueAt     time.Time     `json:"due_at"`

	AttemptsMade int             `json:"attempts_made"`
	MaxAttempts  int             `json:"max_attempts"`
	ReturnValue  json.RawMessage `json:"return_value,omitempty"`
	FailedReason string          `json:"failed_reason,omitempty"`

	// RepeatSpec is the cron expression for repeatable jobs. The scheduler
	// enqueues the next occurrence (as a fresh job) when this one promotes.
	RepeatSpec string `json:"repeat_spec,omitempty"`

	// Timeout bounds a single handler invocation. Zero means no limit.
	Timeout time.Duration `json:"timeout,omitempty"`

	// WorkerID and LeaseUntil are set while the job is active. A job whose
	// lease expires without an outcome is stalled and gets reclaimed.
	WorkerID   string    `json:"worker_id,omitempty"`
	LeaseUntil time.Time `json:"lease_until,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}
