package events

import (
	"encoding/json"
	"time"

	"github.com/BinderPOS/bullmq/job"
)

// Type identifies the kind of lifecycle event.
type Type string

const (
	// TypeDelayed is published synchronously with every delayed Add.
	TypeDelayed Type = "delayed"
	// TypeWaiting is published exactly once per job, at promotion or when
	// an undelayed Add lands directly in the wait lane.
	TypeWaiting Type = "waiting"
	// TypeActive is published when a worker claims the job.
	TypeActive Type = "active"
	// TypeCompleted carries the handler's return value.
	TypeCompleted Type = "completed"
	// TypeFailed carries the final failure reason.
	TypeFailed Type = "failed"
	// TypeRetrying is published when a failed attempt is re-queued.
	TypeRetrying Type = "retrying"
	// TypeStalled is published when an expired claim is reclaimed.
	TypeStalled Type = "stalled"
)

// Event is the envelope broadcast on a queue's event channel.
type Event struct {
	Type      Type            `json:"type"`
	JobID     uint64          `json:"job_id"`
	Queue     string          `json:"queue"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

// DelayedPayload is the payload for TypeDelayed events. DueAt lets a
// scheduler shorten its pending sleep without another store round trip.
type DelayedPayload struct {
	DueAt time.Time `json:"due_at"`
}

// CompletedPayload is the payload for TypeCompleted events.
type CompletedPayload struct {
	ReturnValue json.RawMessage `json:"return_value,omitempty"`
}

// FailedPayload is the payload for TypeFailed events.
type FailedPayload struct {
	Reason string `json:"reason"`
}

// RetryingPayload is the payload for TypeRetrying events.
type RetryingPayload struct {
	Attempt   int       `json:"attempt"`
	NextDueAt time.Time `json:"next_due_at"`
}

// mustMarshal marshals a payload, panicking on error (programming error:
// every payload type above is trivially marshalable).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("events: marshal payload: " + err.Error())
	}
	return data
}

// NewDelayed builds the event published when a delayed job is created.
func NewDelayed(j *job.Job) *Event {
	return &Event{
		Type:      TypeDelayed,
		JobID:     j.ID,
		Queue:     j.Queue,
		Payload:   mustMarshal(DelayedPayload{DueAt: j.DueAt}),
		Timestamp: time.Now().UTC(),
	}
}

// NewWaiting builds the event published when a job enters the wait lane.
func NewWaiting(j *job.Job) *Event {
	return &Event{
		Type:      TypeWaiting,
		JobID:     j.ID,
		Queue:     j.Queue,
		Timestamp: time.Now().UTC(),
	}
}

// NewActive builds the event published when a worker claims a job.
func NewActive(j *job.Job) *Event {
	return &Event{
		Type:      TypeActive,
		JobID:     j.ID,
		Queue:     j.Queue,
		Timestamp: time.Now().UTC(),
	}
}

// NewCompleted builds the event published on handler success.
func NewCompleted(j *job.Job, returnValue json.RawMessage) *Event {
	return &Event{
		Type:      TypeCompleted,
		JobID:     j.ID,
		Queue:     j.Queue,
		Payload:   mustMarshal(CompletedPayload{ReturnValue: returnValue}),
		Timestamp: time.Now().UTC(),
	}
}

// NewFailed builds the event published when attempts are exhausted.
func NewFailed(j *job.Job, reason string) *Event {
	return &Event{
		Type:      TypeFailed,
		JobID:     j.ID,
		Queue:     j.Queue,
		Payload:   mustMarshal(FailedPayload{Reason: reason}),
		Timestamp: time.Now().UTC(),
	}
}

// NewRetrying builds the event published when a failed attempt re-queues.
func NewRetrying(j *job.Job, attempt int, nextDueAt time.Time) *Event {
	return &Event{
		Type:      TypeRetrying,
		JobID:     j.ID,
		Queue:     j.Queue,
		Payload:   mustMarshal(RetryingPayload{Attempt: attempt, NextDueAt: nextDueAt}),
		Timestamp: time.Now().UTC(),
	}
}

// NewStalled builds the event published when a stalled job is reclaimed.
func NewStalled(j *job.Job) *Event {
	return &Event{
		Type:      TypeStalled,
		JobID:     j.ID,
		Queue:     j.Queue,
		Timestamp: time.Now().UTC(),
	}
}
