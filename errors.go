package bullmq

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("bullmq: no store configured")
	ErrStoreClosed = errors.New("bullmq: store closed")

	// Not found errors.
	ErrJobNotFound = errors.New("bullmq: job not found")

	// Empty-set results from the atomic primitives. These are expected
	// outcomes, not failures; loops use them to decide when to sleep.
	ErrNoJobDue     = errors.New("bullmq: no delayed job is due")
	ErrNoJobWaiting = errors.New("bullmq: no job waiting")

	// Validation errors, rejected synchronously at Add.
	ErrInvalidDelay    = errors.New("bullmq: delay must not be negative")
	ErrInvalidRepeat   = errors.New("bullmq: invalid repeat expression")
	ErrEmptyQueueName  = errors.New("bullmq: queue name must not be empty")
	ErrMissingHandler  = errors.New("bullmq: worker handler must not be nil")
	ErrInvalidAttempts = errors.New("bullmq: max attempts must be positive")

	// Subscription errors.
	ErrSubscriptionClosed = errors.New("bullmq: event subscription closed")

	// State errors. ErrInvalidState from a primitive means the job was not
	// in the set the caller assumed, e.g. a complete on a job that is no
	// longer active.
	ErrInvalidState = errors.New("bullmq: invalid state transition")

	// ErrPromotionOrder indicates PromoteDue returned a job whose due time
	// is still in the future. It signals a broken store atomicity guarantee
	// and is never retried silently.
	ErrPromotionOrder = errors.New("bullmq: promoted job is not yet due")
)
