// Package store defines the aggregate backing-store interface. The job
// subsystem and the event channel each define their own contract; the
// composite Store composes them so a single backend (Redis, Memory)
// implements both sides of the queue.
package store

import (
	"context"

	"github.com/BinderPOS/bullmq/events"
	"github.com/BinderPOS/bullmq/job"
)

// Store is the aggregate backing-store interface. Everything sharing a
// queue name through the same Store operates against one logical backlog.
type Store interface {
	job.Store
	events.Bus

	// Ping checks connectivity to the backing store. Readiness gates
	// (WaitUntilReady) poll this before relying on the component.
	Ping(ctx context.Context) error

	// Close releases the store's resources and closes any live event
	// subscriptions.
	Close() error
}
