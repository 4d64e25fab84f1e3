package events

import "context"

// Subscription is one attachment to a queue's event channel. Events arrive
// on C in publish order. The channel is closed when the subscription is
// closed, either locally via Close or by the bus shutting down.
type Subscription interface {
	// C returns the read-only event channel.
	C() <-chan *Event

	// Close detaches the subscription and releases its resources.
	// Safe to call multiple times.
	Close() error
}

// Bus is the publish/subscribe contract implemented by stores. Each queue
// name is an independent broadcast channel.
type Bus interface {
	// PublishEvent broadcasts evt to every current subscriber of queue.
	// Publish order is delivery order for each subscriber.
	PublishEvent(ctx context.Context, queue string, evt *Event) error

	// SubscribeEvents attaches a new subscriber to queue. The subscriber
	// receives every event published after this call returns.
	SubscribeEvents(ctx context.Context, queue string) (Subscription, error)
}
