package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/BinderPOS/bullmq"
)

// HandlerFunc is a callback registered for a lifecycle event type.
type HandlerFunc func(*Event)

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) ChannelOption {
	return func(c *Channel) { c.logger = l }
}

// Channel observes one queue's lifecycle events, decoupled from queue,
// worker, and scheduler internals. Callbacks registered via On are invoked
// for every subsequent matching event in publish order; events published
// before registration are not replayed.
type Channel struct {
	bus    Bus
	queue  string
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[Type][]HandlerFunc

	sub     Subscription
	ready   chan struct{}
	done    chan struct{}
	started atomic.Bool
	closed  atomic.Bool
}

// NewChannel creates a Channel for the given queue. Call Start to attach.
func NewChannel(bus Bus, queue string, opts ...ChannelOption) *Channel {
	c := &Channel{
		bus:      bus,
		queue:    queue,
		logger:   slog.Default(),
		handlers: make(map[Type][]HandlerFunc),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// On registers fn for events of type t. Multiple callbacks per type are
// invoked in registration order. Registration after Start is allowed and
// takes effect from the next delivered event.
func (c *Channel) On(t Type, fn HandlerFunc) {
	c.mu.Lock()
	c.handlers[t] = append(c.handlers[t], fn)
	c.mu.Unlock()
}

// Start attaches the subscription and launches the dispatch goroutine.
// It returns immediately; use WaitUntilReady to block until attached.
func (c *Channel) Start(ctx context.Context) error {
	if c.closed.Load() {
		return bullmq.ErrSubscriptionClosed
	}
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}

	sub, err := c.bus.SubscribeEvents(ctx, c.queue)
	if err != nil {
		// Leave the channel startable again; Close must also stay safe.
		c.started.Store(false)
		return fmt.Errorf("events: subscribe %q: %w", c.queue, err)
	}
	c.sub = sub
	close(c.ready)

	go c.dispatchLoop()
	return nil
}

// WaitUntilReady blocks until the subscription is established or ctx is
// done. Callers use it to avoid adding jobs before any observer is live.
func (c *Channel) WaitUntilReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatchLoop delivers events to registered callbacks, one at a time,
// preserving publish order.
func (c *Channel) dispatchLoop() {
	defer close(c.done)

	for evt := range c.sub.C() {
		c.mu.RLock()
		callbacks := make([]HandlerFunc, len(c.handlers[evt.Type]))
		copy(callbacks, c.handlers[evt.Type])
		c.mu.RUnlock()

		for _, fn := range callbacks {
			fn(evt)
		}
	}
}

// Close detaches the subscription and waits for in-flight callbacks to
// return. Idempotent; concurrent calls do not double-release.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	// Never attached (not started, or Start failed before subscribing):
	// there is no subscription to release and no dispatch loop to wait on.
	if !c.started.Load() || c.sub == nil {
		return nil
	}

	if err := c.sub.Close(); err != nil {
		c.logger.Warn("event subscription close",
			slog.String("queue", c.queue),
			slog.String("error", err.Error()),
		)
	}
	<-c.done
	return nil
}
