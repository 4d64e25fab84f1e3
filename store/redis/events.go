package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/BinderPOS/bullmq/events"
)

// PublishEvent broadcasts a lifecycle event on the queue's channel.
// Redis pub/sub delivers to current subscribers only, in publish order,
// which is exactly the event channel contract.
func (s *Store) PublishEvent(ctx context.Context, queue string, evt *events.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("bullmq/redis: marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, eventsChannel(queue), data).Err(); err != nil {
		return fmt.Errorf("bullmq/redis: publish event: %w", err)
	}
	return nil
}

// SubscribeEvents opens a live feed of the queue's events. The feed
// begins at subscription time; SubscribeEvents does not return until the
// server has confirmed the subscription, so no event published after it
// returns is missed.
func (s *Store) SubscribeEvents(ctx context.Context, queue string) (events.Subscription, error) {
	ps := s.client.Subscribe(ctx, eventsChannel(queue))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close() //nolint:errcheck // already failing; nothing to add
		return nil, fmt.Errorf("bullmq/redis: subscribe events: %w", err)
	}

	sub := &subscription{
		pubsub: ps,
		ch:     make(chan *events.Event, s.eventBuf),
		done:   make(chan struct{}),
		logger: s.logger,
	}
	go sub.run()
	return sub, nil
}

// subscription adapts a Redis pub/sub connection to events.Subscription.
type subscription struct {
	pubsub *goredis.PubSub
	ch     chan *events.Event
	done   chan struct{}
	logger *slog.Logger
	once   sync.Once
}

// C returns the event channel. It is closed when the subscription closes
// or the pub/sub connection drops.
func (s *subscription) C() <-chan *events.Event { return s.ch }

// run decodes incoming messages until the pub/sub connection closes.
func (s *subscription) run() {
	defer close(s.ch)

	for msg := range s.pubsub.Channel() {
		var evt events.Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			s.logger.Warn("dropping undecodable event",
				slog.String("channel", msg.Channel),
				slog.String("error", err.Error()),
			)
			continue
		}
		select {
		case s.ch <- &evt:
		case <-s.done:
			return
		}
	}
}

// Close terminates the subscription. Idempotent.
func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
