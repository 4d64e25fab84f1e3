package redis

import (
	"context"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/BinderPOS/bullmq/store"
)

// Client is the slice of the go-redis API the store needs. Both
// *redis.Client and *redis.ClusterClient satisfy it.
type Client interface {
	goredis.Cmdable
	Subscribe(ctx context.Context, channels ...string) *goredis.PubSub
}

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithEventBuffer sets the per-subscription event channel capacity. A
// subscriber that falls this many events behind starts losing the oldest
// pending deliveries.
func WithEventBuffer(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.eventBuf = n
		}
	}
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client   Client
	logger   *slog.Logger
	eventBuf int
}

// New creates a Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client Client, opts ...Option) *Store {
	s := &Store{
		client:   client,
		logger:   slog.Default(),
		eventBuf: 256,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() Client { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op: the caller owns the Redis client, and each
// subscription owns its pub/sub connection.
func (s *Store) Close() error { return nil }
