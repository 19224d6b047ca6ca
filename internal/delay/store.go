// Package delay implements trigger coalescing on top of a key-value store
// with per-key expiration: the Debounce Gateway writes TTL keys, and the
// Expiry Listener turns expiry notifications back into jobs.
package delay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dayuer/convoflow-go/internal/logging"
)

// Store is the delay-store capability the gateway and listener consume.
// Keys are opaque byte strings; identity travels in the key itself because
// an expiry notification only carries the key name.
type Store interface {
	// SetWithTTL writes key with overwrite semantics: re-issuing the same
	// key re-arms its TTL, which is the debounce mechanism.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// SubscribeExpirations streams expired key names until ctx ends.
	SubscribeExpirations(ctx context.Context) (<-chan string, error)
	Close() error
}

// RedisStore implements Store on Redis keyspace notifications.
type RedisStore struct {
	client *redis.Client
	db     int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(url, password string, db int) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	opts.DB = db
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.MaxRetries = 3

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client, db: db}, nil
}

// SetWithTTL implements Store.
func (s *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("delay store set: %w", err)
	}
	return nil
}

// SubscribeExpirations implements Store. Requires keyspace notifications
// for expired events; we enable them best-effort (managed Redis may
// refuse CONFIG SET, in which case the operator must enable "Ex").
func (s *RedisStore) SubscribeExpirations(ctx context.Context) (<-chan string, error) {
	if err := s.client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		logging.L.Warnw("could not enable keyspace notifications, assuming preconfigured",
			logging.FieldScope, "delay_store",
			logging.FieldError, err.Error())
	}

	pattern := fmt.Sprintf("__keyevent@%d__:expired", s.db)
	pubsub := s.client.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribing to expirations: %w", err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
