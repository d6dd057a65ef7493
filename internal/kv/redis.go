package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pddkhanh/solfolio-sub005/internal/metrics"
)

// Client wraps a go-redis client and implements both Store and Bus.
type Client struct {
	rdb *redis.Client
}

var (
	_ Store = (*Client)(nil)
	_ Bus   = (*Client)(nil)
)

// NewClient connects to Redis from a URL (e.g. "redis://localhost:6379") and
// verifies the connection with a ping.
func NewClient(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Ping verifies the Redis connection, used by readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Get returns the value stored at key, or ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %q: %w", key, err)
	}
	return val, nil
}

// Set stores value at key with the given expiry. A zero ttl stores without
// expiry.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Publish sends payload on channel.
func (c *Client) Publish(ctx context.Context, channel, payload string) error {
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		metrics.PubSubPublishErrors.WithLabelValues(channel).Inc()
		return fmt.Errorf("redis publish %q: %w", channel, err)
	}
	return nil
}

// Subscribe opens a subscription on the given channels. The returned
// subscription delivers until Close is called or ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, channels...)

	// Wait for the subscription to be confirmed so publishes immediately
	// after Subscribe returns are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		ch:     make(chan Message, 64),
	}
	go sub.pump(ctx)
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan Message
}

func (s *redisSubscription) pump(ctx context.Context) {
	defer close(s.ch)
	msgCh := s.pubsub.Channel()
	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			select {
			case s.ch <- Message{Channel: msg.Channel, Payload: msg.Payload}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.ch
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
