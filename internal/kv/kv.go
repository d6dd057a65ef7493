// Package kv abstracts the key-value and pub/sub backend. The rest of the
// server depends on these two narrow interfaces only; Redis provides the
// production implementation.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Get when the key does not exist or has
// expired.
var ErrNotFound = errors.New("kv: key not found")

// Store offers get/set-with-ttl cache operations.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Message is a single pub/sub delivery.
type Message struct {
	Channel string
	Payload string
}

// Subscription is an active channel subscription. Messages is closed when
// the subscription ends.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Bus offers publish/subscribe channel primitives. Delivery is at-most-once
// per subscriber with no cross-subscriber ordering; duplicates after
// reconnects are possible and consumers must tolerate them.
type Bus interface {
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}
