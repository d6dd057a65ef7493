package kv

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with TTL expiry. It backs single-node
// deployments without Redis and the package's tests.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]memoryEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]memoryEntry)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(s.values, key)
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.values[key] = entry
	return nil
}

// MemoryBus is an in-process Bus. Every subscriber of a channel receives
// every publish on it; slow subscribers drop messages rather than block the
// publisher, matching the fire-and-forget pub/sub contract.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[*memorySubscription][]string
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[*memorySubscription][]string)}
}

var _ Bus = (*MemoryBus)(nil)

func (b *MemoryBus) Publish(_ context.Context, channel, payload string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub, channels := range b.subs {
		for _, ch := range channels {
			if ch != channel {
				continue
			}
			select {
			case sub.ch <- Message{Channel: channel, Payload: payload}:
			default:
			}
			break
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, channels ...string) (Subscription, error) {
	sub := &memorySubscription{
		bus: b,
		ch:  make(chan Message, 64),
	}
	b.mu.Lock()
	b.subs[sub] = channels
	b.mu.Unlock()
	return sub, nil
}

type memorySubscription struct {
	bus       *MemoryBus
	ch        chan Message
	closeOnce sync.Once
}

func (s *memorySubscription) Messages() <-chan Message {
	return s.ch
}

func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
	return nil
}
