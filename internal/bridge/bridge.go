// Package bridge connects the process-local broadcast hub to the shared
// pub/sub backend, so an event published by any backend instance reaches
// the clients of every instance.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pddkhanh/solfolio-sub005/internal/domain"
	"github.com/pddkhanh/solfolio-sub005/internal/kv"
	"github.com/pddkhanh/solfolio-sub005/internal/logging"
	"github.com/pddkhanh/solfolio-sub005/internal/metrics"
)

// Broadcaster is the slice of the hub the bridge forwards into.
type Broadcaster interface {
	BroadcastPriceUpdates(updates []domain.PriceUpdate)
	BroadcastWalletUpdate(update domain.WalletUpdate)
	BroadcastPositionUpdate(update domain.PositionUpdate)
}

const (
	priceChannel    = "price:update"
	walletChannel   = "wallet:update"
	positionChannel = "position:update"

	// LatestPricesKey caches the most recent price batch so late-joining
	// instances and clients get a best-effort last known price without
	// event replay.
	LatestPricesKey = "prices:latest"

	latestPricesTTL = 60 * time.Second
)

// Bridge republishes events received from the bus into the local hub and
// offers the publish side used by event producers.
type Bridge struct {
	bus     kv.Bus
	store   kv.Store
	emitter Broadcaster
}

func New(bus kv.Bus, store kv.Store, emitter Broadcaster) *Bridge {
	return &Bridge{bus: bus, store: store, emitter: emitter}
}

// Run subscribes to the three update channels and forwards messages into
// the local hub until ctx is cancelled. Malformed payloads are dropped and
// logged; they never tear down the loop.
func (b *Bridge) Run(ctx context.Context) error {
	sub, err := b.bus.Subscribe(ctx, priceChannel, walletChannel, positionChannel)
	if err != nil {
		return fmt.Errorf("subscribe update channels: %w", err)
	}
	defer func() {
		_ = sub.Close()
	}()

	slog.Info("Cross-instance bridge started",
		"channels", []string{priceChannel, walletChannel, positionChannel})

	for {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			b.dispatch(msg)
		case <-ctx.Done():
			return nil
		}
	}
}

func (b *Bridge) dispatch(msg kv.Message) {
	metrics.PubSubMessagesReceived.WithLabelValues(msg.Channel).Inc()

	switch msg.Channel {
	case priceChannel:
		var updates []domain.PriceUpdate
		if err := json.Unmarshal([]byte(msg.Payload), &updates); err != nil {
			b.dropMalformed(msg.Channel, err)
			return
		}
		b.emitter.BroadcastPriceUpdates(updates)
	case walletChannel:
		var update domain.WalletUpdate
		if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
			b.dropMalformed(msg.Channel, err)
			return
		}
		logging.WithWallet(update.WalletAddress).Debug("Forwarding wallet update", "type", update.Type)
		b.emitter.BroadcastWalletUpdate(update)
	case positionChannel:
		var update domain.PositionUpdate
		if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
			b.dropMalformed(msg.Channel, err)
			return
		}
		logging.WithWallet(update.WalletAddress).Debug("Forwarding position update", "positions", len(update.Positions))
		b.emitter.BroadcastPositionUpdate(update)
	default:
		slog.Warn("Message on unexpected channel", "channel", msg.Channel)
	}
}

func (b *Bridge) dropMalformed(channel string, err error) {
	metrics.PubSubMalformedMessages.WithLabelValues(channel).Inc()
	slog.Warn("Dropping malformed pub/sub payload", "channel", channel, "error", err)
}

// PublishPriceUpdates publishes a price batch to all instances and caches
// it under LatestPricesKey with a 60s expiry.
func (b *Bridge) PublishPriceUpdates(ctx context.Context, updates []domain.PriceUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	data, err := json.Marshal(updates)
	if err != nil {
		return fmt.Errorf("marshal price updates: %w", err)
	}
	if err := b.bus.Publish(ctx, priceChannel, string(data)); err != nil {
		return fmt.Errorf("publish price updates: %w", err)
	}
	if err := b.store.Set(ctx, LatestPricesKey, string(data), latestPricesTTL); err != nil {
		// Best-effort cache; the publish already succeeded.
		slog.Warn("Failed to cache latest prices", "error", err)
	}
	return nil
}

// PublishWalletUpdate publishes a wallet update to all instances.
func (b *Bridge) PublishWalletUpdate(ctx context.Context, update domain.WalletUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal wallet update: %w", err)
	}
	if err := b.bus.Publish(ctx, walletChannel, string(data)); err != nil {
		return fmt.Errorf("publish wallet update: %w", err)
	}
	return nil
}

// PublishPositionUpdate publishes a position update to all instances.
func (b *Bridge) PublishPositionUpdate(ctx context.Context, update domain.PositionUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal position update: %w", err)
	}
	if err := b.bus.Publish(ctx, positionChannel, string(data)); err != nil {
		return fmt.Errorf("publish position update: %w", err)
	}
	return nil
}
