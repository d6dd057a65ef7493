package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/pddkhanh/solfolio-sub005/internal/domain"
	"github.com/pddkhanh/solfolio-sub005/internal/metrics"
)

// Emitter is the typed broadcast surface handed to the rest of the backend.
// It is created before the transport exists and attached to the live hub at
// startup; until then every call degrades to a warn-logged no-op, since the
// price scheduler may start before any client can connect.
type Emitter struct {
	mu  sync.RWMutex
	hub *Hub
}

func NewEmitter() *Emitter {
	return &Emitter{}
}

// Attach wires the emitter to a live hub. Called once during startup.
func (e *Emitter) Attach(h *Hub) {
	e.mu.Lock()
	e.hub = h
	e.mu.Unlock()
}

func (e *Emitter) attached(op string) *Hub {
	e.mu.RLock()
	h := e.hub
	e.mu.RUnlock()
	if h == nil {
		slog.Warn("Broadcast hub not attached, dropping operation", "operation", op)
		metrics.HubUnattachedDrops.Inc()
	}
	return h
}

// BroadcastPriceUpdates emits a batch of price ticks to the prices room.
func (e *Emitter) BroadcastPriceUpdates(updates []domain.PriceUpdate) {
	h := e.attached("broadcast_price_update")
	if h == nil || len(updates) == 0 {
		return
	}

	event := domain.UpdateEvent{
		Type:      domain.EventPrice,
		Data:      domain.EventData{PriceUpdates: updates},
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal price update event", "error", err)
		return
	}
	h.Broadcast(domain.PricesRoom, data)
}

// BroadcastWalletUpdate emits a balance or transaction update to the
// wallet's room.
func (e *Emitter) BroadcastWalletUpdate(update domain.WalletUpdate) {
	h := e.attached("broadcast_wallet_update")
	if h == nil {
		return
	}

	event := domain.UpdateEvent{
		Type:      domain.EventToken,
		Wallet:    update.WalletAddress,
		Data:      domain.EventData{WalletUpdate: &update},
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal wallet update event", "error", err)
		return
	}
	h.Broadcast(domain.WalletRoom(update.WalletAddress), data)
}

// BroadcastPositionUpdate emits a position update to the wallet's room.
func (e *Emitter) BroadcastPositionUpdate(update domain.PositionUpdate) {
	h := e.attached("broadcast_position_update")
	if h == nil {
		return
	}

	event := domain.UpdateEvent{
		Type:      domain.EventPosition,
		Wallet:    update.WalletAddress,
		Data:      domain.EventData{PositionUpdate: &update},
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal position update event", "error", err)
		return
	}
	h.Broadcast(domain.WalletRoom(update.WalletAddress), data)
}

// ConnectedClients returns the total number of live connections, 0 when no
// hub is attached.
func (e *Emitter) ConnectedClients() int {
	h := e.attached("connected_clients")
	if h == nil {
		return 0
	}
	return h.ConnectedClients()
}

// RoomClients returns the connection ids in a room in join order, empty when
// no hub is attached or the room is empty. Never fails.
func (e *Emitter) RoomClients(room string) []string {
	h := e.attached("room_clients")
	if h == nil {
		return nil
	}
	return h.RoomClients(room)
}
