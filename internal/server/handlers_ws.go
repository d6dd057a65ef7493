package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/pddkhanh/solfolio-sub005/internal/bridge"
	"github.com/pddkhanh/solfolio-sub005/internal/domain"
	"github.com/pddkhanh/solfolio-sub005/internal/kv"
	"github.com/pddkhanh/solfolio-sub005/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Topic subscriptions carry no credentials; the payload is public
		// market and wallet data the caller already named.
		return true
	},
}

// controlMessage is what clients send to manage their room subscriptions.
// Either Room or Wallet is set; a wallet subscription is shorthand for the
// wallet's room.
type controlMessage struct {
	Action string `json:"action"`
	Room   string `json:"room,omitempty"`
	Wallet string `json:"wallet,omitempty"`
}

func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("Failed to upgrade WebSocket", "error", err)
		return nil
	}

	connID, err := s.hub.Register(conn)
	if err != nil {
		slog.Warn("Failed to register WebSocket connection", "error", err)
		_ = conn.Close()
		return nil
	}
	logger := logging.WithConn(connID)
	defer s.hub.Unregister(connID)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var msg controlMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Warn("Dropping malformed control message", "error", err)
			continue
		}

		room := msg.Room
		if msg.Wallet != "" {
			room = domain.WalletRoom(msg.Wallet)
		}
		if room == "" {
			logger.Warn("Control message without room or wallet", "action", msg.Action)
			continue
		}

		switch msg.Action {
		case "subscribe":
			if err := s.hub.Join(connID, room); err != nil {
				logger.Warn("Join failed", "room", room, "error", err)
				continue
			}
			if room == domain.PricesRoom {
				s.sendLatestPrices(connID, logger)
			}
		case "unsubscribe":
			s.hub.Leave(connID, room)
		default:
			logger.Warn("Unknown control action", "action", msg.Action)
		}
	}

	return nil
}

// sendLatestPrices delivers the cached last-known price batch to a client
// that just joined the prices room, so late joiners are not blank until the
// next tick. Best-effort: a missing or stale cache entry is silently fine.
func (s *Server) sendLatestPrices(connID string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload, err := s.store.Get(ctx, bridge.LatestPricesKey)
	if err != nil {
		if err != kv.ErrNotFound {
			logger.Warn("Failed to read latest prices cache", "error", err)
		}
		return
	}

	var updates []domain.PriceUpdate
	if err := json.Unmarshal([]byte(payload), &updates); err != nil {
		logger.Warn("Dropping malformed latest prices cache entry", "error", err)
		return
	}
	if len(updates) == 0 {
		return
	}

	event := domain.UpdateEvent{
		Type:      domain.EventPrice,
		Data:      domain.EventData{PriceUpdates: updates},
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("Failed to marshal catch-up price event", "error", err)
		return
	}
	s.hub.Send(connID, data)
}
