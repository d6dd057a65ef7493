package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/jpillora/backoff"

	"github.com/pddkhanh/solfolio-sub005/internal/domain"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	defaultMaxReconnectAttempts = 5
	defaultBackoffMin           = time.Second
	defaultBackoffMax           = 30 * time.Second
	dialTimeout                 = 10 * time.Second
)

// ConnConfig configures a Conn. URL is the only required field.
type ConnConfig struct {
	// URL of the push endpoint, e.g. "ws://localhost:8080/ws".
	URL string
	// MaxReconnectAttempts bounds consecutive automatic reconnect attempts
	// before the connection goes terminally disconnected. Defaults to 5.
	MaxReconnectAttempts int
	// BackoffMin/BackoffMax bound the exponential reconnect delay.
	BackoffMin time.Duration
	BackoffMax time.Duration
	Dialer     *websocket.Dialer
	Clock      clockwork.Clock
}

// controlMessage mirrors the server's subscription control protocol.
type controlMessage struct {
	Action string `json:"action"`
	Room   string `json:"room,omitempty"`
	Wallet string `json:"wallet,omitempty"`
}

// Conn manages exactly one push connection: dialing, heartbeat, bounded
// reconnect with exponential backoff, and multiplexing of room
// subscriptions. Listener registrations and subscription intents are
// independent of connection state; intents are re-sent on every successful
// (re)connect because the server holds no cross-connection state.
type Conn struct {
	url         string
	maxAttempts int
	dialer      *websocket.Dialer
	clock       clockwork.Clock
	backoff     *backoff.Backoff

	mu             sync.Mutex
	state          State
	attempts       int
	ws             *websocket.Conn
	rooms          map[string]struct{}
	listeners      map[domain.EventType]map[int]func(domain.UpdateEvent)
	stateListeners map[int]func(State)
	nextListener   int
	cancel         context.CancelFunc
	sessionDone    chan struct{}
	closed         bool

	writeMu sync.Mutex
}

// NewConn creates a connection manager in the disconnected state. Call
// Connect to dial.
func NewConn(cfg ConnConfig) *Conn {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = defaultBackoffMin
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: dialTimeout}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return &Conn{
		url:         cfg.URL,
		maxAttempts: cfg.MaxReconnectAttempts,
		dialer:      cfg.Dialer,
		clock:       cfg.Clock,
		backoff: &backoff.Backoff{
			Min:    cfg.BackoffMin,
			Max:    cfg.BackoffMax,
			Factor: 2,
			Jitter: true,
		},
		state:          StateDisconnected,
		rooms:          make(map[string]struct{}),
		listeners:      make(map[domain.EventType]map[int]func(domain.UpdateEvent)),
		stateListeners: make(map[int]func(State)),
	}
}

// Connect dials the endpoint. The first dial is synchronous so callers see
// establishment errors; after a successful handshake a background session
// keeps the connection alive, reconnecting with bounded backoff on failure.
// Calling Connect while a session is live is a no-op.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("connection manager is closed")
	}
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.setState(StateConnecting)

	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.ws = ws
	c.attempts = 0
	c.cancel = cancel
	c.sessionDone = done
	c.mu.Unlock()
	c.backoff.Reset()

	c.setState(StateConnected)
	c.resendIntents(ws)

	go c.session(sessionCtx, ws, done)
	return nil
}

// Reconnect manually restarts a terminally disconnected connection. It
// resets the attempt counter, as if freshly mounted.
func (c *Conn) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()
	c.backoff.Reset()
	return c.Connect(ctx)
}

// Close tears the connection down and stops all reconnect activity. Listener
// registrations and subscription intents are discarded. Close blocks until
// the session goroutine exits, so it must not be called from inside an event
// or state listener; unregister from there and Close elsewhere.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.cancel
	done := c.sessionDone
	ws := c.ws
	c.cancel = nil
	c.sessionDone = nil
	c.ws = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		if ws != nil {
			_ = ws.Close()
		}
		<-done
	}
	c.setState(StateDisconnected)
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// --- Session loop ---

func (c *Conn) session(ctx context.Context, ws *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		readErr := c.readLoop(ctx, ws)
		_ = ws.Close()

		if ctx.Err() != nil {
			return
		}
		slog.Debug("Push connection lost", "error", readErr)

		next, ok := c.redial(ctx)
		if !ok {
			// Clear the session handles before publishing the terminal
			// state, so an observer reacting with Reconnect starts fresh.
			c.finishSession()
			c.setState(StateDisconnected)
			return
		}
		ws = next
	}
}

// redial retries the dial under the backoff policy. Returns false when the
// attempt budget is exhausted or the session was cancelled; the connection
// is then terminally disconnected until a manual Reconnect.
func (c *Conn) redial(ctx context.Context) (*websocket.Conn, bool) {
	for {
		c.mu.Lock()
		if c.attempts >= c.maxAttempts {
			c.mu.Unlock()
			slog.Warn("Reconnect attempts exhausted", "attempts", c.maxAttempts)
			return nil, false
		}
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		c.setState(StateReconnecting)
		delay := c.backoff.Duration()
		slog.Debug("Scheduling reconnect", "attempt", attempt, "delay", delay)

		timer := c.clock.NewTimer(delay)
		select {
		case <-timer.Chan():
		case <-ctx.Done():
			timer.Stop()
			return nil, false
		}
		timer.Stop()

		c.setState(StateConnecting)
		ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false
			}
			slog.Debug("Reconnect dial failed", "attempt", attempt, "error", err)
			continue
		}

		c.mu.Lock()
		c.ws = ws
		c.attempts = 0
		c.mu.Unlock()
		c.backoff.Reset()

		c.setState(StateConnected)
		c.resendIntents(ws)
		return ws, true
	}
}

// finishSession clears the session handles after a terminal disconnect so a
// manual Reconnect can start fresh.
func (c *Conn) finishSession() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = nil
	c.sessionDone = nil
	c.ws = nil
	c.mu.Unlock()
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return err
		}

		var event domain.UpdateEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			slog.Warn("Dropping malformed push event", "error", err)
			continue
		}
		c.dispatch(event)
	}
}

func (c *Conn) dispatch(event domain.UpdateEvent) {
	c.mu.Lock()
	registry := c.listeners[event.Type]
	handlers := make([]func(domain.UpdateEvent), 0, len(registry))
	for _, fn := range registry {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(event)
	}
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	handlers := make([]func(State), 0, len(c.stateListeners))
	for _, fn := range c.stateListeners {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(s)
	}
}

// --- Subscription intents ---

// SubscribeToPrices registers interest in the shared prices room. Effective
// immediately when connected, otherwise on the next successful connect.
func (c *Conn) SubscribeToPrices() {
	c.subscribeRoom(domain.PricesRoom)
}

// SubscribeToWallet registers interest in a wallet's room.
func (c *Conn) SubscribeToWallet(address string) {
	c.subscribeRoom(domain.WalletRoom(address))
}

// UnsubscribeFromPrices removes the prices room intent.
func (c *Conn) UnsubscribeFromPrices() {
	c.unsubscribeRoom(domain.PricesRoom)
}

// UnsubscribeFromWallet removes a wallet room intent.
func (c *Conn) UnsubscribeFromWallet(address string) {
	c.unsubscribeRoom(domain.WalletRoom(address))
}

func (c *Conn) subscribeRoom(room string) {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	ws := c.ws
	connected := c.state == StateConnected
	c.mu.Unlock()

	if connected && ws != nil {
		c.sendControl(ws, controlMessage{Action: "subscribe", Room: room})
	}
}

func (c *Conn) unsubscribeRoom(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	ws := c.ws
	connected := c.state == StateConnected
	c.mu.Unlock()

	if connected && ws != nil {
		c.sendControl(ws, controlMessage{Action: "unsubscribe", Room: room})
	}
}

func (c *Conn) resendIntents(ws *websocket.Conn) {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.mu.Unlock()

	for _, room := range rooms {
		c.sendControl(ws, controlMessage{Action: "subscribe", Room: room})
	}
}

func (c *Conn) sendControl(ws *websocket.Conn, msg controlMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal control message", "error", err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(c.clock.Now().Add(5 * time.Second))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("Failed to send control message", "action", msg.Action, "error", err)
	}
}

// --- Listener registration ---

// OnPriceUpdate registers a handler for price events. The returned function
// removes only this handler.
func (c *Conn) OnPriceUpdate(fn func(domain.UpdateEvent)) func() {
	return c.addListener(domain.EventPrice, fn)
}

// OnWalletUpdate registers a handler for wallet (token) events.
func (c *Conn) OnWalletUpdate(fn func(domain.UpdateEvent)) func() {
	return c.addListener(domain.EventToken, fn)
}

// OnPositionUpdate registers a handler for position events.
func (c *Conn) OnPositionUpdate(fn func(domain.UpdateEvent)) func() {
	return c.addListener(domain.EventPosition, fn)
}

// OnStateChange registers a handler observing lifecycle transitions.
func (c *Conn) OnStateChange(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextListener
	c.nextListener++
	c.stateListeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.stateListeners, id)
	}
}

func (c *Conn) addListener(eventType domain.EventType, fn func(domain.UpdateEvent)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	registry, ok := c.listeners[eventType]
	if !ok {
		registry = make(map[int]func(domain.UpdateEvent))
		c.listeners[eventType] = registry
	}
	id := c.nextListener
	c.nextListener++
	registry[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(registry, id)
	}
}
