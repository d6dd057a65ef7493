// Package client is the consumer-side data layer: typed request/response
// access to portfolio data plus a live incremental-update feed merged into
// an in-memory cache.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pddkhanh/solfolio-sub005/internal/domain"
)

const defaultAutoRefreshInterval = 60 * time.Second

// TransportError wraps a failed network call or stream. It is returned to
// the caller and also retained on the client for UI binding via LastError
// and OnError.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Options configures a Client. BaseURL is the only required field.
type Options struct {
	// BaseURL of the backend, e.g. "http://localhost:8080".
	BaseURL    string
	HTTPClient *http.Client
	Clock      clockwork.Clock
	// MaxReconnectAttempts bounds the push connection's automatic
	// reconnects. Zero means the Conn default.
	MaxReconnectAttempts int
	// AutoRefreshInterval for StartAutoRefresh. Defaults to 60s.
	AutoRefreshInterval time.Duration
}

// Client caches the latest known portfolio state for one consumer. Unary
// fetches replace cache slices wholesale; push events patch entries in
// place by entity key.
type Client struct {
	baseURL         string
	httpc           *http.Client
	clock           clockwork.Clock
	maxReconnect    int
	refreshInterval time.Duration

	mu           sync.RWMutex
	portfolio    *domain.Portfolio
	tokens       []domain.Token
	positions    []domain.Position
	lastErr      error
	errListeners map[int]func(error)
	nextErrID    int

	subMu   sync.Mutex
	subConn *Conn

	refreshMu     sync.Mutex
	refreshCancel context.CancelFunc
	refreshDone   chan struct{}
}

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("BaseURL is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.AutoRefreshInterval <= 0 {
		opts.AutoRefreshInterval = defaultAutoRefreshInterval
	}

	return &Client{
		baseURL:         strings.TrimRight(opts.BaseURL, "/"),
		httpc:           opts.HTTPClient,
		clock:           opts.Clock,
		maxReconnect:    opts.MaxReconnectAttempts,
		refreshInterval: opts.AutoRefreshInterval,
		errListeners:    make(map[int]func(error)),
	}, nil
}

// --- Unary calls ---

// GetPortfolio fetches the wallet's snapshot and replaces the local
// portfolio, tokens and positions cache wholesale. forceRefresh asks the
// server to bypass its snapshot cache; it is advisory.
func (c *Client) GetPortfolio(ctx context.Context, wallet string, forceRefresh bool) (*domain.Portfolio, error) {
	query := url.Values{}
	if forceRefresh {
		query.Set("refresh", "true")
	}

	var snapshot domain.Portfolio
	if err := c.doGet(ctx, "get_portfolio", "/api/v1/portfolio/"+url.PathEscape(wallet), query, &snapshot); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.portfolio = &snapshot
	c.tokens = append([]domain.Token(nil), snapshot.Tokens...)
	c.positions = append([]domain.Position(nil), snapshot.Positions...)
	c.mu.Unlock()

	result := snapshot
	return &result, nil
}

// GetTokenBalances fetches the wallet's token balances and updates only the
// tokens slice of the cache.
func (c *Client) GetTokenBalances(ctx context.Context, wallet string) ([]domain.Token, error) {
	var resp struct {
		Wallet string         `json:"wallet"`
		Tokens []domain.Token `json:"tokens"`
	}
	if err := c.doGet(ctx, "get_token_balances", "/api/v1/tokens/"+url.PathEscape(wallet), nil, &resp); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.tokens = append([]domain.Token(nil), resp.Tokens...)
	c.mu.Unlock()
	return resp.Tokens, nil
}

// GetPositions fetches the wallet's positions, optionally filtered by
// protocol, and updates only the positions slice of the cache.
func (c *Client) GetPositions(ctx context.Context, wallet string, protocols ...string) ([]domain.Position, error) {
	query := url.Values{}
	if len(protocols) > 0 {
		query.Set("protocols", strings.Join(protocols, ","))
	}

	var resp struct {
		Wallet    string            `json:"wallet"`
		Positions []domain.Position `json:"positions"`
	}
	if err := c.doGet(ctx, "get_positions", "/api/v1/positions/"+url.PathEscape(wallet), query, &resp); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.positions = append([]domain.Position(nil), resp.Positions...)
	c.mu.Unlock()
	return resp.Positions, nil
}

// GetPrices fetches current prices for the given mints and patches them
// into cached tokens.
func (c *Client) GetPrices(ctx context.Context, mints []string) ([]domain.PriceUpdate, error) {
	query := url.Values{}
	query.Set("mints", strings.Join(mints, ","))

	var resp struct {
		Prices []domain.PriceUpdate `json:"prices"`
	}
	if err := c.doGet(ctx, "get_prices", "/api/v1/prices", query, &resp); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.patchPricesLocked(resp.Prices)
	c.mu.Unlock()
	return resp.Prices, nil
}

// HealthCheck verifies the backend is ready.
func (c *Client) HealthCheck(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	return c.doGet(ctx, "health_check", "/health/ready", nil, &resp)
}

func (c *Client) doGet(ctx context.Context, op, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return c.failed(op, err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return c.failed(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.failed(op, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return c.failed(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// failed wraps err as a TransportError, records it for observers and
// returns it.
func (c *Client) failed(op string, err error) error {
	terr := &TransportError{Op: op, Err: err}

	c.mu.Lock()
	c.lastErr = terr
	handlers := make([]func(error), 0, len(c.errListeners))
	for _, fn := range c.errListeners {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(terr)
	}
	return terr
}

// LastError returns the most recent transport error, nil if none occurred.
func (c *Client) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// OnError registers an error observer for UI binding. The returned function
// removes it.
func (c *Client) OnError(fn func(error)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextErrID
	c.nextErrID++
	c.errListeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.errListeners, id)
	}
}

// --- Push subscription ---

// SubscribeToUpdates opens the push stream scoped to one wallet and merges
// received events into the local cache. eventTypes narrows the merged event
// kinds; empty means all. onUpdate, if set, fires after each cache
// mutation. Only one live subscription is permitted per Client; any
// previous one is torn down first. The returned function cancels the
// subscription; a stale one left over from an earlier subscription is a
// no-op. It blocks until the stream goroutine exits, so it must not be
// called from inside onUpdate.
func (c *Client) SubscribeToUpdates(ctx context.Context, wallet string, eventTypes []domain.EventType, onUpdate func(domain.UpdateEvent)) (func(), error) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.subConn != nil {
		c.subConn.Close()
		c.subConn = nil
	}

	wanted := make(map[domain.EventType]struct{}, len(eventTypes))
	for _, et := range eventTypes {
		wanted[et] = struct{}{}
	}
	wants := func(et domain.EventType) bool {
		if len(wanted) == 0 {
			return true
		}
		_, ok := wanted[et]
		return ok
	}

	conn := NewConn(ConnConfig{
		URL:                  c.wsURL(),
		MaxReconnectAttempts: c.maxReconnect,
		Clock:                c.clock,
	})

	handle := func(event domain.UpdateEvent) {
		c.applyEvent(event)
		if onUpdate != nil {
			onUpdate(event)
		}
	}
	if wants(domain.EventToken) {
		conn.OnWalletUpdate(handle)
	}
	if wants(domain.EventPosition) {
		conn.OnPositionUpdate(handle)
	}
	if wants(domain.EventPrice) {
		conn.OnPriceUpdate(handle)
		conn.SubscribeToPrices()
	}
	conn.SubscribeToWallet(wallet)

	if err := conn.Connect(ctx); err != nil {
		conn.Close()
		return nil, c.failed("subscribe_to_updates", err)
	}

	c.subConn = conn
	cancel := func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		conn.Close()
		// Only release the handle if it is still ours; a later
		// subscription may have replaced it.
		if c.subConn == conn {
			c.subConn = nil
		}
	}
	return cancel, nil
}

func (c *Client) wsURL() string {
	wsBase := c.baseURL
	switch {
	case strings.HasPrefix(wsBase, "https://"):
		wsBase = "wss://" + strings.TrimPrefix(wsBase, "https://")
	case strings.HasPrefix(wsBase, "http://"):
		wsBase = "ws://" + strings.TrimPrefix(wsBase, "http://")
	}
	return wsBase + "/ws"
}

// --- Auto refresh ---

// StartAutoRefresh periodically refreshes the wallet's snapshot with a
// non-forced GetPortfolio. Starting again replaces any running refresh
// loop; duplicate timers cannot accumulate.
func (c *Client) StartAutoRefresh(wallet string) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.stopAutoRefreshLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.refreshCancel = cancel
	c.refreshDone = done

	go func() {
		defer close(done)
		ticker := c.clock.NewTicker(c.refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.Chan():
				if _, err := c.GetPortfolio(ctx, wallet, false); err != nil {
					slog.Debug("Auto refresh failed", "wallet", wallet, "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopAutoRefresh cancels the refresh loop, if any.
func (c *Client) StopAutoRefresh() {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	c.stopAutoRefreshLocked()
}

func (c *Client) stopAutoRefreshLocked() {
	if c.refreshCancel == nil {
		return
	}
	c.refreshCancel()
	<-c.refreshDone
	c.refreshCancel = nil
	c.refreshDone = nil
}

// Close cancels the push subscription and the auto-refresh loop. It blocks
// until both goroutines exit, so it must not be called from inside an
// onUpdate or OnError callback.
func (c *Client) Close() {
	c.subMu.Lock()
	if c.subConn != nil {
		c.subConn.Close()
		c.subConn = nil
	}
	c.subMu.Unlock()
	c.StopAutoRefresh()
}
