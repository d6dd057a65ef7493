package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pddkhanh/solfolio-sub005/internal/config"
	"github.com/pddkhanh/solfolio-sub005/internal/domain"
	"github.com/pddkhanh/solfolio-sub005/internal/hub"
	"github.com/pddkhanh/solfolio-sub005/internal/kv"
	"github.com/pddkhanh/solfolio-sub005/internal/portfolio"
	"github.com/pddkhanh/solfolio-sub005/internal/server"
)

// backendFixture is a full in-process backend: HTTP API, push channel and
// broadcast hub, backed by fixture data.
type backendFixture struct {
	url     string
	source  *portfolio.StaticSource
	emitter *hub.Emitter
}

func newBackend(t *testing.T) *backendFixture {
	t.Helper()

	source := portfolio.NewStaticSource()
	source.SetPortfolio(domain.Portfolio{
		Wallet: "W1",
		Tokens: []domain.Token{
			{Mint: "SOL_MINT", Symbol: "SOL", Balance: 2, Price: 150, Value: 300},
		},
		Positions: []domain.Position{
			{Protocol: "Marinade", Type: "staking", Address: "POS1", Value: 125},
		},
	})

	h := hub.NewHub(clockwork.NewRealClock(), 50)
	t.Cleanup(func() { h.Stop() })
	emitter := hub.NewEmitter()
	emitter.Attach(h)

	cfg := &config.Config{
		AppEnv:            "test",
		Port:              "0",
		PriceTickInterval: 10 * time.Second,
		PortfolioCacheTTL: time.Minute,
		MaxClientsPerRoom: 50,
	}
	svc := portfolio.NewService(source, cfg.PortfolioCacheTTL)
	srv := server.NewServer(cfg, svc, h, kv.NewMemoryStore(), nil)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &backendFixture{url: ts.URL, source: source, emitter: emitter}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	c, err := New(Options{BaseURL: baseURL})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestClient_GetPortfolioPopulatesCache(t *testing.T) {
	backend := newBackend(t)
	c := newTestClient(t, backend.url)

	snapshot, err := c.GetPortfolio(context.Background(), "W1", false)
	require.NoError(t, err)
	assert.Equal(t, 425.0, snapshot.TotalValue)

	cached := c.Portfolio()
	require.NotNil(t, cached)
	assert.Equal(t, "W1", cached.Wallet)
	assert.Len(t, c.Tokens(), 1)
	assert.Len(t, c.Positions(), 1)
}

func TestClient_GetTokenBalancesUpdatesOnlyTokens(t *testing.T) {
	backend := newBackend(t)
	c := newTestClient(t, backend.url)

	tokens, err := c.GetTokenBalances(context.Background(), "W1")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "SOL_MINT", tokens[0].Mint)
	assert.Nil(t, c.Portfolio(), "token fetch must not fabricate a snapshot")
}

func TestClient_GetPositionsWithProtocolFilter(t *testing.T) {
	backend := newBackend(t)
	c := newTestClient(t, backend.url)

	positions, err := c.GetPositions(context.Background(), "W1", "Marinade")
	require.NoError(t, err)
	require.Len(t, positions, 1)

	none, err := c.GetPositions(context.Background(), "W1", "Kamino")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestClient_GetPricesPatchesCachedTokens(t *testing.T) {
	backend := newBackend(t)
	c := newTestClient(t, backend.url)

	_, err := c.GetPortfolio(context.Background(), "W1", false)
	require.NoError(t, err)

	backend.source.SetPrice("SOL_MINT", 180)
	updates, err := c.GetPrices(context.Background(), []string{"SOL_MINT"})
	require.NoError(t, err)
	require.Len(t, updates, 1)

	tokens := c.Tokens()
	assert.Equal(t, 180.0, tokens[0].Price)
	assert.Equal(t, 360.0, tokens[0].Value)
}

func TestClient_HealthCheck(t *testing.T) {
	backend := newBackend(t)
	c := newTestClient(t, backend.url)
	assert.NoError(t, c.HealthCheck(context.Background()))
}

func TestClient_TransportErrorIsRecordedAndObserved(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(ts.Close)

	c := newTestClient(t, ts.URL)
	observed := make(chan error, 1)
	c.OnError(func(err error) { observed <- err })

	_, err := c.GetPortfolio(context.Background(), "W1", false)
	require.Error(t, err)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "get_portfolio", terr.Op)
	assert.ErrorIs(t, c.LastError(), err)

	select {
	case got := <-observed:
		assert.Equal(t, err, got)
	case <-time.After(time.Second):
		t.Fatal("error observer not notified")
	}
}

func TestClient_SubscribeToUpdatesMergesPushEvents(t *testing.T) {
	backend := newBackend(t)
	c := newTestClient(t, backend.url)

	_, err := c.GetPortfolio(context.Background(), "W1", false)
	require.NoError(t, err)

	updates := make(chan domain.UpdateEvent, 8)
	cancel, err := c.SubscribeToUpdates(context.Background(), "W1", nil, func(e domain.UpdateEvent) {
		updates <- e
	})
	require.NoError(t, err)
	defer cancel()

	waitForRoom := func(room string) {
		require.Eventually(t, func() bool {
			return len(backend.emitter.RoomClients(room)) == 1
		}, time.Second, time.Millisecond)
	}
	waitForRoom(domain.WalletRoom("W1"))
	waitForRoom(domain.PricesRoom)

	backend.emitter.BroadcastPositionUpdate(domain.PositionUpdate{
		WalletAddress: "W1",
		Positions:     []domain.Position{{Protocol: "Orca", Type: "lp", Address: "POS2", Value: 40}},
	})

	select {
	case e := <-updates:
		assert.Equal(t, domain.EventPosition, e.Type)
	case <-time.After(time.Second):
		t.Fatal("position event not delivered")
	}

	positions := c.Positions()
	require.Len(t, positions, 2)
	assert.Equal(t, "Orca", positions[1].Protocol)

	backend.emitter.BroadcastPriceUpdates([]domain.PriceUpdate{
		{TokenMint: "SOL_MINT", Price: 200, Timestamp: time.Now()},
	})

	select {
	case e := <-updates:
		assert.Equal(t, domain.EventPrice, e.Type)
	case <-time.After(time.Second):
		t.Fatal("price event not delivered")
	}

	tokens := c.Tokens()
	assert.Equal(t, 200.0, tokens[0].Price)
	assert.Equal(t, 400.0, tokens[0].Value)
	// The snapshot total remains the fetched one until the next refresh.
	assert.Equal(t, 425.0, c.Portfolio().TotalValue)
}

func TestClient_SubscribeToUpdatesFiltersEventTypes(t *testing.T) {
	backend := newBackend(t)
	c := newTestClient(t, backend.url)

	updates := make(chan domain.UpdateEvent, 8)
	cancel, err := c.SubscribeToUpdates(context.Background(), "W1",
		[]domain.EventType{domain.EventPosition},
		func(e domain.UpdateEvent) { updates <- e })
	require.NoError(t, err)
	defer cancel()

	require.Eventually(t, func() bool {
		return len(backend.emitter.RoomClients(domain.WalletRoom("W1"))) == 1
	}, time.Second, time.Millisecond)
	// Price events were not requested, so the prices room is not joined.
	assert.Empty(t, backend.emitter.RoomClients(domain.PricesRoom))

	backend.emitter.BroadcastWalletUpdate(domain.WalletUpdate{
		WalletAddress: "W1",
		Type:          domain.WalletUpdateBalance,
		Tokens:        []domain.Token{{Mint: "USDC_MINT", Balance: 1, Price: 1, Value: 1}},
	})
	backend.emitter.BroadcastPositionUpdate(domain.PositionUpdate{
		WalletAddress: "W1",
		Positions:     []domain.Position{{Protocol: "Orca", Address: "POS2", Value: 40}},
	})

	select {
	case e := <-updates:
		assert.Equal(t, domain.EventPosition, e.Type)
	case <-time.After(time.Second):
		t.Fatal("position event not delivered")
	}
	assert.Empty(t, c.Tokens(), "filtered wallet event must not touch the cache")
}

func TestClient_SubscribeToUpdatesReplacesPriorSubscription(t *testing.T) {
	backend := newBackend(t)
	c := newTestClient(t, backend.url)

	_, err := c.SubscribeToUpdates(context.Background(), "W1", nil, nil)
	require.NoError(t, err)
	cancel, err := c.SubscribeToUpdates(context.Background(), "W2", nil, nil)
	require.NoError(t, err)
	defer cancel()

	require.Eventually(t, func() bool {
		return len(backend.emitter.RoomClients(domain.WalletRoom("W2"))) == 1
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return len(backend.emitter.RoomClients(domain.WalletRoom("W1"))) == 0
	}, time.Second, time.Millisecond)
}

func TestClient_StaleCancelDoesNotClobberLiveSubscription(t *testing.T) {
	backend := newBackend(t)
	c := newTestClient(t, backend.url)

	staleCancel, err := c.SubscribeToUpdates(context.Background(), "W1", nil, nil)
	require.NoError(t, err)
	_, err = c.SubscribeToUpdates(context.Background(), "W2", nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(backend.emitter.RoomClients(domain.WalletRoom("W2"))) == 1
	}, time.Second, time.Millisecond)

	// The first subscription's cancel must not release the handle the
	// second one owns.
	staleCancel()
	assert.Len(t, backend.emitter.RoomClients(domain.WalletRoom("W2")), 1)

	c.Close()
	require.Eventually(t, func() bool {
		return len(backend.emitter.RoomClients(domain.WalletRoom("W2"))) == 0
	}, time.Second, time.Millisecond)
}

func TestClient_StartAutoRefreshReplacesLoop(t *testing.T) {
	backend := newBackend(t)

	clock := clockwork.NewFakeClock()
	c, err := New(Options{BaseURL: backend.url, Clock: clock, AutoRefreshInterval: time.Minute})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	c.StartAutoRefresh("W1")
	c.StartAutoRefresh("W1")

	clock.BlockUntil(1)
	clock.Advance(time.Minute)

	require.Eventually(t, func() bool { return c.Portfolio() != nil }, time.Second, time.Millisecond)
	assert.Equal(t, "W1", c.Portfolio().Wallet)

	c.StopAutoRefresh()
	// Idempotent.
	c.StopAutoRefresh()
}

func TestWSURL(t *testing.T) {
	c, err := New(Options{BaseURL: "http://example.com"})
	require.NoError(t, err)
	assert.Equal(t, "ws://example.com/ws", c.wsURL())

	c, err = New(Options{BaseURL: "https://example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "wss://example.com/ws", c.wsURL())
}