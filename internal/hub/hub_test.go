package hub

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pddkhanh/solfolio-sub005/internal/domain"
)

// testHub sets up a Hub behind a test HTTP server that upgrades connections
// and registers them. Returns the hub and a dial function; dialed
// connections report their hub-assigned connection id.
func testHub(t *testing.T, maxClientsPerRoom int) (*Hub, func() (*ws.Conn, string)) {
	t.Helper()

	hub := NewHub(clockwork.NewRealClock(), maxClientsPerRoom)
	t.Cleanup(func() { hub.Stop() })

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	ids := make(chan string, 16)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		connID, err := hub.Register(conn)
		if err != nil {
			t.Errorf("register failed: %v", err)
			return
		}
		ids <- connID

		// Read loop to detect disconnects
		go func() {
			defer hub.Unregister(connID)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					break
				}
			}
		}()
	}))
	t.Cleanup(func() { server.Close() })

	dial := func() (*ws.Conn, string) {
		t.Helper()
		url := "ws" + strings.TrimPrefix(server.URL, "http")
		conn, _, err := ws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })

		select {
		case id := <-ids:
			return conn, id
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for registration")
			return nil, ""
		}
	}

	return hub, dial
}

func waitForClientCount(hub *Hub, expected int) bool {
	for i := 0; i < 100; i++ {
		if hub.ConnectedClients() == expected {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func readEvent(t *testing.T, conn *ws.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	return msg
}

func TestHub_JoinAndBroadcast(t *testing.T) {
	hub, dial := testHub(t, 50)

	conn, connID := dial()
	require.True(t, waitForClientCount(hub, 1))
	require.NoError(t, hub.Join(connID, domain.PricesRoom))

	hub.Broadcast(domain.PricesRoom, []byte(`{"hello":"world"}`))

	msg := readEvent(t, conn)
	assert.JSONEq(t, `{"hello":"world"}`, string(msg))
}

func TestHub_RoomIsolation(t *testing.T) {
	hub, dial := testHub(t, 50)

	connA, idA := dial()
	connB, idB := dial()
	require.True(t, waitForClientCount(hub, 2))

	require.NoError(t, hub.Join(idA, domain.WalletRoom("A")))
	require.NoError(t, hub.Join(idB, domain.WalletRoom("B")))

	hub.Broadcast(domain.WalletRoom("A"), []byte(`{"wallet":"A"}`))
	hub.Broadcast(domain.WalletRoom("B"), []byte(`{"wallet":"B"}`))

	assert.JSONEq(t, `{"wallet":"A"}`, string(readEvent(t, connA)))
	assert.JSONEq(t, `{"wallet":"B"}`, string(readEvent(t, connB)))

	// Neither client got the other wallet's event queued behind its own.
	_ = connA.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := connA.ReadMessage()
	assert.Error(t, err)
}

func TestHub_RoomClientsJoinOrder(t *testing.T) {
	hub, dial := testHub(t, 50)

	_, idA := dial()
	_, idB := dial()
	_, idC := dial()
	require.True(t, waitForClientCount(hub, 3))

	require.NoError(t, hub.Join(idA, domain.PricesRoom))
	require.NoError(t, hub.Join(idB, domain.PricesRoom))
	require.NoError(t, hub.Join(idC, domain.PricesRoom))

	assert.Equal(t, []string{idA, idB, idC}, hub.RoomClients(domain.PricesRoom))

	hub.Leave(idB, domain.PricesRoom)
	waitForRoomClients(t, hub, domain.PricesRoom, 2)
	assert.Equal(t, []string{idA, idC}, hub.RoomClients(domain.PricesRoom))
}

func waitForRoomClients(t *testing.T, hub *Hub, room string, expected int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(hub.RoomClients(room)) == expected
	}, time.Second, time.Millisecond)
}

func TestHub_RoomFull(t *testing.T) {
	hub, dial := testHub(t, 1)

	_, idA := dial()
	_, idB := dial()
	require.True(t, waitForClientCount(hub, 2))

	require.NoError(t, hub.Join(idA, domain.PricesRoom))
	err := hub.Join(idB, domain.PricesRoom)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "full")
}

func TestHub_RejoinIsIdempotent(t *testing.T) {
	hub, dial := testHub(t, 50)

	conn, connID := dial()
	require.True(t, waitForClientCount(hub, 1))

	require.NoError(t, hub.Join(connID, domain.PricesRoom))
	require.NoError(t, hub.Join(connID, domain.PricesRoom))
	assert.Equal(t, []string{connID}, hub.RoomClients(domain.PricesRoom))

	hub.Broadcast(domain.PricesRoom, []byte(`{"n":1}`))
	assert.JSONEq(t, `{"n":1}`, string(readEvent(t, conn)))

	// A second join did not produce a second delivery.
	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHub_UnregisterLeavesRooms(t *testing.T) {
	hub, dial := testHub(t, 50)

	conn, connID := dial()
	require.True(t, waitForClientCount(hub, 1))
	require.NoError(t, hub.Join(connID, domain.WalletRoom("A")))

	conn.Close()
	require.True(t, waitForClientCount(hub, 0))
	assert.Empty(t, hub.RoomClients(domain.WalletRoom("A")))
}

func TestHub_SendTargetsSingleClient(t *testing.T) {
	hub, dial := testHub(t, 50)

	connA, idA := dial()
	connB, _ := dial()
	require.True(t, waitForClientCount(hub, 2))

	hub.Send(idA, []byte(`{"only":"A"}`))
	assert.JSONEq(t, `{"only":"A"}`, string(readEvent(t, connA)))

	_ = connB.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := connB.ReadMessage()
	assert.Error(t, err)
}

func TestHub_StopClosesClients(t *testing.T) {
	hub, dial := testHub(t, 50)

	conn, _ := dial()
	require.True(t, waitForClientCount(hub, 1))

	hub.Stop()

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func TestHub_RegisterAfterStopTimesOut(t *testing.T) {
	clock := clockwork.NewFakeClock()
	hub := NewHub(clock, 50)
	hub.Stop()

	errCh := make(chan error, 1)
	go func() {
		_, err := hub.Register(nil)
		errCh <- err
	}()

	clock.BlockUntil(1)
	clock.Advance(commandTimeout)

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("register against a stopped hub did not time out")
	}
}
