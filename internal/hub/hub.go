// Package hub owns the live WebSocket connection registry and room
// membership, and fans events out to rooms. A single goroutine processes
// all mutations through a command channel, so the registry needs no locks.
package hub

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/pddkhanh/solfolio-sub005/internal/metrics"
)

const commandTimeout = 5 * time.Second

// --- Command types ---

type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerCmd struct {
	baseHubCmd
	connection *websocket.Conn
	replyCh    chan string
}

type unregisterCmd struct {
	baseHubCmd
	connID string
}

type joinCmd struct {
	baseHubCmd
	connID string
	room   string
	errCh  chan error
}

type leaveCmd struct {
	baseHubCmd
	connID string
	room   string
}

type broadcastCmd struct {
	baseHubCmd
	room string
	data []byte
}

type sendCmd struct {
	baseHubCmd
	connID string
	data   []byte
}

type clientCountCmd struct {
	baseHubCmd
	replyCh chan int
}

type roomClientsCmd struct {
	baseHubCmd
	room    string
	replyCh chan []string
}

type stopCmd struct {
	baseHubCmd
}

// --- State ---

type member struct {
	id     string
	conn   *websocket.Conn
	writer *clientWriter
	rooms  map[string]struct{}
}

// room keeps membership plus join order, so room queries return a stable
// ordered sequence of connection ids.
type room struct {
	members map[string]*member
	order   []string
}

func (r *room) remove(connID string) {
	delete(r.members, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Hub is the broadcast hub actor. Create one per process with NewHub and
// wire it to the transport layer; it holds no durable state beyond the live
// connection and room index.
type Hub struct {
	cmdCh             chan hubCmd
	clock             clockwork.Clock
	maxClientsPerRoom int
	conns             map[string]*member
	rooms             map[string]*room
	done              chan struct{}
}

func NewHub(clock clockwork.Clock, maxClientsPerRoom int) *Hub {
	h := &Hub{
		cmdCh:             make(chan hubCmd, 256),
		clock:             clock,
		maxClientsPerRoom: maxClientsPerRoom,
		conns:             make(map[string]*member),
		rooms:             make(map[string]*room),
		done:              make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.done)

	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case registerCmd:
			c.replyCh <- h.handleRegister(c.connection)
		case unregisterCmd:
			h.handleUnregister(c.connID)
		case joinCmd:
			c.errCh <- h.handleJoin(c.connID, c.room)
		case leaveCmd:
			h.handleLeave(c.connID, c.room)
		case broadcastCmd:
			h.handleBroadcast(c.room, c.data)
		case sendCmd:
			h.handleSend(c.connID, c.data)
		case clientCountCmd:
			c.replyCh <- len(h.conns)
		case roomClientsCmd:
			c.replyCh <- h.handleRoomClients(c.room)
		case stopCmd:
			h.handleStop()
			return
		default:
			slog.Warn("Hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (h *Hub) handleRegister(conn *websocket.Conn) string {
	id := uuid.NewString()
	h.conns[id] = &member{
		id:     id,
		conn:   conn,
		writer: newClientWriter(conn, h.clock),
		rooms:  make(map[string]struct{}),
	}
	metrics.HubConnectedClients.Set(float64(len(h.conns)))
	slog.Debug("Client registered", "conn_id", id, "total_clients", len(h.conns))
	return id
}

func (h *Hub) handleUnregister(connID string) {
	m, exists := h.conns[connID]
	if !exists {
		return
	}

	for name := range m.rooms {
		h.removeFromRoom(m, name)
	}
	m.writer.stop()
	delete(h.conns, connID)

	metrics.HubConnectedClients.Set(float64(len(h.conns)))
	slog.Debug("Client unregistered", "conn_id", connID, "remaining_clients", len(h.conns))
}

func (h *Hub) handleJoin(connID, name string) error {
	m, exists := h.conns[connID]
	if !exists {
		return fmt.Errorf("unknown connection %q", connID)
	}
	if _, already := m.rooms[name]; already {
		return nil
	}

	r, exists := h.rooms[name]
	if !exists {
		r = &room{members: make(map[string]*member)}
		h.rooms[name] = r
	}

	if len(r.members) >= h.maxClientsPerRoom {
		slog.Warn("Rejecting join: room full", "room", name, "max_clients", h.maxClientsPerRoom)
		return fmt.Errorf("room %q is full (%d clients)", name, h.maxClientsPerRoom)
	}

	r.members[connID] = m
	r.order = append(r.order, connID)
	m.rooms[name] = struct{}{}

	metrics.HubRoomOccupancy.WithLabelValues(roomKind(name)).Inc()
	slog.Debug("Client joined room", "conn_id", connID, "room", name, "room_clients", len(r.members))
	return nil
}

func (h *Hub) handleLeave(connID, name string) {
	m, exists := h.conns[connID]
	if !exists {
		return
	}
	if _, inRoom := m.rooms[name]; !inRoom {
		return
	}
	delete(m.rooms, name)
	h.removeFromRoom(m, name)
	slog.Debug("Client left room", "conn_id", connID, "room", name)
}

func (h *Hub) removeFromRoom(m *member, name string) {
	r, exists := h.rooms[name]
	if !exists {
		return
	}
	r.remove(m.id)
	metrics.HubRoomOccupancy.WithLabelValues(roomKind(name)).Dec()
	if len(r.members) == 0 {
		delete(h.rooms, name)
	}
}

func (h *Hub) handleBroadcast(name string, data []byte) {
	r, exists := h.rooms[name]
	if !exists {
		return
	}

	var slow []string
	for connID, m := range r.members {
		select {
		case m.writer.sendChannel <- data:
		default:
			slow = append(slow, connID)
		}
	}

	for _, connID := range slow {
		slog.Warn("Disconnecting slow client", "conn_id", connID, "room", name)
		metrics.HubSlowClientsEvicted.Inc()
		h.handleUnregister(connID)
	}

	metrics.HubBroadcastsTotal.WithLabelValues(roomKind(name)).Inc()
}

func (h *Hub) handleSend(connID string, data []byte) {
	m, exists := h.conns[connID]
	if !exists {
		return
	}
	select {
	case m.writer.sendChannel <- data:
	default:
		slog.Warn("Disconnecting slow client", "conn_id", connID)
		metrics.HubSlowClientsEvicted.Inc()
		h.handleUnregister(connID)
	}
}

func (h *Hub) handleRoomClients(name string) []string {
	r, exists := h.rooms[name]
	if !exists {
		return nil
	}
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

func (h *Hub) handleStop() {
	total := len(h.conns)
	slog.Info("Hub shutting down", "rooms", len(h.rooms), "total_clients", total)

	for connID, m := range h.conns {
		m.writer.stopGraceful("Server shutting down")
		delete(h.conns, connID)
	}
	h.rooms = make(map[string]*room)
	metrics.HubConnectedClients.Set(0)

	slog.Info("Hub shutdown complete", "disconnected_clients", total)
}

func roomKind(name string) string {
	if strings.HasPrefix(name, "wallet:") {
		return "wallet"
	}
	return name
}

// --- Public API ---

// Register adds a connection and returns its id. The hub takes over all
// writes to the connection; callers keep running the read loop. Returns an
// error if the hub does not answer within the command timeout, which means
// it stopped.
func (h *Hub) Register(conn *websocket.Conn) (string, error) {
	replyCh := make(chan string, 1)
	h.cmdCh <- registerCmd{connection: conn, replyCh: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case id := <-replyCh:
		return id, nil
	case <-timer.Chan():
		return "", fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Unregister removes a connection, leaving all its rooms and stopping its
// writer.
func (h *Hub) Unregister(connID string) {
	h.cmdCh <- unregisterCmd{connID: connID}
}

// Join adds a connection to a room. Returns an error if the connection is
// unknown or the room is full.
func (h *Hub) Join(connID, room string) error {
	errCh := make(chan error, 1)
	h.cmdCh <- joinCmd{connID: connID, room: room, errCh: errCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("join command timed out after %v", commandTimeout)
	}
}

// Leave removes a connection from a room without disconnecting it.
func (h *Hub) Leave(connID, room string) {
	h.cmdCh <- leaveCmd{connID: connID, room: room}
}

// Broadcast emits data to every client in a room. Fire-and-forget.
func (h *Hub) Broadcast(room string, data []byte) {
	h.cmdCh <- broadcastCmd{room: room, data: data}
}

// Send emits data to a single connection. Fire-and-forget.
func (h *Hub) Send(connID string, data []byte) {
	h.cmdCh <- sendCmd{connID: connID, data: data}
}

// ConnectedClients returns the total number of live connections, or 0 if
// the hub is unresponsive.
func (h *Hub) ConnectedClients() int {
	replyCh := make(chan int, 1)
	h.cmdCh <- clientCountCmd{replyCh: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("ConnectedClients timed out", "timeout", commandTimeout)
		return 0
	}
}

// RoomClients returns the connection ids in a room in join order. Empty if
// the room does not exist.
func (h *Hub) RoomClients(room string) []string {
	replyCh := make(chan []string, 1)
	h.cmdCh <- roomClientsCmd{room: room, replyCh: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case ids := <-replyCh:
		return ids
	case <-timer.Chan():
		slog.Warn("RoomClients timed out", "timeout", commandTimeout)
		return nil
	}
}

// Stop closes all client connections and shuts the hub down.
func (h *Hub) Stop() {
	h.cmdCh <- stopCmd{}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case <-h.done:
	case <-timer.Chan():
		slog.Warn("Hub stop timeout exceeded", "timeout", commandTimeout)
	}
}
