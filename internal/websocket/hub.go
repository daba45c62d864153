// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/georelay/georelay/internal/logging"
	"github.com/georelay/georelay/internal/metrics"
	"github.com/georelay/georelay/internal/models"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled indicates the parent context was
	// canceled. This is the normal graceful shutdown path (e.g., SIGTERM).
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline indicates the context deadline was
	// exceeded. This may indicate a hung operation during shutdown.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// roomMessage is one fan-out unit: an envelope addressed to every member
// of a room except (optionally) its originator.
type roomMessage struct {
	room      string
	envelope  models.Envelope
	excludeID uint64
}

// Hub maintains the set of active clients, partitioned by room, and fans
// envelopes out to room members. All lifecycle processing happens on the
// hub goroutine, so welcome sequencing and membership changes for a room
// are totally ordered with respect to its broadcasts.
type Hub struct {
	clients    map[*Client]bool
	rooms      map[string]map[*Client]bool
	broadcast  chan roomMessage
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	// OnRegister runs on the hub goroutine after a client is added, before
	// any subsequent broadcast for its room is processed. The relay uses
	// it to sequence the welcome snapshot ahead of live traffic.
	OnRegister func(*Client)

	// OnUnregister runs on the hub goroutine after a client is removed.
	OnUnregister func(*Client)
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan roomMessage, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
	}
}

// RunWithContext starts the hub with context support for graceful
// shutdown. Designed for use with suture supervision.
//
// DETERMINISM: Uses priority-based selection to ensure predictable
// behavior:
// - Priority 1: Context cancellation (shutdown)
// - Priority 2: Client lifecycle events (Register/Unregister)
// - Priority 3: Broadcast messages
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Priority 1: Check for shutdown (highest priority, non-blocking)
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		// Priority 2: Handle client lifecycle events (non-blocking check)
		select {
		case client := <-h.Register:
			h.registerClient(client)
			continue
		case client := <-h.Unregister:
			h.unregisterClient(client)
			continue
		default:
		}

		// Priority 3: Handle broadcast messages or wait for any event
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()

		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.broadcastToRoom(msg)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	members, ok := h.rooms[client.roomID]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[client.roomID] = members
	}
	members[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.ConnectionsActive.Inc()
	logging.Info().
		Str("user", client.userID).
		Str("room", client.roomID).
		Int("total_clients", total).
		Msg("websocket client connected")

	if h.OnRegister != nil {
		h.OnRegister(client)
	}
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		h.removeLocked(client)
	}
	h.mu.Unlock()
	if !ok {
		// Already removed by the slow-client path or shutdown, which ran
		// the unregister bookkeeping itself.
		return
	}

	h.finishRemoval(client)
}

// finishRemoval runs the bookkeeping owed to every removed client
// exactly once: metrics, the disconnect log and the OnUnregister hook.
// Every path that calls removeLocked must follow up with this, outside
// the lock, so room teardown runs no matter how the client left.
func (h *Hub) finishRemoval(client *Client) {
	metrics.ConnectionsActive.Dec()
	logging.Info().
		Str("user", client.userID).
		Str("room", client.roomID).
		Int("total_clients", h.GetClientCount()).
		Msg("websocket client disconnected")

	if h.OnUnregister != nil {
		h.OnUnregister(client)
	}
}

// removeLocked drops a client from both indexes and closes its send
// channel. Caller holds h.mu.
func (h *Hub) removeLocked(client *Client) {
	delete(h.clients, client)
	if members, ok := h.rooms[client.roomID]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, client.roomID)
		}
	}
	close(client.send)
}

// Drop removes a client immediately, running the full unregister path.
// Only for use on the hub goroutine (from a lifecycle hook); other
// goroutines must send to Unregister instead.
func (h *Hub) Drop(client *Client) {
	h.unregisterClient(client)
}

// BroadcastToRoom queues an envelope for every member of a room except
// the client with excludeID (0 excludes nobody). Never blocks: when the
// hub is saturated the message is dropped and counted.
func (h *Hub) BroadcastToRoom(roomID string, envelope models.Envelope, excludeID uint64) {
	select {
	case h.broadcast <- roomMessage{room: roomID, envelope: envelope, excludeID: excludeID}:
	default:
		metrics.BroadcastsDropped.Inc()
		logging.Warn().
			Str("room", roomID).
			Str("message_type", envelope.Type).
			Msg("broadcast channel full, dropping message")
	}
}

// broadcastToRoom delivers a queued message to room members in a
// deterministic order.
// DETERMINISM: Sorts clients by their monotonic IDs so delivery order is
// reproducible run to run.
func (h *Hub) broadcastToRoom(msg roomMessage) {
	h.mu.Lock()

	members := h.rooms[msg.room]
	if len(members) == 0 {
		h.mu.Unlock()
		return
	}

	clients := make([]*Client, 0, len(members))
	for client := range members {
		if client.id == msg.excludeID {
			continue
		}
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	// Track clients to remove (can't modify map during iteration)
	var toRemove []*Client

	for _, client := range clients {
		select {
		case client.send <- msg.envelope:
		default:
			// Channel full, the client is too slow to keep up
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		metrics.BroadcastsDropped.Inc()
		logging.Warn().
			Str("user", client.userID).
			Str("room", client.roomID).
			Msg("client send buffer full, dropping connection")
		h.removeLocked(client)
	}
	h.mu.Unlock()

	// A dropped client still owes its room a farewell: the later
	// Unregister from its read pump will find it already gone.
	for _, client := range toRemove {
		h.finishRemoval(client)
	}
}

func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	switch ctx.Err() {
	case context.Canceled:
		return ShutdownReasonContextCanceled
	case context.DeadlineExceeded:
		return ShutdownReasonContextDeadline
	default:
		return ShutdownReasonContextCanceled
	}
}

// closeAllClients gracefully closes all connected clients during
// shutdown, in ID order for consistent behavior. Each client gets the
// full unregister treatment so rooms persist their documents before the
// process exits.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	for _, client := range clients {
		h.removeLocked(client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		h.finishRemoval(client)
	}
	logging.Info().Msg("closed all websocket clients during shutdown")
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomClientCount returns the number of connected clients in one room.
func (h *Hub) RoomClientCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
