// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

package websocket

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/georelay/georelay/internal/logging"
	"github.com/georelay/georelay/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024 // 512 KB

	// Cursor positions above this rate are dropped, not queued: only the
	// latest position matters and a flood must not starve edits.
	cursorEventsPerSecond = 25
	cursorBurst           = 50
)

// clientIDCounter generates unique, monotonically increasing IDs.
// DETERMINISM: Assigned from an atomic counter so clients sort in a
// consistent order for broadcast operations.
var clientIDCounter atomic.Uint64

// Client is a middleman between one websocket connection and the hub.
// It carries the authenticated identity and the single room the
// connection is bound to for its whole lifetime.
type Client struct {
	id     uint64
	connID string
	userID string
	name   string
	roomID string

	hub     *Hub
	relay   *Relay
	conn    *websocket.Conn
	send    chan models.Envelope
	cursors *rate.Limiter
}

// NewClient creates a Client bound to an authenticated identity and room.
// connID is the registry-facing connection identifier.
func NewClient(hub *Hub, relay *Relay, conn *websocket.Conn, connID string, identity models.Identity, roomID string) *Client {
	return &Client{
		id:      clientIDCounter.Add(1),
		connID:  connID,
		userID:  identity.UserID,
		name:    identity.Name,
		roomID:  roomID,
		hub:     hub,
		relay:   relay,
		conn:    conn,
		send:    make(chan models.Envelope, 256),
		cursors: rate.NewLimiter(rate.Limit(cursorEventsPerSecond), cursorBurst),
	}
}

// ID returns the client's unique identifier for deterministic ordering.
func (c *Client) ID() uint64 { return c.id }

// ConnID returns the connection identifier used by the room registry.
func (c *Client) ConnID() string { return c.connID }

// UserID returns the authenticated user id.
func (c *Client) UserID() string { return c.userID }

// Name returns the display name.
func (c *Client) Name() string { return c.name }

// Room returns the room this connection is bound to.
func (c *Client) Room() string { return c.roomID }

// Enqueue queues an envelope for delivery to this client without going
// through the hub's broadcast path. Reports false when the send buffer
// is full.
func (c *Client) Enqueue(envelope models.Envelope) bool {
	select {
	case c.send <- envelope:
		return true
	default:
		return false
	}
}

// readPump pumps messages from the websocket connection to the relay.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close() // Explicitly ignore error - best-effort cleanup
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var envelope models.Envelope
		err := c.conn.ReadJSON(&envelope)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Str("user", c.userID).Msg("unexpected websocket close error")
			}
			break
		}

		if envelope.Type == models.MessageTypePing {
			c.Enqueue(models.Envelope{Type: models.MessageTypePong})
			continue
		}

		c.relay.OnMessage(c, &envelope)
	}
}

// writePump pumps envelopes from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // Explicitly ignore error - best-effort cleanup
	}()

	for {
		select {
		case envelope, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}

			if !ok {
				// The hub closed the channel
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					logging.Error().Err(err).Msg("failed to write close message")
				}
				return
			}

			if err := c.conn.WriteJSON(envelope); err != nil {
				logging.Error().Err(err).Msg("failed to write JSON message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins reading and writing for the client.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
