// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

package websocket

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/georelay/georelay/internal/auth"
	"github.com/georelay/georelay/internal/logging"
	"github.com/georelay/georelay/internal/metrics"
	"github.com/georelay/georelay/internal/validation"
)

// Handler upgrades authenticated HTTP requests into relay connections.
// The handshake carries the room, token and display name as query
// parameters: GET /live?room=<id>&token=<token>&name=<name>.
type Handler struct {
	authn    *auth.Authenticator
	relay    *Relay
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler creates the websocket entry point. allowedOrigins follows
// the CORS allowlist: "*" admits every origin, otherwise the Origin
// header must match one entry exactly. Requests without an Origin header
// (non-browser clients) are always admitted.
func NewHandler(authn *auth.Authenticator, relay *Relay, hub *Hub, allowedOrigins []string) *Handler {
	h := &Handler{authn: authn, relay: relay, hub: hub}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range allowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeHTTP authenticates the handshake, upgrades the connection, admits
// it into its room and starts the pumps. Authentication happens before
// the upgrade so rejected clients get a plain HTTP status; room
// admission failures after the upgrade are reported as a close frame.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	params := validation.HandshakeParams{
		Room:  query.Get("room"),
		Token: query.Get("token"),
		Name:  query.Get("name"),
	}
	if verr := validation.CheckHandshake(params); verr != nil {
		metrics.ConnectionsRejected.WithLabelValues("malformed").Inc()
		http.Error(w, verr.Error(), http.StatusBadRequest)
		return
	}
	roomID := params.Room

	identity, err := h.authn.Authenticate(r.Context(), params.Token, roomID)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			metrics.ConnectionsRejected.WithLabelValues("unauthorized").Inc()
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		metrics.ConnectionsRejected.WithLabelValues("auth_backend").Inc()
		logging.Error().Err(err).Msg("authentication backend unavailable")
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	if identity.Name == "" {
		identity.Name = params.Name
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		metrics.ConnectionsRejected.WithLabelValues("upgrade").Inc()
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(h.hub, h.relay, conn, uuid.NewString(), identity, roomID)

	if err := h.relay.Admit(r.Context(), client); err != nil {
		metrics.ConnectionsRejected.WithLabelValues("room_unavailable").Inc()
		logging.Error().Err(err).Str("room", roomID).Msg("room admission failed")
		closeMsg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "room unavailable")
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	h.hub.Register <- client
	client.Start()
}
