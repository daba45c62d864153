// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/georelay/georelay/internal/cache"
	"github.com/georelay/georelay/internal/document"
	"github.com/georelay/georelay/internal/logging"
	"github.com/georelay/georelay/internal/models"
	"github.com/georelay/georelay/internal/room"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// ClientCounter reports live connection counts; implemented by the
// websocket hub.
type ClientCounter interface {
	GetClientCount() int
}

// BridgeStatus reports whether the cross-process bridge is attached and
// healthy. Nil-safe via the handler.
type BridgeStatus interface {
	IsRunning() bool
}

// Handler serves the management API surrounding the realtime relay.
type Handler struct {
	registry  *room.Registry
	docs      *document.Store
	store     cache.Store
	clients   ClientCounter
	bridge    BridgeStatus
	startTime time.Time
}

// NewHandler creates the API handler. bridge may be nil when the relay
// runs single-process.
func NewHandler(registry *room.Registry, docs *document.Store, store cache.Store, clients ClientCounter, bridge BridgeStatus) *Handler {
	return &Handler{
		registry:  registry,
		docs:      docs,
		store:     store,
		clients:   clients,
		bridge:    bridge,
		startTime: time.Now(),
	}
}

// Root answers the legacy uptime probe.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("🔥"))
}

// cacheReachable probes the durable cache with a throwaway read. A miss
// is a healthy answer; only transport or backend errors count as down.
func (h *Handler) cacheReachable(r *http.Request) bool {
	_, err := h.store.Get(r.Context(), cache.DocumentKey("health-probe"))
	return err == nil || errors.Is(err, cache.ErrNotFound)
}

// Health returns the full health document.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	cacheConnected := h.cacheReachable(r)
	bridgeConnected := h.bridge != nil && h.bridge.IsRunning()

	status := "healthy"
	if !cacheConnected {
		status = "degraded"
	}

	rooms := h.registry.RoomIDs()
	health := models.HealthStatus{
		Status:          status,
		Version:         Version,
		CacheConnected:  cacheConnected,
		BridgeConnected: bridgeConnected,
		ActiveRooms:     len(rooms),
		ActiveClients:   h.clients.GetClientCount(),
		Uptime:          time.Since(h.startTime).Seconds(),
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     health,
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// HealthLive handles liveness probe requests (Kubernetes-style).
// Returns 200 OK if the process is alive, regardless of dependencies.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: map[string]any{
			"alive":  true,
			"uptime": time.Since(h.startTime).Seconds(),
		},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// HealthReady handles readiness probe requests. The relay is ready only
// when the durable cache answers: without it no handshake can be
// authorized and no room can be materialized.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ready := h.cacheReachable(r)

	statusCode := http.StatusOK
	status := "ready"
	if !ready {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	respondJSON(w, statusCode, &models.APIResponse{
		Status: status,
		Data: map[string]any{
			"cache_connected": ready,
			"ready_to_serve":  ready,
			"uptime":          time.Since(h.startTime).Seconds(),
		},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// Rooms lists active rooms with member and feature counts.
func (h *Handler) Rooms(w http.ResponseWriter, r *http.Request) {
	ids := h.registry.RoomIDs()
	rooms := make([]models.RoomStatus, 0, len(ids))
	for _, id := range ids {
		status := models.RoomStatus{ID: id, Members: h.registry.MemberCount(id)}
		if fc, err := h.docs.Collection(id); err == nil {
			status.Features = len(fc.Features)
		}
		rooms = append(rooms, status)
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     rooms,
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// RoomFeatures returns the visible feature collection of an active room.
func (h *Handler) RoomFeatures(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	fc, err := h.docs.Collection(roomID)
	if errors.Is(err, document.ErrRoomNotLoaded) {
		respondError(w, http.StatusNotFound, "ROOM_NOT_FOUND", "Room is not active", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "SERVICE_ERROR", "Failed to read room document", err)
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     fc,
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// RoomDelete purges a room's persisted snapshot. Occupied rooms cannot
// be purged; members would be left editing a document whose durable
// state just vanished.
func (h *Handler) RoomDelete(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	if h.registry.MemberCount(roomID) > 0 {
		respondError(w, http.StatusConflict, "ROOM_OCCUPIED", "Room has active members", nil)
		return
	}

	if err := h.docs.Purge(r.Context(), roomID); err != nil {
		respondError(w, http.StatusInternalServerError, "SERVICE_ERROR", "Failed to purge room", err)
		return
	}

	logging.Info().Str("room", sanitizeLogValue(roomID)).Msg("room purged")
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     map[string]any{"purged": roomID},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}
