// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

package models

import "time"

// APIResponse is the standard HTTP response wrapper.
type APIResponse struct {
	Status   string    `json:"status"`
	Data     any       `json:"data,omitempty"`
	Error    *APIError `json:"error,omitempty"`
	Metadata Metadata  `json:"metadata"`
}

// APIError carries a machine-readable code plus a human message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Metadata accompanies every API response.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
}

// HealthStatus reports relay health for the health endpoint.
type HealthStatus struct {
	Status          string  `json:"status"`
	Version         string  `json:"version"`
	CacheConnected  bool    `json:"cache_connected"`
	BridgeConnected bool    `json:"bridge_connected"`
	ActiveRooms     int     `json:"active_rooms"`
	ActiveClients   int     `json:"active_clients"`
	Uptime          float64 `json:"uptime"`
}

// RoomStatus is one active room in the admin listing.
type RoomStatus struct {
	ID       string `json:"id"`
	Members  int    `json:"members"`
	Features int    `json:"features"`
}
