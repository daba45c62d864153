// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

package models

// AuthorizationRecord is the short-lived credential entry written to the
// durable cache by the external session issuer, keyed by `auth:{token}`.
// This subsystem only reads it; expiry is owned by the issuer.
type AuthorizationRecord struct {
	User    string `json:"user"`
	Session string `json:"session"`
	Name    string `json:"name"`
	Token   string `json:"token"`
}

// Identity is the resolved user attached to an admitted connection.
type Identity struct {
	UserID string
	Name   string
}
