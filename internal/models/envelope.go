// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

package models

// Message types multiplexed over one websocket connection.
const (
	// MessageTypeEdit carries an opaque CRDT changeset. Inbound it is a
	// client-computed delta; outbound it is the fan-out to room peers.
	MessageTypeEdit = "edit"

	// MessageTypeFeatureEdit is a structured local mutation (inbound only).
	// The relay applies it to the room document and fans out the
	// resulting changeset as an "edit" message.
	MessageTypeFeatureEdit = "featureEdit"

	// MessageTypeCursorMove is ephemeral presence. Never persisted and
	// never merged into the document.
	MessageTypeCursorMove = "cursorMove"

	// MessageTypeUserJoin and MessageTypeUserLeave maintain the roster.
	MessageTypeUserJoin  = "userJoin"
	MessageTypeUserLeave = "userLeave"

	// MessageTypeInitDocument is the welcome payload: a full snapshot,
	// not a changeset, so a client can initialize from scratch.
	MessageTypeInitDocument = "initDocument"

	MessageTypePing = "ping"
	MessageTypePong = "pong"
)

// Envelope is the bidirectional websocket message. []byte fields encode
// as base64 in JSON; changesets and snapshots stay opaque on the wire.
type Envelope struct {
	Type string `json:"type"`

	// UID is the originating user id. Set by the server on fan-out;
	// ignored on inbound messages (the connection's identity wins).
	UID  string `json:"uid,omitempty"`
	Name string `json:"name,omitempty"`

	ChangeSet []byte       `json:"changeSet,omitempty"`
	Document  []byte       `json:"document,omitempty"`
	Edit      *FeatureEdit `json:"edit,omitempty"`

	// Location is a [lng, lat] cursor position.
	Location []float64 `json:"location,omitempty"`
}
