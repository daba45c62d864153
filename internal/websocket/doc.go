// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

// Package websocket implements the realtime edge of the relay: the
// room-aware hub, per-connection read/write pumps, the message relay
// that routes edits and presence between connections and the document
// store, and the NATS bridge that fans changesets out across processes.
package websocket
