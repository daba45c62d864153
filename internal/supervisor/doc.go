// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

// Package supervisor builds the suture supervision tree that keeps the
// relay's long-running services (hub, bridge, HTTP server) alive and
// restarts them with backoff when they fail.
package supervisor
