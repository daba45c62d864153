// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

// Package services adapts the relay's long-running components to the
// suture.Service interface so the supervision tree can run them.
package services
