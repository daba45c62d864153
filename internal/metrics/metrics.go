// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

// Package metrics provides Prometheus instrumentation for the relay:
// connection and room gauges, edit/merge counters, durable-cache
// operation outcomes, and bridge publish volume.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "georelay_connections_active",
			Help: "Current number of admitted websocket connections",
		},
	)

	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "georelay_connections_rejected_total",
			Help: "Total number of rejected connection attempts",
		},
		[]string{"reason"}, // "unauthorized", "load_failed", "upgrade_failed"
	)

	// Room metrics
	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "georelay_rooms_active",
			Help: "Current number of rooms with an in-memory document",
		},
	)

	// Document metrics
	EditsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "georelay_edits_applied_total",
			Help: "Total number of changesets merged into room documents",
		},
		[]string{"origin"}, // "local", "remote", "bridge"
	)

	EditsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "georelay_edits_rejected_total",
			Help: "Total number of edits dropped before reaching a document",
		},
		[]string{"reason"}, // "malformed", "merge_failed", "not_member"
	)

	SnapshotDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "georelay_snapshot_duration_seconds",
			Help:    "Duration of document snapshot writes to the durable cache",
			Buckets: prometheus.DefBuckets,
		},
	)

	SnapshotsAtRisk = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "georelay_snapshots_at_risk_total",
			Help: "Snapshot writes that failed after a successful in-memory apply",
		},
	)

	// Durable cache metrics
	CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "georelay_cache_operations_total",
			Help: "Total durable cache operations by outcome",
		},
		[]string{"operation", "status"}, // get/set/delete x ok/miss/error
	)

	// Presence metrics
	PresenceEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "georelay_presence_events_total",
			Help: "Total presence events relayed",
		},
		[]string{"type"}, // "cursor", "join", "leave"
	)

	// Fan-out metrics
	BroadcastsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "georelay_broadcasts_dropped_total",
			Help: "Messages dropped because a client send buffer was full",
		},
	)

	// Bridge metrics (cross-process fan-out)
	BridgePublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "georelay_bridge_published_total",
			Help: "Changesets published to the cross-process bridge",
		},
	)

	BridgeReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "georelay_bridge_received_total",
			Help: "Changesets received from peer processes via the bridge",
		},
	)
)

// RecordCacheOp records one durable cache operation outcome.
func RecordCacheOp(operation, status string) {
	CacheOperations.WithLabelValues(operation, status).Inc()
}

// ObserveSnapshot records a snapshot write duration.
func ObserveSnapshot(start time.Time) {
	SnapshotDuration.Observe(time.Since(start).Seconds())
}
