// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

// Package models defines the shared data types of the relay: GeoJSON
// features, the websocket message envelope, structured edits, and the
// cache-backed authorization record.
package models

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Geometry is a GeoJSON geometry. Coordinates stay raw because nesting
// depth varies by type (Point, LineString, Polygon, ...).
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Feature is one editable map element (tower, link, coverage polygon).
// ID is the stable opaque identity assigned at creation; updates and
// deletes are keyed by it.
type Feature struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Geometry   *Geometry      `json:"geometry"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Validate checks the minimal shape a feature needs before it may enter
// the shared document.
func (f *Feature) Validate() error {
	if f == nil {
		return fmt.Errorf("feature is nil")
	}
	if f.ID == "" {
		return fmt.Errorf("feature id is empty")
	}
	if f.Geometry == nil || f.Geometry.Type == "" {
		return fmt.Errorf("feature %s has no geometry", f.ID)
	}
	if len(f.Geometry.Coordinates) == 0 {
		return fmt.Errorf("feature %s has no coordinates", f.ID)
	}
	return nil
}

// FeatureCollection is the externally visible state of a room's document.
type FeatureCollection struct {
	Type     string     `json:"type"`
	Features []*Feature `json:"features"`
}

// NewFeatureCollection returns an empty collection, the starting state of
// every fresh room.
func NewFeatureCollection() *FeatureCollection {
	return &FeatureCollection{Type: "FeatureCollection", Features: []*Feature{}}
}

// EditAction enumerates the structured mutations a client may request.
type EditAction string

const (
	EditActionCreate EditAction = "create"
	EditActionUpdate EditAction = "update"
	EditActionDelete EditAction = "delete"
)

// FeatureEdit is a structured description of one local mutation. Create
// and update carry the full feature body; delete needs only FeatureID.
type FeatureEdit struct {
	Action    EditAction `json:"action"`
	Feature   *Feature   `json:"feature,omitempty"`
	FeatureID string     `json:"featureId,omitempty"`
}

// Validate rejects edits that cannot be interpreted. A malformed edit is
// dropped by the relay without touching the document.
func (e *FeatureEdit) Validate() error {
	switch e.Action {
	case EditActionCreate, EditActionUpdate:
		return e.Feature.Validate()
	case EditActionDelete:
		if e.FeatureID == "" && (e.Feature == nil || e.Feature.ID == "") {
			return fmt.Errorf("delete edit has no feature id")
		}
		return nil
	default:
		return fmt.Errorf("unknown edit action %q", e.Action)
	}
}

// TargetID returns the feature id an edit operates on.
func (e *FeatureEdit) TargetID() string {
	if e.FeatureID != "" {
		return e.FeatureID
	}
	if e.Feature != nil {
		return e.Feature.ID
	}
	return ""
}
