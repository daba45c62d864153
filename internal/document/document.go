// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

// Package document owns the convergent room documents: Automerge-backed
// feature collections that merge concurrent edits without coordination.
// A changeset is the opaque byte delta of one merge step; merging is
// commutative and idempotent, which is what lets the relay fan changes
// out without a global sequencer.
package document

import (
	"errors"
	"fmt"
	"sort"

	"github.com/automerge/automerge-go"
	"github.com/goccy/go-json"

	"github.com/georelay/georelay/internal/models"
)

var (
	// ErrMalformedEdit marks a local mutation that cannot be
	// interpreted. The document is left unchanged.
	ErrMalformedEdit = errors.New("document: malformed edit")

	// ErrMergeFailed marks a received changeset that cannot be merged.
	// The replica is potentially divergent until the next snapshot
	// reload; surfaced through metrics, not auto-repaired.
	ErrMergeFailed = errors.New("document: merge failed")
)

const featuresKey = "features"

// Document is one room's replicated feature collection. Methods are not
// safe for concurrent use; the Store serializes access per room so each
// apply-and-compute-delta step is one uninterrupted unit.
type Document struct {
	doc *automerge.Doc
}

// New creates an empty feature collection document.
func New() (*Document, error) {
	doc := automerge.New()
	if err := doc.Path("type").Set("FeatureCollection"); err != nil {
		return nil, fmt.Errorf("init document type: %w", err)
	}
	if err := doc.Path(featuresKey).Set(map[string]any{}); err != nil {
		return nil, fmt.Errorf("init features map: %w", err)
	}
	if _, err := doc.Commit("init"); err != nil {
		return nil, fmt.Errorf("commit init: %w", err)
	}
	d := &Document{doc: doc}
	d.doc.SaveIncremental() // reset the delta cursor past the init change
	return d, nil
}

// Load restores a document from a snapshot previously written to the
// durable cache.
func Load(snapshot []byte) (*Document, error) {
	doc, err := automerge.Load(snapshot)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	d := &Document{doc: doc}
	d.doc.SaveIncremental()
	return d, nil
}

// ApplyEdit mutates the document with one structured local edit and
// returns the minimal changeset a peer replica needs to reach the same
// state. Deleting an absent feature is a no-op and returns a nil
// changeset (concurrent delete-delete is not a conflict).
func (d *Document) ApplyEdit(edit *models.FeatureEdit) ([]byte, error) {
	if err := edit.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEdit, err)
	}

	switch edit.Action {
	case models.EditActionCreate, models.EditActionUpdate:
		value, err := featureValue(edit.Feature)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEdit, err)
		}
		if err := d.doc.Path(featuresKey, edit.Feature.ID).Set(value); err != nil {
			return nil, fmt.Errorf("set feature %s: %w", edit.Feature.ID, err)
		}

	case models.EditActionDelete:
		id := edit.TargetID()
		present, err := d.hasFeature(id)
		if err != nil {
			return nil, err
		}
		if !present {
			return nil, nil
		}
		if err := d.doc.Path(featuresKey).Map().Delete(id); err != nil {
			return nil, fmt.Errorf("delete feature %s: %w", id, err)
		}
	}

	if _, err := d.doc.Commit(string(edit.Action)); err != nil {
		return nil, fmt.Errorf("commit edit: %w", err)
	}
	return d.doc.SaveIncremental(), nil
}

// Merge applies a changeset received from a peer replica. Re-applying an
// already-merged changeset is harmless.
func (d *Document) Merge(changes []byte) error {
	if len(changes) == 0 {
		return fmt.Errorf("%w: empty changeset", ErrMergeFailed)
	}
	if err := d.doc.LoadIncremental(changes); err != nil {
		return fmt.Errorf("%w: %v", ErrMergeFailed, err)
	}
	return nil
}

// Save returns a full snapshot for the durable cache or the welcome
// payload of a late joiner.
func (d *Document) Save() []byte {
	return d.doc.Save()
}

// Collection materializes the externally visible feature collection.
// Features are sorted by id so equal replicas compare equal.
func (d *Document) Collection() (*models.FeatureCollection, error) {
	raw, err := automerge.As[map[string]any](d.doc.Path(featuresKey).Get())
	if err != nil {
		return nil, fmt.Errorf("read features: %w", err)
	}

	fc := models.NewFeatureCollection()
	for id, v := range raw {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode feature %s: %w", id, err)
		}
		var feature models.Feature
		if err := json.Unmarshal(data, &feature); err != nil {
			return nil, fmt.Errorf("decode feature %s: %w", id, err)
		}
		fc.Features = append(fc.Features, &feature)
	}

	sort.Slice(fc.Features, func(i, j int) bool {
		return fc.Features[i].ID < fc.Features[j].ID
	})
	return fc, nil
}

// FeatureCount reports the number of features without materializing them.
func (d *Document) FeatureCount() (int, error) {
	keys, err := d.doc.Path(featuresKey).Map().Keys()
	if err != nil {
		return 0, fmt.Errorf("list features: %w", err)
	}
	return len(keys), nil
}

// hasFeature reports whether a feature id exists in the document.
func (d *Document) hasFeature(id string) (bool, error) {
	v, err := d.doc.Path(featuresKey, id).Get()
	if err != nil {
		return false, fmt.Errorf("lookup feature %s: %w", id, err)
	}
	return v.Kind() != automerge.KindVoid, nil
}

// featureValue converts a feature to the plain map shape Automerge
// stores, going through JSON so raw geometry coordinates stay intact.
func featureValue(f *models.Feature) (map[string]any, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	var value map[string]any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}
