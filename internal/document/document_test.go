// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

package document

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"testing"

	"github.com/goccy/go-json"

	"github.com/georelay/georelay/internal/logging"
	"github.com/georelay/georelay/internal/models"
)

//nolint:gochecknoinits // init ensures quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

func pointFeature(id string, lng, lat float64) *models.Feature {
	coords, _ := json.Marshal([]float64{lng, lat})
	return &models.Feature{
		ID:         id,
		Type:       "Feature",
		Geometry:   &models.Geometry{Type: "Point", Coordinates: coords},
		Properties: map[string]any{"kind": "tower"},
	}
}

func createEdit(f *models.Feature) *models.FeatureEdit {
	return &models.FeatureEdit{Action: models.EditActionCreate, Feature: f}
}

func deleteEdit(id string) *models.FeatureEdit {
	return &models.FeatureEdit{Action: models.EditActionDelete, FeatureID: id}
}

// collectionJSON canonicalizes a document's visible state for equality
// comparison between replicas.
func collectionJSON(t *testing.T, d *Document) string {
	t.Helper()
	fc, err := d.Collection()
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	data, err := json.Marshal(fc)
	if err != nil {
		t.Fatalf("marshal collection: %v", err)
	}
	return string(data)
}

func TestNewDocumentIsEmptyCollection(t *testing.T) {
	d, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fc, err := d.Collection()
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 0 {
		t.Errorf("unexpected initial collection %+v", fc)
	}
}

func TestApplyEditCreateUpdateDelete(t *testing.T) {
	d, _ := New()

	changes, err := d.ApplyEdit(createEdit(pointFeature("f1", -122.41, 37.77)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(changes) == 0 {
		t.Fatal("create produced no changeset")
	}

	updated := pointFeature("f1", -122.41, 37.77)
	updated.Properties["kind"] = "cpe"
	if _, err := d.ApplyEdit(&models.FeatureEdit{Action: models.EditActionUpdate, Feature: updated}); err != nil {
		t.Fatalf("update: %v", err)
	}

	fc, _ := d.Collection()
	if len(fc.Features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(fc.Features))
	}
	if fc.Features[0].Properties["kind"] != "cpe" {
		t.Errorf("update not visible: %+v", fc.Features[0].Properties)
	}

	if _, err := d.ApplyEdit(deleteEdit("f1")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n, _ := d.FeatureCount(); n != 0 {
		t.Errorf("expected empty document after delete, got %d features", n)
	}
}

func TestApplyEditDeleteAbsentIsNoOp(t *testing.T) {
	d, _ := New()
	changes, err := d.ApplyEdit(deleteEdit("ghost"))
	if err != nil {
		t.Fatalf("delete absent: %v", err)
	}
	if changes != nil {
		t.Errorf("no-op delete must not produce a changeset")
	}
}

func TestApplyEditMalformed(t *testing.T) {
	d, _ := New()
	tests := []*models.FeatureEdit{
		{Action: models.EditActionCreate},
		{Action: models.EditActionUpdate, Feature: &models.Feature{ID: "x"}},
		{Action: models.EditActionDelete},
		{Action: "noodle"},
	}
	for i, edit := range tests {
		if _, err := d.ApplyEdit(edit); !errors.Is(err, ErrMalformedEdit) {
			t.Errorf("case %d: expected ErrMalformedEdit, got %v", i, err)
		}
	}
	if n, _ := d.FeatureCount(); n != 0 {
		t.Errorf("malformed edits must leave the document unchanged")
	}
}

func TestMergeConvergesAcrossReplicas(t *testing.T) {
	a, _ := New()
	snapshot := a.Save()
	b, err := Load(snapshot)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	changeA, err := a.ApplyEdit(createEdit(pointFeature("tower-a", -122.0, 37.0)))
	if err != nil {
		t.Fatalf("apply on a: %v", err)
	}
	changeB, err := b.ApplyEdit(createEdit(pointFeature("tower-b", -121.0, 36.0)))
	if err != nil {
		t.Fatalf("apply on b: %v", err)
	}

	if err := a.Merge(changeB); err != nil {
		t.Fatalf("merge b into a: %v", err)
	}
	if err := b.Merge(changeA); err != nil {
		t.Fatalf("merge a into b: %v", err)
	}

	if got, want := collectionJSON(t, a), collectionJSON(t, b); got != want {
		t.Errorf("replicas diverged:\n a=%s\n b=%s", got, want)
	}
}

func TestMergeIdempotent(t *testing.T) {
	a, _ := New()
	b, _ := Load(a.Save())

	change, _ := a.ApplyEdit(createEdit(pointFeature("f1", 1, 2)))

	if err := b.Merge(change); err != nil {
		t.Fatalf("first merge: %v", err)
	}
	once := collectionJSON(t, b)

	if err := b.Merge(change); err != nil {
		t.Fatalf("second merge: %v", err)
	}
	twice := collectionJSON(t, b)

	if once != twice {
		t.Errorf("re-applying a changeset changed the document:\n once=%s\n twice=%s", once, twice)
	}
	if n, _ := b.FeatureCount(); n != 1 {
		t.Errorf("expected 1 feature, got %d", n)
	}
}

func TestMergeOrderIndependent(t *testing.T) {
	// N random concurrent edit sequences from two origins applied in two
	// different interleavings must converge to the same visible state.
	rng := rand.New(rand.NewSource(7))

	base, _ := New()
	seed := base.Save()

	origin1, _ := Load(seed)
	origin2, _ := Load(seed)

	var changes1, changes2 [][]byte
	for i := 0; i < 12; i++ {
		id1 := fmt.Sprintf("o1-%d", rng.Intn(6))
		id2 := fmt.Sprintf("o2-%d", rng.Intn(6))
		c, err := origin1.ApplyEdit(createEdit(pointFeature(id1, rng.Float64()*360-180, rng.Float64()*180-90)))
		if err != nil {
			t.Fatalf("origin1 edit: %v", err)
		}
		changes1 = append(changes1, c)
		c, err = origin2.ApplyEdit(createEdit(pointFeature(id2, rng.Float64()*360-180, rng.Float64()*180-90)))
		if err != nil {
			t.Fatalf("origin2 edit: %v", err)
		}
		changes2 = append(changes2, c)
	}

	// Replica X: all of origin1 first, then origin2.
	x, _ := Load(seed)
	for _, c := range changes1 {
		if err := x.Merge(c); err != nil {
			t.Fatalf("x merge: %v", err)
		}
	}
	for _, c := range changes2 {
		if err := x.Merge(c); err != nil {
			t.Fatalf("x merge: %v", err)
		}
	}

	// Replica Y: interleaved the other way.
	y, _ := Load(seed)
	for i := range changes1 {
		if err := y.Merge(changes2[i]); err != nil {
			t.Fatalf("y merge: %v", err)
		}
		if err := y.Merge(changes1[i]); err != nil {
			t.Fatalf("y merge: %v", err)
		}
	}

	if got, want := collectionJSON(t, x), collectionJSON(t, y); got != want {
		t.Errorf("interleavings diverged:\n x=%s\n y=%s", got, want)
	}
}

func TestConcurrentDeleteConverges(t *testing.T) {
	base, _ := New()
	seedChange, err := base.ApplyEdit(createEdit(pointFeature("shared", 0, 0)))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	_ = seedChange

	a, _ := Load(base.Save())
	b, _ := Load(base.Save())

	delA, err := a.ApplyEdit(deleteEdit("shared"))
	if err != nil {
		t.Fatalf("delete on a: %v", err)
	}
	delB, err := b.ApplyEdit(deleteEdit("shared"))
	if err != nil {
		t.Fatalf("delete on b: %v", err)
	}

	if err := a.Merge(delB); err != nil {
		t.Fatalf("merge delete into a: %v", err)
	}
	if err := b.Merge(delA); err != nil {
		t.Fatalf("merge delete into b: %v", err)
	}

	for name, d := range map[string]*Document{"a": a, "b": b} {
		if n, _ := d.FeatureCount(); n != 0 {
			t.Errorf("replica %s still has %d features after concurrent delete", name, n)
		}
	}
}

func TestMergeCorruptChangeset(t *testing.T) {
	d, _ := New()
	if err := d.Merge([]byte("definitely not automerge")); !errors.Is(err, ErrMergeFailed) {
		t.Errorf("expected ErrMergeFailed, got %v", err)
	}
	if err := d.Merge(nil); !errors.Is(err, ErrMergeFailed) {
		t.Errorf("expected ErrMergeFailed for empty changeset, got %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	d, _ := New()
	for i := 0; i < 3; i++ {
		if _, err := d.ApplyEdit(createEdit(pointFeature(fmt.Sprintf("f%d", i), float64(i), float64(i)))); err != nil {
			t.Fatalf("edit %d: %v", i, err)
		}
	}

	reloaded, err := Load(d.Save())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := collectionJSON(t, reloaded), collectionJSON(t, d); got != want {
		t.Errorf("round trip diverged:\n got=%s\n want=%s", got, want)
	}
}
