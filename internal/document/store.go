// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

package document

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/georelay/georelay/internal/cache"
	"github.com/georelay/georelay/internal/logging"
	"github.com/georelay/georelay/internal/metrics"
	"github.com/georelay/georelay/internal/models"
)

// ErrRoomNotLoaded is returned when a mutation targets a room with no
// in-memory document: either it was never materialized, or the last
// member left and the room was evicted before a slow message arrived.
var ErrRoomNotLoaded = errors.New("document: room not loaded")

// entry pairs a room document with the mutex that serializes every
// apply-and-persist turn for that room. Separate rooms proceed in
// parallel; within one room each apply is an uninterrupted unit.
type entry struct {
	mu  sync.Mutex
	doc *Document
}

// Store owns the in-memory documents of all active rooms and their
// write-through persistence to the durable cache. At most one document
// instance exists per room id within a process.
type Store struct {
	cache cache.Store

	mu    sync.RWMutex
	rooms map[string]*entry
	group singleflight.Group
}

// NewStore creates a Store backed by the given durable cache.
func NewStore(c cache.Store) *Store {
	return &Store{cache: c, rooms: make(map[string]*entry)}
}

// Ensure materializes the room's document: loaded from the durable cache
// when a snapshot exists, initialized empty otherwise. Concurrent calls
// for the same new room collapse onto one materialization, so racing
// first-joiners all observe the same canonical instance.
//
// A cache failure is fatal unless the cache affirmatively reports the
// room as absent; an existing document must never be silently replaced
// by an empty one.
func (s *Store) Ensure(ctx context.Context, roomID string) error {
	_, err, _ := s.group.Do(roomID, func() (any, error) {
		s.mu.RLock()
		_, ok := s.rooms[roomID]
		s.mu.RUnlock()
		if ok {
			return nil, nil
		}

		doc, fresh, err := s.materialize(ctx, roomID)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.rooms[roomID] = &entry{doc: doc}
		s.mu.Unlock()
		metrics.RoomsActive.Inc()

		if fresh {
			// The original wrote the empty document on room creation;
			// a failure here is at-risk, not fatal, since the cache
			// verifiably has no prior state to lose.
			s.persist(ctx, roomID, doc)
		}
		return nil, nil
	})
	return err
}

// materialize performs the load-or-init step.
func (s *Store) materialize(ctx context.Context, roomID string) (doc *Document, fresh bool, err error) {
	raw, err := s.cache.Get(ctx, cache.DocumentKey(roomID))
	switch {
	case errors.Is(err, cache.ErrNotFound):
		doc, err = New()
		if err != nil {
			return nil, false, err
		}
		logging.Info().Str("room", roomID).Msg("initialized empty room document")
		return doc, true, nil

	case err != nil:
		return nil, false, fmt.Errorf("load room %s: %w", roomID, err)
	}

	doc, err = Load(raw)
	if err != nil {
		return nil, false, fmt.Errorf("load room %s: %w", roomID, err)
	}
	logging.Info().Str("room", roomID).Int("snapshot_bytes", len(raw)).Msg("loaded room document")
	return doc, false, nil
}

// ApplyLocal applies a structured edit to the room's document, persists
// a snapshot write-through, and returns the changeset for fan-out. A nil
// changeset with nil error means the edit was a no-op (delete of an
// absent feature).
func (s *Store) ApplyLocal(ctx context.Context, roomID string, edit *models.FeatureEdit) ([]byte, error) {
	e := s.entry(roomID)
	if e == nil {
		return nil, ErrRoomNotLoaded
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	changes, err := e.doc.ApplyEdit(edit)
	if err != nil {
		return nil, err
	}
	if changes == nil {
		return nil, nil
	}

	s.persist(ctx, roomID, e.doc)
	return changes, nil
}

// ApplyRemote merges a changeset received from a peer (another client's
// replica or another process via the bridge) and persists a snapshot.
func (s *Store) ApplyRemote(ctx context.Context, roomID string, changes []byte) error {
	e := s.entry(roomID)
	if e == nil {
		return ErrRoomNotLoaded
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.doc.Merge(changes); err != nil {
		return err
	}
	s.persist(ctx, roomID, e.doc)
	return nil
}

// SnapshotBytes returns the full serialized document, used as the
// welcome payload for a late joiner.
func (s *Store) SnapshotBytes(roomID string) ([]byte, error) {
	e := s.entry(roomID)
	if e == nil {
		return nil, ErrRoomNotLoaded
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc.Save(), nil
}

// Collection returns the room's visible feature collection.
func (s *Store) Collection(roomID string) (*models.FeatureCollection, error) {
	e := s.entry(roomID)
	if e == nil {
		return nil, ErrRoomNotLoaded
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc.Collection()
}

// Snapshot persists the room's document to the durable cache.
func (s *Store) Snapshot(ctx context.Context, roomID string) error {
	e := s.entry(roomID)
	if e == nil {
		return ErrRoomNotLoaded
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return s.persistErr(ctx, roomID, e.doc)
}

// Evict persists the document and releases its memory. Called by the
// room registry when the last connection leaves. Mutations arriving
// after eviction fail with ErrRoomNotLoaded.
func (s *Store) Evict(ctx context.Context, roomID string) error {
	s.mu.Lock()
	e, ok := s.rooms[roomID]
	if ok {
		delete(s.rooms, roomID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	metrics.RoomsActive.Dec()

	e.mu.Lock()
	defer e.mu.Unlock()
	return s.persistErr(ctx, roomID, e.doc)
}

// Purge drops the in-memory document without persisting and deletes the
// cached snapshot. This is the explicit-teardown path; ordinary
// last-leave goes through Evict.
func (s *Store) Purge(ctx context.Context, roomID string) error {
	s.mu.Lock()
	if _, ok := s.rooms[roomID]; ok {
		delete(s.rooms, roomID)
		metrics.RoomsActive.Dec()
	}
	s.mu.Unlock()

	return s.cache.Delete(ctx, cache.DocumentKey(roomID))
}

// Loaded reports whether the room currently has an in-memory document.
func (s *Store) Loaded(roomID string) bool {
	return s.entry(roomID) != nil
}

func (s *Store) entry(roomID string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[roomID]
}

// persist writes a snapshot and downgrades failures to at-risk logging:
// the in-memory apply already succeeded and peers converge in memory, so
// a durability gap is traded for responsiveness.
func (s *Store) persist(ctx context.Context, roomID string, doc *Document) {
	if err := s.persistErr(ctx, roomID, doc); err != nil {
		metrics.SnapshotsAtRisk.Inc()
		logging.Warn().Err(err).Str("room", roomID).Msg("snapshot write failed, document at risk")
	}
}

func (s *Store) persistErr(ctx context.Context, roomID string, doc *Document) error {
	start := time.Now()
	err := s.cache.Set(ctx, cache.DocumentKey(roomID), doc.Save())
	metrics.ObserveSnapshot(start)
	if err != nil {
		return fmt.Errorf("persist room %s: %w", roomID, err)
	}
	return nil
}
