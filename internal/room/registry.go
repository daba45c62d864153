// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

// Package room tracks which connections belong to which editing session
// and drives document lifecycle from membership: first join materializes
// a room's document, last leave persists and evicts it.
package room

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/georelay/georelay/internal/document"
	"github.com/georelay/georelay/internal/logging"
	"github.com/georelay/georelay/internal/models"
)

var (
	// ErrNotMember is returned when an operation references a connection
	// the registry does not know, typically a message that raced with
	// its own disconnect.
	ErrNotMember = errors.New("room: connection is not a member")

	// ErrAlreadyJoined guards the one-room-per-connection rule: a
	// connection never migrates between rooms within its lifetime.
	ErrAlreadyJoined = errors.New("room: connection already joined a room")
)

// Member is one admitted connection within a room.
type Member struct {
	ConnID   string
	Identity models.Identity
}

// Registry maps connections to rooms and owns room create/destroy.
type Registry struct {
	docs *document.Store

	mu    sync.RWMutex
	rooms map[string]map[string]Member // room id -> conn id -> member
	conns map[string]string            // conn id -> room id
}

// NewRegistry creates a Registry driving the given document store.
func NewRegistry(docs *document.Store) *Registry {
	return &Registry{
		docs:  docs,
		rooms: make(map[string]map[string]Member),
		conns: make(map[string]string),
	}
}

// Join registers a connection under a room. The room's document is
// materialized before the membership becomes visible, so no mutation can
// be processed for a room whose document does not exist yet. Concurrent
// first-joins are collapsed by the document store; all joiners observe
// the one canonical instance.
func (r *Registry) Join(ctx context.Context, member Member, roomID string) error {
	r.mu.RLock()
	_, joined := r.conns[member.ConnID]
	r.mu.RUnlock()
	if joined {
		return ErrAlreadyJoined
	}

	if err := r.docs.Ensure(ctx, roomID); err != nil {
		return fmt.Errorf("materialize room %s: %w", roomID, err)
	}

	r.mu.Lock()
	if _, joined := r.conns[member.ConnID]; joined {
		r.mu.Unlock()
		return ErrAlreadyJoined
	}
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]Member)
		r.rooms[roomID] = members
	}
	members[member.ConnID] = member
	r.conns[member.ConnID] = roomID
	size := len(members)
	r.mu.Unlock()

	logging.Info().
		Str("user", member.Identity.UserID).
		Str("room", roomID).
		Int("members", size).
		Msg("user joined room")
	return nil
}

// Leave removes a connection. When the room empties, its document is
// persisted and evicted; a slow mutation arriving afterwards is rejected
// by the document store rather than applied to a ghost document.
func (r *Registry) Leave(ctx context.Context, connID string) (roomID string, err error) {
	r.mu.Lock()
	roomID, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return "", ErrNotMember
	}
	delete(r.conns, connID)

	member := r.rooms[roomID][connID]
	delete(r.rooms[roomID], connID)
	empty := len(r.rooms[roomID]) == 0
	if empty {
		delete(r.rooms, roomID)
	}
	r.mu.Unlock()

	logging.Info().
		Str("user", member.Identity.UserID).
		Str("room", roomID).
		Msg("user left room")

	if empty {
		if err := r.docs.Evict(ctx, roomID); err != nil {
			return roomID, fmt.Errorf("evict room %s: %w", roomID, err)
		}
		logging.Info().Str("room", roomID).Msg("room torn down")
	}
	return roomID, nil
}

// RoomOf returns the room a connection belongs to.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.conns[connID]
	return roomID, ok
}

// Members enumerates the current members of a room, sorted by connection
// id for deterministic roster pushes.
func (r *Registry) Members(roomID string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]Member, 0, len(r.rooms[roomID]))
	for _, m := range r.rooms[roomID] {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].ConnID < members[j].ConnID
	})
	return members
}

// RoomIDs lists rooms that currently have members, sorted.
func (r *Registry) RoomIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MemberCount reports the number of connections in a room.
func (r *Registry) MemberCount(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}
