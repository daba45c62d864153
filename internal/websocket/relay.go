// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

package websocket

import (
	"context"
	"errors"

	"github.com/georelay/georelay/internal/document"
	"github.com/georelay/georelay/internal/logging"
	"github.com/georelay/georelay/internal/metrics"
	"github.com/georelay/georelay/internal/models"
	"github.com/georelay/georelay/internal/room"
	"github.com/georelay/georelay/internal/validation"
)

// ChangePublisher forwards an applied changeset to peer processes.
// Implemented by the NATS bridge; nil when the relay runs single-process.
type ChangePublisher interface {
	PublishChange(roomID, originUID string, changes []byte)
}

// Relay routes messages between websocket clients, the room registry and
// the document store. It owns the welcome sequence for joining clients,
// edit application and fan-out, and presence propagation.
type Relay struct {
	registry  *room.Registry
	docs      *document.Store
	hub       *Hub
	publisher ChangePublisher
}

// NewRelay wires a relay into the hub's lifecycle hooks.
func NewRelay(registry *room.Registry, docs *document.Store, hub *Hub) *Relay {
	r := &Relay{registry: registry, docs: docs, hub: hub}
	hub.OnRegister = r.welcome
	hub.OnUnregister = r.farewell
	return r
}

// SetPublisher attaches the cross-process change publisher. Must be
// called before the hub starts accepting clients.
func (r *Relay) SetPublisher(p ChangePublisher) {
	r.publisher = p
}

// Admit reserves the client's room membership. The room's document is
// materialized by the registry before membership becomes visible; a
// failure here means the connection must be refused.
func (r *Relay) Admit(ctx context.Context, c *Client) error {
	return r.registry.Join(ctx, room.Member{
		ConnID:   c.connID,
		Identity: models.Identity{UserID: c.userID, Name: c.name},
	}, c.roomID)
}

// welcome runs on the hub goroutine when a client registers. Sequencing
// matters: the full snapshot is queued before the current roster, and
// both before any broadcast the hub processes afterwards, so the joiner
// initializes from a state that every later changeset builds on. An edit
// applied while the snapshot was being taken may arrive again as a
// delta; the merge is idempotent so the document does not double up.
func (r *Relay) welcome(c *Client) {
	snapshot, err := r.docs.SnapshotBytes(c.roomID)
	if err != nil {
		// Membership exists but the document vanished underneath it: the
		// join raced a concurrent last-member teardown that evicted the
		// document after Ensure ran. Nothing useful can be sent, so the
		// client is dropped here; the farewell releases its membership
		// and the connection closes, letting the client reconnect into a
		// freshly materialized room.
		logging.Error().Err(err).Str("room", c.roomID).Msg("welcome snapshot unavailable, dropping client")
		r.hub.Drop(c)
		return
	}
	c.Enqueue(models.Envelope{Type: models.MessageTypeInitDocument, Document: snapshot})

	for _, m := range r.registry.Members(c.roomID) {
		if m.ConnID == c.connID {
			continue
		}
		c.Enqueue(models.Envelope{
			Type: models.MessageTypeUserJoin,
			UID:  m.Identity.UserID,
			Name: m.Identity.Name,
		})
	}

	metrics.PresenceEvents.WithLabelValues("join").Inc()
	r.hub.BroadcastToRoom(c.roomID, models.Envelope{
		Type: models.MessageTypeUserJoin,
		UID:  c.userID,
		Name: c.name,
	}, c.id)
}

// farewell runs on the hub goroutine when a client unregisters: remaining
// members learn of the departure, then the membership is released, which
// persists and evicts the document when the room empties.
func (r *Relay) farewell(c *Client) {
	metrics.PresenceEvents.WithLabelValues("leave").Inc()
	r.hub.BroadcastToRoom(c.roomID, models.Envelope{
		Type: models.MessageTypeUserLeave,
		UID:  c.userID,
		Name: c.name,
	}, c.id)

	// Teardown persistence must not inherit a canceled request context.
	if _, err := r.registry.Leave(context.Background(), c.connID); err != nil && !errors.Is(err, room.ErrNotMember) {
		logging.Error().Err(err).Str("room", c.roomID).Msg("room teardown failed, snapshot at risk")
	}
}

// OnMessage dispatches one inbound envelope. Runs on the client's read
// goroutine; per-connection ordering is preserved because each message
// is fully applied before the next is read, and the hub's broadcast
// queue is FIFO.
func (r *Relay) OnMessage(c *Client, envelope *models.Envelope) {
	switch envelope.Type {
	case models.MessageTypeEdit:
		r.handleEdit(c, envelope)
	case models.MessageTypeFeatureEdit:
		r.handleFeatureEdit(c, envelope)
	case models.MessageTypeCursorMove:
		r.handleCursorMove(c, envelope)
	default:
		logging.Debug().
			Str("user", c.userID).
			Str("message_type", envelope.Type).
			Msg("dropping unknown message type")
	}
}

// handleEdit merges a client-computed changeset into the room document
// and fans it out to every other member. A corrupt changeset is dropped
// without disturbing the document or the peers.
func (r *Relay) handleEdit(c *Client, envelope *models.Envelope) {
	if len(envelope.ChangeSet) == 0 {
		metrics.EditsRejected.WithLabelValues("empty").Inc()
		return
	}

	err := r.docs.ApplyRemote(context.Background(), c.roomID, envelope.ChangeSet)
	switch {
	case errors.Is(err, document.ErrMergeFailed):
		metrics.EditsRejected.WithLabelValues("merge_failed").Inc()
		logging.Warn().Str("user", c.userID).Str("room", c.roomID).Msg("dropping unparseable changeset")
		return
	case errors.Is(err, document.ErrRoomNotLoaded):
		// Raced with the room's teardown; the connection is on its way out.
		metrics.EditsRejected.WithLabelValues("room_not_loaded").Inc()
		return
	case err != nil:
		metrics.EditsRejected.WithLabelValues("internal").Inc()
		logging.Error().Err(err).Str("room", c.roomID).Msg("changeset apply failed")
		return
	}

	metrics.EditsApplied.WithLabelValues("client").Inc()
	r.fanOut(c, envelope.ChangeSet)
}

// handleFeatureEdit applies a structured mutation server-side and fans
// out the resulting changeset, so thin clients can edit without running
// the CRDT themselves.
func (r *Relay) handleFeatureEdit(c *Client, envelope *models.Envelope) {
	if envelope.Edit == nil {
		metrics.EditsRejected.WithLabelValues("malformed").Inc()
		return
	}

	changes, err := r.docs.ApplyLocal(context.Background(), c.roomID, envelope.Edit)
	switch {
	case errors.Is(err, document.ErrMalformedEdit):
		metrics.EditsRejected.WithLabelValues("malformed").Inc()
		logging.Warn().Str("user", c.userID).Str("room", c.roomID).Msg("dropping malformed feature edit")
		return
	case errors.Is(err, document.ErrRoomNotLoaded):
		metrics.EditsRejected.WithLabelValues("room_not_loaded").Inc()
		return
	case err != nil:
		metrics.EditsRejected.WithLabelValues("internal").Inc()
		logging.Error().Err(err).Str("room", c.roomID).Msg("feature edit apply failed")
		return
	}
	if changes == nil {
		// No-op edit, nothing to propagate.
		return
	}

	metrics.EditsApplied.WithLabelValues("client").Inc()
	r.fanOut(c, changes)
}

// fanOut delivers an applied changeset to the sender's room peers and to
// other processes. The sender never receives its own edit back.
func (r *Relay) fanOut(c *Client, changes []byte) {
	r.hub.BroadcastToRoom(c.roomID, models.Envelope{
		Type:      models.MessageTypeEdit,
		UID:       c.userID,
		ChangeSet: changes,
	}, c.id)

	if r.publisher != nil {
		r.publisher.PublishChange(c.roomID, c.userID, changes)
	}
}

// handleCursorMove forwards ephemeral presence to room peers. Cursor
// traffic never touches the document or the durable cache, and is shed
// first under load.
func (r *Relay) handleCursorMove(c *Client, envelope *models.Envelope) {
	if !c.cursors.Allow() {
		logging.Debug().Str("user", c.userID).Msg("cursor updates throttled")
		return
	}
	if len(envelope.Location) != 2 {
		return
	}
	if err := validation.CheckCoordinate(envelope.Location[0], envelope.Location[1]); err != nil {
		logging.Debug().Str("user", c.userID).Err(err).Msg("dropping out-of-range cursor position")
		return
	}

	metrics.PresenceEvents.WithLabelValues("cursor").Inc()
	r.hub.BroadcastToRoom(c.roomID, models.Envelope{
		Type:     models.MessageTypeCursorMove,
		UID:      c.userID,
		Name:     c.name,
		Location: envelope.Location,
	}, c.id)
}

// ApplyPeerChange merges a changeset received from another process via
// the bridge and fans it out to local members of the room. Rooms not
// hosted by this process are skipped.
func (r *Relay) ApplyPeerChange(ctx context.Context, roomID, originUID string, changes []byte) error {
	if !r.docs.Loaded(roomID) {
		return nil
	}

	err := r.docs.ApplyRemote(ctx, roomID, changes)
	switch {
	case errors.Is(err, document.ErrRoomNotLoaded):
		// Room evicted between the check and the merge.
		return nil
	case errors.Is(err, document.ErrMergeFailed):
		metrics.EditsRejected.WithLabelValues("merge_failed").Inc()
		logging.Warn().Str("room", roomID).Msg("dropping unparseable peer changeset")
		return nil
	case err != nil:
		return err
	}

	metrics.EditsApplied.WithLabelValues("peer").Inc()
	r.hub.BroadcastToRoom(roomID, models.Envelope{
		Type:      models.MessageTypeEdit,
		UID:       originUID,
		ChangeSet: changes,
	}, 0)
	return nil
}
