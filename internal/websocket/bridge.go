// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

package websocket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"

	"github.com/georelay/georelay/internal/logging"
	"github.com/georelay/georelay/internal/metrics"
)

// Bridge topic and metadata keys. Every relay process publishes applied
// changesets to one shared subject; room routing rides in metadata so a
// receiving process can skip rooms it does not host.
const (
	changesTopic    = "rooms.changes"
	metadataRoom    = "room"
	metadataUID     = "uid"
	metadataProcess = "process"
)

// BridgeConfig configures the cross-process changeset bridge.
type BridgeConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Bridge connects this process to its peers over NATS. Changesets
// applied locally are published; changesets published by peers are
// merged into locally hosted rooms and fanned out to their members.
//
// Delivery is at-most-once by design: the durable cache is the source of
// truth for late joiners, so a missed delta costs a client nothing worse
// than waiting for its next snapshot.
type Bridge struct {
	relay     *Relay
	publisher message.Publisher
	sub       message.Subscriber
	processID string
	running   atomic.Bool

	mu     sync.Mutex
	closed bool
}

// NewBridge creates a bridge connected to the NATS deployment at
// cfg.URL and attaches it to the relay as its change publisher.
func NewBridge(cfg BridgeConfig, relay *Relay) (*Bridge, error) {
	logger := watermill.NewStdLogger(false, false)

	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("bridge disconnected from NATS")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("bridge reconnected to NATS")
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create bridge publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Unmarshaler: &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create bridge subscriber: %w", err)
	}

	b := &Bridge{
		relay:     relay,
		publisher: pub,
		sub:       sub,
		processID: uuid.NewString(),
	}
	relay.SetPublisher(b)
	return b, nil
}

// PublishChange forwards an applied changeset to peer processes.
// Best effort: a publish failure is logged and counted, never surfaced
// to the editing client, whose edit already succeeded locally.
func (b *Bridge) PublishChange(roomID, originUID string, changes []byte) {
	msg := message.NewMessage(watermill.NewUUID(), changes)
	msg.Metadata.Set(metadataRoom, roomID)
	msg.Metadata.Set(metadataUID, originUID)
	msg.Metadata.Set(metadataProcess, b.processID)

	if err := b.publisher.Publish(changesTopic, msg); err != nil {
		logging.Warn().Err(err).Str("room", roomID).Msg("bridge publish failed")
		return
	}
	metrics.BridgePublished.Inc()
}

// Serve consumes peer changesets until the context is canceled.
// Implements the suture service contract.
func (b *Bridge) Serve(ctx context.Context) error {
	messages, err := b.sub.Subscribe(ctx, changesTopic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", changesTopic, err)
	}
	logging.Info().Str("topic", changesTopic).Msg("bridge subscribed")
	b.running.Store(true)
	defer b.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return ctx.Err()
			}
			b.handle(ctx, msg)
		}
	}
}

// handle merges one peer message. Messages are always acked: a corrupt
// or unmergeable changeset would fail identically on redelivery.
func (b *Bridge) handle(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	if msg.Metadata.Get(metadataProcess) == b.processID {
		// Our own publish echoed back.
		return
	}

	roomID := msg.Metadata.Get(metadataRoom)
	if roomID == "" {
		logging.Warn().Str("message_id", msg.UUID).Msg("bridge message without room metadata")
		return
	}

	metrics.BridgeReceived.Inc()
	if err := b.relay.ApplyPeerChange(ctx, roomID, msg.Metadata.Get(metadataUID), msg.Payload); err != nil {
		logging.Error().Err(err).Str("room", roomID).Msg("peer changeset apply failed")
	}
}

// IsRunning reports whether the bridge is subscribed and consuming.
func (b *Bridge) IsRunning() bool {
	return b.running.Load()
}

// String identifies the bridge in supervisor logs.
func (b *Bridge) String() string {
	return "nats-bridge"
}

// Close releases the NATS connections.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	subErr := b.sub.Close()
	if err := b.publisher.Close(); err != nil {
		return err
	}
	return subErr
}
