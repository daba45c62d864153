// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

// Package auth validates connection handshakes against authorization
// records that an external session issuer writes to the durable cache.
// The relay never mints or expires credentials; it only reads them.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/georelay/georelay/internal/cache"
	"github.com/georelay/georelay/internal/logging"
	"github.com/georelay/georelay/internal/models"
)

// ErrUnauthorized is the single rejection signal for a failed handshake.
// The cause (missing record, room mismatch, token mismatch) is logged
// server-side but never differentiated to the client.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator resolves handshake credentials to a user identity.
type Authenticator struct {
	store cache.Store
}

// NewAuthenticator creates an Authenticator backed by the durable cache.
func NewAuthenticator(store cache.Store) *Authenticator {
	return &Authenticator{store: store}
}

// Authenticate looks up the authorization record for token and checks it
// against the claimed room. The lookup is read-only; the record's expiry
// is owned by the issuer. Failure is terminal for the connection attempt.
func (a *Authenticator) Authenticate(ctx context.Context, token, roomID string) (models.Identity, error) {
	if token == "" || roomID == "" {
		return models.Identity{}, ErrUnauthorized
	}

	raw, err := a.store.Get(ctx, cache.AuthorizationKey(token))
	if errors.Is(err, cache.ErrNotFound) {
		logging.Debug().Str("room", roomID).Msg("handshake with unknown token")
		return models.Identity{}, ErrUnauthorized
	}
	if err != nil {
		// A cache outage must not admit unauthenticated connections.
		return models.Identity{}, fmt.Errorf("authorization lookup: %w", err)
	}

	var record models.AuthorizationRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		logging.Warn().Err(err).Msg("malformed authorization record")
		return models.Identity{}, ErrUnauthorized
	}

	if record.Session != roomID || record.Token != token {
		logging.Debug().
			Str("claimed_room", roomID).
			Str("granted_room", record.Session).
			Msg("handshake room/token mismatch")
		return models.Identity{}, ErrUnauthorized
	}

	return models.Identity{UserID: record.User, Name: record.Name}, nil
}
