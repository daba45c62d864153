// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

// Package cache provides the durable key-value store that is the source
// of truth between editing sessions. Two backends implement the same
// GET/SET/DEL contract: an embedded BadgerDB store and a Redis store for
// deployments that share an external cache with the session issuer.
package cache

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value exists for the key.
var ErrNotFound = errors.New("cache: key not found")

// Store is the durable cache contract consumed by the relay.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value under key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// Key prefixes shared with the external session issuer.
const (
	docKeyPrefix  = "doc:"
	authKeyPrefix = "auth:"
)

// DocumentKey derives the deterministic snapshot key for a room.
func DocumentKey(roomID string) string {
	return docKeyPrefix + roomID
}

// AuthorizationKey derives the deterministic credential key for a token.
func AuthorizationKey(token string) string {
	return authKeyPrefix + token
}
