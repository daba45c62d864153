// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

package auth

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/goccy/go-json"

	"github.com/georelay/georelay/internal/cache"
	"github.com/georelay/georelay/internal/logging"
	"github.com/georelay/georelay/internal/models"
)

//nolint:gochecknoinits // init ensures quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

func storeWithRecord(t *testing.T, record models.AuthorizationRecord) *cache.MemoryStore {
	t.Helper()
	store := cache.NewMemoryStore()
	data, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	if err := store.Set(context.Background(), cache.AuthorizationKey(record.Token), data); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	return store
}

func TestAuthenticateValid(t *testing.T) {
	store := storeWithRecord(t, models.AuthorizationRecord{
		User: "42", Session: "room-a", Name: "Ada", Token: "tok-1",
	})
	authn := NewAuthenticator(store)

	identity, err := authn.Authenticate(context.Background(), "tok-1", "room-a")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if identity.UserID != "42" || identity.Name != "Ada" {
		t.Errorf("unexpected identity %+v", identity)
	}
}

func TestAuthenticateRejections(t *testing.T) {
	store := storeWithRecord(t, models.AuthorizationRecord{
		User: "42", Session: "room-a", Name: "Ada", Token: "tok-1",
	})
	authn := NewAuthenticator(store)

	tests := []struct {
		name  string
		token string
		room  string
	}{
		{"unknown token", "tok-nope", "room-a"},
		{"room mismatch", "tok-1", "room-b"},
		{"empty token", "", "room-a"},
		{"empty room", "tok-1", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := authn.Authenticate(context.Background(), tt.token, tt.room)
			if !errors.Is(err, ErrUnauthorized) {
				t.Errorf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestAuthenticateStoredTokenMismatch(t *testing.T) {
	// Record reachable under key auth:tok-1 but carrying a different
	// token inside; the embedded token must also match.
	store := cache.NewMemoryStore()
	data, _ := json.Marshal(models.AuthorizationRecord{
		User: "42", Session: "room-a", Name: "Ada", Token: "tok-other",
	})
	_ = store.Set(context.Background(), cache.AuthorizationKey("tok-1"), data)

	_, err := NewAuthenticator(store).Authenticate(context.Background(), "tok-1", "room-a")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAuthenticateCacheFailureIsNotUnauthorized(t *testing.T) {
	store := cache.NewMemoryStore()
	store.FailGets = errors.New("backend down")

	_, err := NewAuthenticator(store).Authenticate(context.Background(), "tok-1", "room-a")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Errorf("cache outage must not be reported as unauthorized: %v", err)
	}
}

func TestAuthenticateMalformedRecord(t *testing.T) {
	store := cache.NewMemoryStore()
	_ = store.Set(context.Background(), cache.AuthorizationKey("tok-1"), []byte("{not json"))

	_, err := NewAuthenticator(store).Authenticate(context.Background(), "tok-1", "room-a")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}
