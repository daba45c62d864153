// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gws "github.com/gorilla/websocket"

	"github.com/georelay/georelay/internal/auth"
	"github.com/georelay/georelay/internal/cache"
	"github.com/georelay/georelay/internal/document"
	"github.com/georelay/georelay/internal/models"
	"github.com/georelay/georelay/internal/room"
)

func setupHandler(t *testing.T) (*Handler, *cache.MemoryStore) {
	t.Helper()
	mem := cache.NewMemoryStore()
	docs := document.NewStore(mem)
	registry := room.NewRegistry(docs)
	hub := NewHub()
	relay := NewRelay(registry, docs, hub)
	authn := auth.NewAuthenticator(mem)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.RunWithContext(ctx) }()
	time.Sleep(10 * time.Millisecond)

	return NewHandler(authn, relay, hub, []string{"*"}), mem
}

func grantAccess(t *testing.T, mem *cache.MemoryStore, token, roomID, userID, name string) {
	t.Helper()
	record, err := json.Marshal(models.AuthorizationRecord{
		User: userID, Session: roomID, Name: name, Token: token,
	})
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	if err := mem.Set(context.Background(), cache.AuthorizationKey(token), record); err != nil {
		t.Fatalf("store record: %v", err)
	}
}

func wsURL(server *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/?" + query
}

func TestHandlerRejectsUnauthorized(t *testing.T) {
	handler, mem := setupHandler(t)
	server := httptest.NewServer(handler)
	defer server.Close()

	grantAccess(t, mem, "good-token", "alpha", "u1", "Alice")

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"unknown token", "room=alpha&token=bogus", http.StatusUnauthorized},
		{"wrong room", "room=beta&token=good-token", http.StatusUnauthorized},
		{"missing token", "room=alpha", http.StatusBadRequest},
		{"missing room", "token=good-token", http.StatusBadRequest},
		{"room with invalid characters", "room=a/b&token=good-token", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(server.URL + "/?" + tt.query)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestHandlerRejectsWhenAuthBackendDown(t *testing.T) {
	handler, mem := setupHandler(t)
	server := httptest.NewServer(handler)
	defer server.Close()

	mem.FailGets = context.DeadlineExceeded

	resp, err := http.Get(server.URL + "/?room=alpha&token=any")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestHandlerAdmitsAndWelcomes(t *testing.T) {
	handler, mem := setupHandler(t)
	server := httptest.NewServer(handler)
	defer server.Close()

	grantAccess(t, mem, "tok-1", "alpha", "u1", "Alice")
	grantAccess(t, mem, "tok-2", "alpha", "u2", "Bob")

	first, _, err := gws.DefaultDialer.Dial(wsURL(server, "room=alpha&token=tok-1"), nil)
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	defer first.Close()

	var welcome models.Envelope
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := first.ReadJSON(&welcome); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if welcome.Type != models.MessageTypeInitDocument {
		t.Fatalf("first message = %s, want %s", welcome.Type, models.MessageTypeInitDocument)
	}
	if _, err := document.Load(welcome.Document); err != nil {
		t.Errorf("welcome snapshot unparseable: %v", err)
	}

	second, _, err := gws.DefaultDialer.Dial(wsURL(server, "room=alpha&token=tok-2"), nil)
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer second.Close()

	// The first member sees the second join.
	var joined models.Envelope
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := first.ReadJSON(&joined); err != nil {
		t.Fatalf("read join: %v", err)
	}
	if joined.Type != models.MessageTypeUserJoin || joined.UID != "u2" || joined.Name != "Bob" {
		t.Errorf("expected userJoin for u2/Bob, got %+v", joined)
	}
}

func TestHandlerPingPong(t *testing.T) {
	handler, mem := setupHandler(t)
	server := httptest.NewServer(handler)
	defer server.Close()

	grantAccess(t, mem, "tok-1", "alpha", "u1", "Alice")

	conn, _, err := gws.DefaultDialer.Dial(wsURL(server, "room=alpha&token=tok-1"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var welcome models.Envelope
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("read welcome: %v", err)
	}

	if err := conn.WriteJSON(models.Envelope{Type: models.MessageTypePing}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong models.Envelope
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong.Type != models.MessageTypePong {
		t.Errorf("reply = %s, want %s", pong.Type, models.MessageTypePong)
	}
}
