// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

package validation

import (
	"strings"
	"testing"
)

func TestCheckHandshake(t *testing.T) {
	tests := []struct {
		name    string
		params  HandshakeParams
		wantErr bool
	}{
		{"valid", HandshakeParams{Room: "atlas-42", Token: "tok", Name: "Alice"}, false},
		{"valid without name", HandshakeParams{Room: "r1", Token: "tok"}, false},
		{"missing room", HandshakeParams{Token: "tok"}, true},
		{"missing token", HandshakeParams{Room: "r1"}, true},
		{"room with slash", HandshakeParams{Room: "rooms/alpha", Token: "tok"}, true},
		{"room with space", HandshakeParams{Room: "my room", Token: "tok"}, true},
		{"room too long", HandshakeParams{Room: strings.Repeat("a", 129), Token: "tok"}, true},
		{"name too long", HandshakeParams{Room: "r1", Token: "tok", Name: strings.Repeat("n", 65)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckHandshake(tt.params)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckHandshake(%+v) = %v, wantErr %v", tt.params, err, tt.wantErr)
			}
		})
	}
}

func TestCheckCoordinate(t *testing.T) {
	if err := CheckCoordinate(-122.4194, 37.7749); err != nil {
		t.Errorf("valid coordinate rejected: %v", err)
	}
	if err := CheckCoordinate(-122.4194, 91); err == nil {
		t.Error("latitude 91 accepted")
	}
	if err := CheckCoordinate(181, 37.7749); err == nil {
		t.Error("longitude 181 accepted")
	}
}

func TestInputErrorMessagesOmitValues(t *testing.T) {
	err := CheckHandshake(HandshakeParams{Room: "bad room", Token: "secret-token-value"})
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "secret-token-value") {
		t.Errorf("error message leaks token: %q", err.Error())
	}
	if len(err.Fields()) != 1 {
		t.Errorf("fields = %+v", err.Fields())
	}
}
