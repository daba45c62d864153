// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration invalid: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("default port = %d", cfg.Server.Port)
	}
	if cfg.Cache.Backend != "badger" {
		t.Errorf("default cache backend = %q", cfg.Cache.Backend)
	}
	if cfg.Bridge.ReconnectWait <= 0 {
		t.Errorf("default bridge reconnect wait = %v, want a positive backoff", cfg.Bridge.ReconnectWait)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 0 }},
		{"unknown environment", func(c *Config) { c.Server.Environment = "staging" }},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "etcd" }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"redis backend without url", func(c *Config) { c.Cache.Backend = "redis"; c.Cache.RedisURL = "" }},
		{"production without origins", func(c *Config) { c.Server.Environment = "production" }},
		{"production wildcard origin", func(c *Config) {
			c.Server.Environment = "production"
			c.Server.CORSOrigins = []string{"*"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestAllowedOrigins(t *testing.T) {
	dev := defaultConfig()
	if got := dev.AllowedOrigins(); len(got) != 1 || got[0] != "*" {
		t.Errorf("development default origins = %v, want wildcard", got)
	}

	prod := defaultConfig()
	prod.Server.Environment = "production"
	prod.Server.CORSOrigins = []string{"https://maps.example.com"}
	if got := prod.AllowedOrigins(); len(got) != 1 || got[0] != "https://maps.example.com" {
		t.Errorf("production origins = %v", got)
	}
}

func TestLoadLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "server:\n  port: 9100\n  environment: development\ncache:\n  backend: memory\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("GEORELAY_SERVER_PORT", "9200")
	t.Setenv("GEORELAY_LOGGING_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// ENV beats file beats defaults.
	if cfg.Server.Port != 9200 {
		t.Errorf("port = %d, want env override 9200", cfg.Server.Port)
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("cache backend = %q, want file value", cfg.Cache.Backend)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want env override", cfg.Logging.Level)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host = %q, want default", cfg.Server.Host)
	}
}

func TestLoadCORSFromEnv(t *testing.T) {
	t.Setenv("GEORELAY_SERVER_CORS_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := cfg.Server.CORSOrigins
	if len(got) != 2 || got[0] != "https://a.example.com" || got[1] != "https://b.example.com" {
		t.Errorf("cors origins = %v", got)
	}
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	t.Setenv("GEORELAY_SERVER_ENVIRONMENT", "staging")
	if _, err := Load(); err == nil {
		t.Error("expected validation failure for unknown environment")
	}
}
