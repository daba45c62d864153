// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

// Package config loads layered configuration: built-in defaults, an
// optional YAML file, then environment variables, with struct-tag
// validation before anything starts.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the relay.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Cache   CacheConfig   `koanf:"cache"`
	Bridge  BridgeConfig  `koanf:"bridge"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig configures the HTTP listener and its edge policies.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port" validate:"min=1,max=65535"`

	// Environment switches CORS posture: "development" admits every
	// origin, "production" requires an explicit allowlist.
	Environment string `koanf:"environment" validate:"oneof=development production"`

	CORSOrigins []string `koanf:"cors_origins"`

	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"min=1"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`

	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// CacheConfig selects and configures the durable cache backend.
type CacheConfig struct {
	// Backend is badger (embedded), redis (shared), or memory (tests).
	Backend string `koanf:"backend" validate:"oneof=badger redis memory"`

	// BadgerPath is the on-disk location; empty means in-memory Badger.
	BadgerPath string `koanf:"badger_path"`

	RedisURL string `koanf:"redis_url" validate:"required_if=Backend redis"`

	// BreakerEnabled wraps the backend in a circuit breaker so a dying
	// backend fails fast instead of stalling every apply turn.
	BreakerEnabled bool `koanf:"breaker_enabled"`
}

// BridgeConfig configures the cross-process changeset bridge.
type BridgeConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url" validate:"required_if=Enabled true"`

	// Embedded starts an in-process NATS server and overrides URL with
	// its client address. Single-binary deployments.
	Embedded     bool   `koanf:"embedded"`
	EmbeddedHost string `koanf:"embedded_host"`
	EmbeddedPort int    `koanf:"embedded_port"`

	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

// LoggingConfig configures the global structured logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration against its struct tags plus the
// cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Server.Environment == "production" && len(c.Server.CORSOrigins) == 0 {
		return fmt.Errorf("invalid configuration: production requires explicit server.cors_origins")
	}
	for _, origin := range c.Server.CORSOrigins {
		if origin == "*" && c.Server.Environment == "production" {
			return fmt.Errorf("invalid configuration: wildcard CORS origin is not allowed in production")
		}
	}
	return nil
}

// AllowedOrigins resolves the effective CORS allowlist for the
// environment. Development defaults to wildcard so local frontends work
// out of the box.
func (c *Config) AllowedOrigins() []string {
	if c.Server.Environment == "development" && len(c.Server.CORSOrigins) == 0 {
		return []string{"*"}
	}
	return c.Server.CORSOrigins
}

// defaultConfig returns a Config with all sensible default values.
// These are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8000,
			Environment:       "development",
			CORSOrigins:       []string{},
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Cache: CacheConfig{
			Backend:        "badger",
			BadgerPath:     "/data/georelay/cache",
			BreakerEnabled: true,
		},
		Bridge: BridgeConfig{
			Enabled:       false,
			URL:           "nats://127.0.0.1:4222",
			Embedded:      false,
			EmbeddedHost:  "127.0.0.1",
			EmbeddedPort:  4222,
			MaxReconnects: 60,
			ReconnectWait: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
