// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

// Package main is the entry point for the georelay server.
//
// Georelay keeps groups of map editors in sync. Clients connect over a
// websocket at /live, edits flow through a CRDT document per room, and
// every applied change fans out to the room's other members. Snapshots
// persist in a durable cache (Badger or Redis) so rooms survive
// restarts, and an optional NATS bridge propagates changesets between
// relay processes sharing that cache.
//
// Startup order:
//
//  1. Configuration: koanf v2 layers defaults, config.yaml, environment
//  2. Logging: global zerolog per the logging section
//  3. Cache: Badger, Redis, or memory, optionally behind a breaker
//  4. Core: document store, room registry, hub, relay
//  5. Bridge (optional): embedded or external NATS
//  6. HTTP: chi router with the handshake, management API and metrics
//  7. Supervision: suture tree runs the hub, bridge and HTTP server
//
// Shutdown is signal-driven: SIGINT/SIGTERM cancels the root context,
// the supervisor drains each service, and the cache is closed last.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/georelay/georelay/internal/api"
	"github.com/georelay/georelay/internal/auth"
	"github.com/georelay/georelay/internal/cache"
	"github.com/georelay/georelay/internal/config"
	"github.com/georelay/georelay/internal/document"
	"github.com/georelay/georelay/internal/logging"
	"github.com/georelay/georelay/internal/room"
	"github.com/georelay/georelay/internal/supervisor"
	"github.com/georelay/georelay/internal/supervisor/services"
	ws "github.com/georelay/georelay/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Default logger; configured logging is not available yet.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("environment", cfg.Server.Environment).
		Str("cache_backend", cfg.Cache.Backend).
		Bool("bridge_enabled", cfg.Bridge.Enabled).
		Msg("Starting georelay")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := buildCache(ctx, &cfg.Cache)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize cache backend")
	}
	defer func() {
		if err := closeStore(); err != nil {
			logging.Error().Err(err).Msg("Error closing cache backend")
		}
	}()

	docs := document.NewStore(store)
	registry := room.NewRegistry(docs)
	hub := ws.NewHub()
	relay := ws.NewRelay(registry, docs, hub)
	authn := auth.NewAuthenticator(store)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
	})

	tree.AddMessagingService(services.NewHubService(hub))

	bridge, embedded, err := buildBridge(&cfg.Bridge, relay)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize bridge")
	}
	if bridge != nil {
		tree.AddMessagingService(bridge)
		defer func() {
			if err := bridge.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing bridge")
			}
		}()
	}
	if embedded != nil {
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer shutdownCancel()
			if err := embedded.Shutdown(shutdownCtx); err != nil {
				logging.Error().Err(err).Msg("Error shutting down embedded NATS")
			}
		}()
	}

	liveHandler := ws.NewHandler(authn, relay, hub, cfg.AllowedOrigins())

	apiHandler := api.NewHandler(registry, docs, store, hub, bridgeStatus(bridge))

	mwConfig := api.DefaultChiMiddlewareConfig()
	mwConfig.CORSAllowedOrigins = cfg.AllowedOrigins()
	mwConfig.RateLimitRequests = cfg.Server.RateLimitRequests
	mwConfig.RateLimitWindow = cfg.Server.RateLimitWindow
	mwConfig.RateLimitDisabled = cfg.Server.RateLimitDisabled
	if mwConfig.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED")
	}
	router := api.NewRouter(apiHandler, api.NewChiMiddleware(mwConfig), liveHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Georelay stopped gracefully")
}

// buildCache constructs the configured cache backend and returns it
// with its close function. The breaker wrap, when enabled, applies to
// whatever backend was selected.
func buildCache(ctx context.Context, cfg *config.CacheConfig) (cache.Store, func() error, error) {
	var (
		store    cache.Store
		closeFun func() error
	)

	switch cfg.Backend {
	case "badger":
		badgerStore, err := cache.NewBadgerStore(cfg.BadgerPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open badger at %q: %w", cfg.BadgerPath, err)
		}
		store, closeFun = badgerStore, badgerStore.Close
		logging.Info().Str("path", cfg.BadgerPath).Msg("Badger cache opened")

	case "redis":
		redisStore, err := cache.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		store, closeFun = redisStore, redisStore.Close
		logging.Info().Msg("Redis cache connected")

	case "memory":
		store, closeFun = cache.NewMemoryStore(), func() error { return nil }
		logging.Warn().Msg("Memory cache selected; rooms will not survive restarts")

	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}

	if cfg.BreakerEnabled {
		store = cache.NewBreakerStore(store, cfg.Backend)
		logging.Info().Msg("Cache circuit breaker enabled")
	}
	return store, closeFun, nil
}

// buildBridge wires the NATS changeset bridge when enabled, starting an
// embedded server first if configured. Returns nils when disabled.
func buildBridge(cfg *config.BridgeConfig, relay *ws.Relay) (*ws.Bridge, *ws.EmbeddedServer, error) {
	if !cfg.Enabled {
		logging.Info().Msg("Bridge disabled; running as a single process")
		return nil, nil, nil
	}

	url := cfg.URL
	var embedded *ws.EmbeddedServer
	if cfg.Embedded {
		var err error
		embedded, err = ws.NewEmbeddedServer(ws.EmbeddedServerConfig{
			Host: cfg.EmbeddedHost,
			Port: cfg.EmbeddedPort,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("start embedded nats: %w", err)
		}
		url = embedded.ClientURL()
		logging.Info().Str("url", url).Msg("Embedded NATS server started")
	}

	bridge, err := ws.NewBridge(ws.BridgeConfig{
		URL:           url,
		MaxReconnects: cfg.MaxReconnects,
		ReconnectWait: cfg.ReconnectWait,
	}, relay)
	if err != nil {
		return nil, embedded, err
	}
	logging.Info().Str("url", url).Msg("Bridge connected")
	return bridge, embedded, nil
}

// bridgeStatus converts a possibly-nil *Bridge into the health probe's
// interface without producing a typed-nil surprise.
func bridgeStatus(bridge *ws.Bridge) api.BridgeStatus {
	if bridge == nil {
		return nil
	}
	return bridge
}
