// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router assembles the HTTP surface: the realtime handshake, the
// management API, health probes and Prometheus metrics.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
	live          http.Handler
}

// NewRouter creates a Router. live is the websocket handshake handler
// mounted at /live.
func NewRouter(handler *Handler, mw *ChiMiddleware, live http.Handler) *Router {
	return &Router{handler: handler, chiMiddleware: mw, live: live}
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to all routes in order. CORS must be
	// global to handle OPTIONS preflight.
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())

	// Legacy uptime probe.
	r.Get("/", router.handler.Root)

	// Realtime handshake. The handler does its own token check; the
	// limiter only bounds upgrade churn per IP.
	r.With(router.chiMiddleware.RateLimitHandshake()).Get("/live", router.live.ServeHTTP)

	// Health endpoints with permissive rate limiting for monitors.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitHealth())
		r.Use(APISecurityHeaders())
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
		r.Get("/", router.handler.Health)
	})

	// Management API.
	r.Route("/api/v1/rooms", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(APISecurityHeaders())
		r.Get("/", router.handler.Rooms)
		r.Get("/{id}/features", router.handler.RoomFeatures)
		r.Delete("/{id}", router.handler.RoomDelete)
	})

	// Prometheus scrape endpoint.
	r.Handle("/metrics", promhttp.Handler())

	return r
}
