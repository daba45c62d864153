// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

package cache

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/georelay/georelay/internal/logging"
)

// BreakerStore wraps a Store with a circuit breaker so a struggling
// cache backend fails fast instead of stalling every connection's event
// handling. Misses are successes; only infrastructure errors count.
type BreakerStore struct {
	inner   Store
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// NewBreakerStore wraps inner with a circuit breaker named for logs.
func NewBreakerStore(inner Store, name string) *BreakerStore {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("cache circuit breaker state change")
		},
	}

	return &BreakerStore{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
	}
}

// Get returns the value for key, or ErrNotFound.
func (s *BreakerStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.breaker.Execute(func() ([]byte, error) {
		return s.inner.Get(ctx, key)
	})
}

// Set writes value under key.
func (s *BreakerStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.breaker.Execute(func() ([]byte, error) {
		return nil, s.inner.Set(ctx, key, value)
	})
	return err
}

// Delete removes key.
func (s *BreakerStore) Delete(ctx context.Context, key string) error {
	_, err := s.breaker.Execute(func() ([]byte, error) {
		return nil, s.inner.Delete(ctx, key)
	})
	return err
}

// Close closes the wrapped store.
func (s *BreakerStore) Close() error {
	return s.inner.Close()
}
