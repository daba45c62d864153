// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/georelay/georelay/internal/metrics"
)

// RedisStore implements Store on a Redis-compatible server. Use it when
// the relay shares a cache (ElastiCache or similar) with the external
// session issuer, which writes authorization records there.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the server described by a redis:// URL and
// verifies the connection with a ping.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %q: %w", opts.Addr, err)
	}
	return &RedisStore{client: client}, nil
}

// Get returns the value for key, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		metrics.RecordCacheOp("get", "miss")
		return nil, ErrNotFound
	case err != nil:
		metrics.RecordCacheOp("get", "error")
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	metrics.RecordCacheOp("get", "ok")
	return value, nil
}

// Set writes value under key with no expiry; snapshot lifecycle is owned
// by the room registry, not by TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		metrics.RecordCacheOp("set", "error")
		return fmt.Errorf("set %q: %w", key, err)
	}
	metrics.RecordCacheOp("set", "ok")
	return nil
}

// Delete removes key. Absent keys are not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		metrics.RecordCacheOp("delete", "error")
		return fmt.Errorf("delete %q: %w", key, err)
	}
	metrics.RecordCacheOp("delete", "ok")
	return nil
}

// Close closes the client connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
