// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/georelay/georelay/internal/metrics"
)

// BadgerStore implements Store on BadgerDB. This is the default backend:
// durable across restarts without an external dependency.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens a BadgerDB at path. An empty path opens an
// in-memory database, which tests rely on.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

// Get returns the value for key, or ErrNotFound.
func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get %q: %w", key, err)
		}
		value, err = item.ValueCopy(nil)
		return err
	})

	switch {
	case errors.Is(err, ErrNotFound):
		metrics.RecordCacheOp("get", "miss")
		return nil, ErrNotFound
	case err != nil:
		metrics.RecordCacheOp("get", "error")
		return nil, err
	}
	metrics.RecordCacheOp("get", "ok")
	return value, nil
}

// Set writes value under key.
func (s *BadgerStore) Set(ctx context.Context, key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		metrics.RecordCacheOp("set", "error")
		return fmt.Errorf("set %q: %w", key, err)
	}
	metrics.RecordCacheOp("set", "ok")
	return nil
}

// Delete removes key. Absent keys are not an error.
func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		metrics.RecordCacheOp("delete", "error")
		return fmt.Errorf("delete %q: %w", key, err)
	}
	metrics.RecordCacheOp("delete", "ok")
	return nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
