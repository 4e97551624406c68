// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memorystore provides the badger/v4-backed key-value layer
// behind the memory.* RPCs and the extension host's create_memory
// calls.
package memorystore

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config tunes how the underlying badger.DB is opened.
type Config struct {
	// InMemory opens a purely in-memory database (no Path needed).
	InMemory bool

	// Path is the on-disk directory for a persistent database.
	// Required unless InMemory is true.
	Path string

	// SyncWrites forces an fsync after every write transaction.
	SyncWrites bool

	// NumVersionsToKeep bounds how many versions badger retains per key.
	NumVersionsToKeep int

	// GCInterval, if non-zero, runs badger's value-log GC on this
	// period. Zero disables background GC.
	GCInterval time.Duration
}

// DefaultConfig is a persistent, durable configuration.
func DefaultConfig() Config {
	return Config{
		SyncWrites:        true,
		NumVersionsToKeep: 1,
		GCInterval:        5 * time.Minute,
	}
}

// InMemoryConfig is suited to tests and ephemeral sessions: no fsync,
// no background GC.
func InMemoryConfig() Config {
	return Config{
		InMemory:          true,
		SyncWrites:        false,
		NumVersionsToKeep: 1,
		GCInterval:        0,
	}
}

// DB wraps *badger.DB with context-aware transaction helpers and an
// optional background GC loop.
type DB struct {
	badger *badger.DB
	gcStop chan struct{}
}

// Open opens a database per cfg.
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("memorystore: path is required unless InMemory is set")
	}

	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(cfg.NumVersionsToKeep).
		WithLogger(nil)

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("memorystore: opening badger: %w", err)
	}

	db := &DB{badger: bdb}
	if cfg.GCInterval > 0 {
		db.gcStop = make(chan struct{})
		go db.gcLoop(cfg.GCInterval)
	}
	return db, nil
}

// OpenInMemory opens an ephemeral database with no on-disk footprint.
func OpenInMemory() (*DB, error) {
	return Open(InMemoryConfig())
}

// OpenWithPath opens a persistent database rooted at path using
// DefaultConfig's durability settings.
func OpenWithPath(path string) (*DB, error) {
	cfg := DefaultConfig()
	cfg.Path = path
	return Open(cfg)
}

func (db *DB) gcLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-db.gcStop:
			return
		case <-ticker.C:
		again:
			if err := db.badger.RunValueLogGC(0.5); err == nil {
				goto again
			}
		}
	}
}

// Close shuts down the database, stopping any background GC first.
func (db *DB) Close() error {
	if db.gcStop != nil {
		close(db.gcStop)
	}
	return db.badger.Close()
}

// WithTxn runs fn inside a read-write transaction, aborting before
// even opening the transaction if ctx is already canceled.
func (db *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memorystore: context cancelled: %w", err)
	}
	return db.badger.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction, subject to the
// same context-cancellation check as WithTxn.
func (db *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memorystore: context cancelled: %w", err)
	}
	return db.badger.View(fn)
}
