// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memorystore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const keyPrefix = "memory:"

// Record is one durable fact stored by memory.* RPCs or by an
// extension's create_memory call.
type Record struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store layers durable-memory records on top of a DB.
type Store struct {
	db *DB
}

// NewStore wraps an already-open DB.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Create persists a new record and returns its generated ID.
func (s *Store) Create(ctx context.Context, memoryType, title, content string, tags []string) (string, error) {
	rec := Record{
		ID:        uuid.NewString(),
		Type:      memoryType,
		Title:     title,
		Content:   content,
		Tags:      tags,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("memorystore: encoding record: %w", err)
	}
	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+rec.ID), data)
	})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// CreateMemory implements extension.MemoryCreator: extensions don't
// need the generated ID back, just confirmation the write landed.
func (s *Store) CreateMemory(memoryType, title, content string, tags []string) error {
	_, err := s.Create(context.Background(), memoryType, title, content, tags)
	return err
}

// Get looks up a single record by ID.
func (s *Store) Get(ctx context.Context, id string) (Record, bool, error) {
	var rec Record
	found := false
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return Record{}, false, err
	}
	return rec, found, nil
}

// Delete removes a record by ID. Deleting a missing ID is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + id))
	})
}

// List returns every record, optionally filtered by memory type,
// newest first.
func (s *Store) List(ctx context.Context, memoryType string) ([]Record, error) {
	var out []Record
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			if memoryType != "" && rec.Type != memoryType {
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Search does a case-insensitive substring match over title and
// content, scoped to the same optional type filter as List.
func (s *Store) Search(ctx context.Context, memoryType, query string) ([]Record, error) {
	all, err := s.List(ctx, memoryType)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return all, nil
	}
	q := strings.ToLower(query)
	var out []Record
	for _, rec := range all {
		if strings.Contains(strings.ToLower(rec.Title), q) || strings.Contains(strings.ToLower(rec.Content), q) {
			out = append(out, rec)
		}
	}
	return out, nil
}
