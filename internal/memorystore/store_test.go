// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memorystore

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestCreateThenGetRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, "fact", "favorite editor", "the user prefers vim", []string{"preference"})
	require.NoError(t, err)

	rec, ok, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "favorite editor", rec.Title)
	assert.Equal(t, "the user prefers vim", rec.Content)
	assert.Equal(t, []string{"preference"}, rec.Tags)
}

func TestGetMissingIDReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteRemovesRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.Create(ctx, "fact", "t", "c", nil)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, id))

	_, ok, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListFiltersByTypeAndOrdersNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "fact", "first", "a", nil)
	require.NoError(t, err)
	_, err = s.Create(ctx, "preference", "pref", "b", nil)
	require.NoError(t, err)
	_, err = s.Create(ctx, "fact", "second", "c", nil)
	require.NoError(t, err)

	facts, err := s.List(ctx, "fact")
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "second", facts[0].Title)
	assert.Equal(t, "first", facts[1].Title)
}

func TestListWithEmptyTypeReturnsEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, "fact", "a", "a", nil)
	require.NoError(t, err)
	_, err = s.Create(ctx, "preference", "b", "b", nil)
	require.NoError(t, err)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSearchMatchesTitleOrContentCaseInsensitively(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, "fact", "Favorite Language", "they enjoy writing Go", nil)
	require.NoError(t, err)
	_, err = s.Create(ctx, "fact", "unrelated", "something else entirely", nil)
	require.NoError(t, err)

	results, err := s.Search(ctx, "", "go")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Favorite Language", results[0].Title)
}

func TestCreateMemorySatisfiesExtensionMemoryCreatorContract(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateMemory("note", "from extension", "body text", []string{"ext"}))

	all, err := s.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "from extension", all[0].Title)
}

func TestWithTxnRejectsAlreadyCancelledContext(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = db.WithTxn(ctx, func(txn *badger.Txn) error { return nil })
	assert.Error(t, err)
}
