// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package apikeys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetThenGetRoundTrips(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("openai", "sk-test-123"))

	key, ok := s.Get("openai")
	require.True(t, ok)
	assert.Equal(t, "sk-test-123", key)
}

func TestGetMissingProviderReturnsFalse(t *testing.T) {
	s := New()
	_, ok := s.Get("anthropic")
	assert.False(t, ok)
}

func TestSetReplacesAndDestroysPreviousValue(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("openai", "old-key"))
	require.NoError(t, s.Set("openai", "new-key"))

	key, ok := s.Get("openai")
	require.True(t, ok)
	assert.Equal(t, "new-key", key)
}

func TestDeleteRemovesKey(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("openai", "sk-test"))
	s.Delete("openai")

	_, ok := s.Get("openai")
	assert.False(t, ok)
	assert.False(t, s.Has("openai"))
}

func TestListReturnsSortedProviderNames(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("openai", "a"))
	require.NoError(t, s.Set("anthropic", "b"))

	assert.Equal(t, []string{"anthropic", "openai"}, s.List())
}

func TestSetRejectsEmptyProviderName(t *testing.T) {
	s := New()
	err := s.Set("", "sk-test")
	assert.Error(t, err)
}

func TestDestroyAllWipesEveryKey(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("openai", "a"))
	require.NoError(t, s.Set("anthropic", "b"))

	s.DestroyAll()

	assert.Empty(t, s.List())
}
