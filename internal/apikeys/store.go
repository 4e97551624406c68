// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package apikeys backs the apiKeys.* RPCs with memguard-locked memory
// so provider credentials are never paged to disk and are explicitly
// wiped on delete or process shutdown.
package apikeys

import (
	"fmt"
	"sort"
	"sync"

	"github.com/awnumar/memguard"
)

var initOnce sync.Once

func ensureInit() {
	initOnce.Do(func() {
		memguard.CatchInterrupt()
	})
}

// Store holds provider -> API key in locked memory, keyed by provider
// name (e.g. "openai", "anthropic").
type Store struct {
	mu   sync.RWMutex
	keys map[string]*memguard.LockedBuffer
}

// New builds an empty Store.
func New() *Store {
	ensureInit()
	return &Store{keys: make(map[string]*memguard.LockedBuffer)}
}

// Set stores key for provider, destroying and replacing any previous
// value for that provider.
func (s *Store) Set(provider, key string) error {
	if provider == "" {
		return fmt.Errorf("provider name must not be empty")
	}
	buf := memguard.NewBufferFromBytes([]byte(key))
	if buf == nil || buf.Size() != len(key) {
		return fmt.Errorf("failed to lock memory for provider %s", provider)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.keys[provider]; ok {
		old.Destroy()
	}
	s.keys[provider] = buf
	return nil
}

// Get returns the stored key for provider, and whether one exists.
// The returned string is a copy; the caller is responsible for not
// persisting it further than necessary.
func (s *Store) Get(provider string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf, ok := s.keys[provider]
	if !ok || buf.IsDestroyed() {
		return "", false
	}
	return string(buf.Bytes()), true
}

// Delete wipes and removes the key for provider. Deleting a provider
// with no stored key is a no-op.
func (s *Store) Delete(provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if buf, ok := s.keys[provider]; ok {
		buf.Destroy()
		delete(s.keys, provider)
	}
}

// List returns the configured provider names (never the key values),
// sorted for deterministic RPC responses.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.keys))
	for p := range s.keys {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Has reports whether provider has a configured key, without
// exposing its value.
func (s *Store) Has(provider string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf, ok := s.keys[provider]
	return ok && !buf.IsDestroyed()
}

// DestroyAll wipes every stored key. Call during graceful shutdown.
func (s *Store) DestroyAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, buf := range s.keys {
		buf.Destroy()
	}
	s.keys = make(map[string]*memguard.LockedBuffer)
}
