// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package messagebus implements the daemon's in-process agent bus
// (component L5): point-to-point and broadcast delivery between
// agent sessions, including the synthetic "main" sender/recipient.
package messagebus

import (
	"sync"
	"time"
)

// Broadcast is the wildcard recipient id. Delivery to it reaches every
// subscriber except the sender.
const Broadcast = "*"

// Message is one bus delivery.
type Message struct {
	FromID   string
	FromName string
	ToID     string
	ToName   string
	Content  string
	At       time.Time
}

// Handler receives messages addressed to one agent id.
type Handler func(Message)

// Bus delivers messages between agent ids. One handler may be
// registered per agent id; delivery is synchronous from the sender's
// perspective. History is append-only in memory and exists purely for
// debugging — it is purged on Reset.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	history  []Message
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[string]Handler)}
}

// Subscribe registers handler under agentID, replacing any prior
// registration.
func (b *Bus) Subscribe(agentID string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[agentID] = handler
}

// Unsubscribe removes agentID's handler.
func (b *Bus) Unsubscribe(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, agentID)
}

// Publish delivers a message from fromID to toID (or to every other
// subscriber if toID is Broadcast). Delivery order is preserved per
// (sender, recipient) pair because a single goroutine drives each
// Publish call to completion before returning.
func (b *Bus) Publish(msg Message) {
	if msg.At.IsZero() {
		msg.At = time.Now()
	}

	b.mu.Lock()
	b.history = append(b.history, msg)
	var targets []Handler
	if msg.ToID == Broadcast {
		for id, h := range b.handlers {
			if id == msg.FromID {
				continue
			}
			targets = append(targets, h)
		}
	} else if h, ok := b.handlers[msg.ToID]; ok {
		targets = append(targets, h)
	}
	b.mu.Unlock()

	for _, h := range targets {
		h(msg)
	}
}

// History returns a snapshot of every message published since
// construction or the last Reset.
func (b *Bus) History() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, len(b.history))
	copy(out, b.history)
	return out
}

// Reset clears the in-memory history (debugging aid, not a protocol
// requirement). Subscriptions are left intact.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
}
