// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bus implements the daemon's notification bus (component
// L3): a process-wide monotonic sequence counter plus broadcast to every
// connected client.
package bus

import (
	"encoding/json"
	"reflect"
	"sync"
	"sync/atomic"
)

// Client receives broadcast notifications. rpctransport.Conn satisfies
// this; tests can supply a recording fake.
type Client interface {
	// Notify delivers method/params to the client. Implementations
	// should not block the bus for long — queue internally if needed.
	Notify(method string, params any)
}

// Envelope is the shape actually sent over the wire for a broadcast.
// Object params are merged with _seq; array params are wrapped under
// "data"; anything else is wrapped under "value". Nil params produce an
// envelope holding only _seq, and structs or pointers are merged via a
// JSON round trip.
type Envelope map[string]any

// Bus fans out notifications to every registered client and stamps
// each one with a strictly increasing sequence number.
type Bus struct {
	mu      sync.RWMutex
	clients map[string]Client
	seq     uint64
}

// New creates an empty Bus. The sequence counter starts at 0 and the
// first broadcast carries seq 1, matching "increments on every
// broadcast".
func New() *Bus {
	return &Bus{clients: make(map[string]Client)}
}

// Register adds a client under id, replacing any previous registration
// with the same id.
func (b *Bus) Register(id string, c Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[id] = c
}

// Unregister removes a client. Safe to call for an id that was never
// registered or already removed.
func (b *Bus) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, id)
}

// Seq returns the current sequence counter without incrementing it,
// so the liveness ping (L11) can report the value clients should
// expect.
func (b *Bus) Seq() uint64 {
	return atomic.LoadUint64(&b.seq)
}

// Broadcast wraps params and delivers method/envelope to
// every registered client, returning the seq assigned to this
// broadcast.
func (b *Bus) Broadcast(method string, params any) uint64 {
	seq := atomic.AddUint64(&b.seq, 1)
	envelope := wrap(params, seq)

	b.mu.RLock()
	targets := make([]Client, 0, len(b.clients))
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	for _, c := range targets {
		c.Notify(method, envelope)
	}
	return seq
}

func wrap(params any, seq uint64) Envelope {
	switch v := params.(type) {
	case nil:
		return Envelope{"_seq": seq}
	case map[string]any:
		out := make(Envelope, len(v)+1)
		for k, val := range v {
			out[k] = val
		}
		out["_seq"] = seq
		return out
	}

	rv := reflect.ValueOf(params)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return Envelope{"data": params, "_seq": seq}
	case reflect.Struct, reflect.Ptr:
		if m, ok := structToMap(params); ok {
			m["_seq"] = seq
			return m
		}
	}
	return Envelope{"value": params, "_seq": seq}
}

// structToMap round-trips a struct through JSON so its exported,
// tagged fields land in the envelope the same way an object
// case describes. Marshal failures fall back to the scalar case.
func structToMap(v any) (Envelope, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false
	}
	return Envelope(m), true
}

// Count returns the number of currently registered clients.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
