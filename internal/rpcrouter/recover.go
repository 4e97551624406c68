// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rpcrouter

import (
	"sync"

	"github.com/tau-assistant/tau-daemon/internal/bus"
)

// bufferedEvent is one notification replayed by daemon.recover.
type bufferedEvent struct {
	Seq    uint64 `json:"seq"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// recoverBuffer registers itself on the bus as an ordinary client and
// keeps the last `size` broadcasts so a client that reconnects after a
// drop can replay what it missed instead of always being told to
// fully re-sync. It implements bus.Client purely as a tap: it never
// has a real socket on the other end.
type recoverBuffer struct {
	mu      sync.Mutex
	size    int
	entries []bufferedEvent
}

func newRecoverBuffer(size int) *recoverBuffer {
	if size <= 0 {
		size = 256
	}
	return &recoverBuffer{size: size}
}

// Notify implements bus.Client.
func (r *recoverBuffer) Notify(method string, params any) {
	var seq uint64
	if env, ok := params.(bus.Envelope); ok {
		if raw, ok := env["_seq"]; ok {
			switch v := raw.(type) {
			case uint64:
				seq = v
			case int:
				seq = uint64(v)
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, bufferedEvent{Seq: seq, Method: method, Params: params})
	if len(r.entries) > r.size {
		r.entries = r.entries[len(r.entries)-r.size:]
	}
}

// Since returns every buffered event with seq strictly greater than
// lastSeq, in original order. lastSeq of 0 returns everything buffered.
func (r *recoverBuffer) Since(lastSeq uint64) []bufferedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bufferedEvent, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Seq > lastSeq {
			out = append(out, e)
		}
	}
	return out
}
