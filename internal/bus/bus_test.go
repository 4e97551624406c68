// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingClient struct {
	mu    sync.Mutex
	calls []call
}

type call struct {
	method string
	params any
}

func (r *recordingClient) Notify(method string, params any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{method, params})
}

func (r *recordingClient) last() call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func TestBroadcastWrapsObjectParams(t *testing.T) {
	b := New()
	c := &recordingClient{}
	b.Register("c1", c)

	seq := b.Broadcast("daemon.tasks.changed", map[string]any{"tasks": []string{"a"}})
	require.EqualValues(t, 1, seq)

	env := c.last().params.(Envelope)
	assert.Equal(t, uint64(1), env["_seq"])
	assert.Equal(t, []string{"a"}, env["tasks"])
}

func TestBroadcastWrapsArrayParams(t *testing.T) {
	b := New()
	c := &recordingClient{}
	b.Register("c1", c)

	b.Broadcast("daemon.subagent.event", []any{"x", "y"})

	env := c.last().params.(Envelope)
	assert.Equal(t, []any{"x", "y"}, env["data"])
	assert.Contains(t, env, "_seq")
}

func TestBroadcastWrapsScalarParams(t *testing.T) {
	b := New()
	c := &recordingClient{}
	b.Register("c1", c)

	b.Broadcast("daemon.git.changed", 42)

	env := c.last().params.(Envelope)
	assert.EqualValues(t, 42, env["value"])
}

func TestSeqIsStrictlyIncreasing(t *testing.T) {
	b := New()
	c := &recordingClient{}
	b.Register("c1", c)

	var last uint64
	for i := 0; i < 100; i++ {
		seq := b.Broadcast("x", nil)
		assert.Greater(t, seq, last)
		last = seq
	}
	assert.EqualValues(t, 100, b.Seq())
}

func TestUnregisterStopsDelivery(t *testing.T) {
	b := New()
	c := &recordingClient{}
	b.Register("c1", c)
	b.Unregister("c1")

	b.Broadcast("x", nil)
	assert.Empty(t, c.calls)
}

func TestBroadcastFansOutToAllClients(t *testing.T) {
	b := New()
	c1 := &recordingClient{}
	c2 := &recordingClient{}
	b.Register("c1", c1)
	b.Register("c2", c2)

	b.Broadcast("x", nil)

	assert.Len(t, c1.calls, 1)
	assert.Len(t, c2.calls, 1)
	assert.Equal(t, 2, b.Count())
}
