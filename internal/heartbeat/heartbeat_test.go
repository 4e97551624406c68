// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package heartbeat

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	mu    sync.Mutex
	calls []string
	last  any
	seq   uint64
}

func (b *fakeBus) Broadcast(method string, params any) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, method)
	b.last = params
	return b.seq
}

func (b *fakeBus) Seq() uint64 { return b.seq }

type fakeStats struct{}

func (fakeStats) Stats() Stats { return Stats{Streaming: true, ActiveSubagents: 2, ConnectedClients: 1} }

type fakeAgent struct {
	mu      sync.Mutex
	prompts []string
}

func (a *fakeAgent) SetSilent(bool) {}
func (a *fakeAgent) Prompt(ctx context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prompts = append(a.prompts, text)
	return nil
}

type fakeProvider struct {
	agent     *fakeAgent
	available bool
}

func (p *fakeProvider) MainAgent() (MainAgent, bool) {
	if !p.available {
		return nil, false
	}
	return p.agent, true
}

func TestHasSubstantiveContentIgnoresHeadingsAndSeparators(t *testing.T) {
	assert.False(t, hasSubstantiveContent("# Title\n---\n\n"))
	assert.True(t, hasSubstantiveContent("# Title\nsome real text\n"))
}

func TestLoadStateMissingFileReturnsDisabledDefaults(t *testing.T) {
	st, err := loadState(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.False(t, st.Enabled)
	assert.Equal(t, 60, st.Interval)
}

func TestPingBroadcastsHeartbeatWithStats(t *testing.T) {
	bus := &fakeBus{seq: 7}
	h, err := New(filepath.Join(t.TempDir(), "state.json"), filepath.Join(t.TempDir(), "check.md"), bus, fakeStats{}, nil, nil, func() string { return "/workspace" })
	require.NoError(t, err)

	h.ping()

	require.Len(t, bus.calls, 1)
	assert.Equal(t, "daemon.heartbeat", bus.calls[0])
	p, ok := bus.last.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 2, p["activeSubagents"])
	assert.Equal(t, uint64(7), p["seq"])
}

func TestSetEnabledPersistsStateAndArmsTimer(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	checkFile := filepath.Join(t.TempDir(), "check.md")
	require.NoError(t, os.WriteFile(checkFile, []byte("# heading only\n"), 0o644))

	bus := &fakeBus{}
	h, err := New(statePath, checkFile, bus, fakeStats{}, nil, nil, func() string { return "" })
	require.NoError(t, err)

	h.SetEnabled(context.Background(), true)
	defer h.Stop()

	st, err := loadState(statePath)
	require.NoError(t, err)
	assert.True(t, st.Enabled)
	assert.False(t, st.NextCheck.IsZero())
}

func TestSetEnabledFalsePreservesStateButCancelsTimer(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	checkFile := filepath.Join(t.TempDir(), "check.md")

	bus := &fakeBus{}
	h, err := New(statePath, checkFile, bus, fakeStats{}, nil, nil, func() string { return "" })
	require.NoError(t, err)

	h.SetEnabled(context.Background(), true)
	h.SetInterval(context.Background(), 120)
	h.SetEnabled(context.Background(), false)

	st := h.GetState()
	assert.False(t, st.Enabled)
	assert.Equal(t, 120, st.Interval)
}

func TestSetIntervalClampsToMinimum(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	bus := &fakeBus{}
	h, err := New(statePath, filepath.Join(t.TempDir(), "check.md"), bus, fakeStats{}, nil, nil, func() string { return "" })
	require.NoError(t, err)

	h.SetInterval(context.Background(), 5)

	assert.Equal(t, 60, h.GetState().Interval)
}

func TestRunCheckPromptsMainAgentWhenFileHasSubstantiveContent(t *testing.T) {
	checkFile := filepath.Join(t.TempDir(), "check.md")
	require.NoError(t, os.WriteFile(checkFile, []byte("# Reminders\n\nPing the user about the release.\n"), 0o644))

	agent := &fakeAgent{}
	provider := &fakeProvider{agent: agent, available: true}
	bus := &fakeBus{}
	h, err := New(filepath.Join(t.TempDir(), "state.json"), checkFile, bus, fakeStats{}, provider, nil, func() string { return "" })
	require.NoError(t, err)

	h.runCheck(context.Background())

	require.Len(t, agent.prompts, 1)
	assert.Contains(t, agent.prompts[0], "Ping the user")
}

func TestRunCheckSkipsWhenFileIsOnlyHeadings(t *testing.T) {
	checkFile := filepath.Join(t.TempDir(), "check.md")
	require.NoError(t, os.WriteFile(checkFile, []byte("# Reminders\n---\n"), 0o644))

	agent := &fakeAgent{}
	provider := &fakeProvider{agent: agent, available: true}
	bus := &fakeBus{}
	h, err := New(filepath.Join(t.TempDir(), "state.json"), checkFile, bus, fakeStats{}, provider, nil, func() string { return "" })
	require.NoError(t, err)

	h.runCheck(context.Background())

	assert.Empty(t, agent.prompts)
}

func TestPingBroadcastsOnEveryCall(t *testing.T) {
	bus := &fakeBus{}
	h, err := New(filepath.Join(t.TempDir(), "state.json"), filepath.Join(t.TempDir(), "check.md"), bus, fakeStats{}, nil, nil, func() string { return "" })
	require.NoError(t, err)

	h.ping()
	h.ping()

	bus.mu.Lock()
	n := len(bus.calls)
	bus.mu.Unlock()
	assert.Equal(t, 2, n)
}
