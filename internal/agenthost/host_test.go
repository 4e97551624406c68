// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agenthost

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tau-assistant/tau-daemon/internal/apikeys"
	"github.com/tau-assistant/tau-daemon/internal/config"
	"github.com/tau-assistant/tau-daemon/internal/messagebus"
)

type fakeBus struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeBus) Broadcast(method string, params any) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	return uint64(len(f.calls))
}

func (f *fakeBus) has(method string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == method {
			return true
		}
	}
	return false
}

func setupGitRepo(t *testing.T, dir string) {
	t.Helper()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run())
	}
	run("init")
	run("config", "user.email", "test@test.com")
	run("config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# x\n"), 0o644))
	run("add", "README.md")
	run("commit", "-m", "initial")
}

func newTestHost(t *testing.T) (*AgentHost, *fakeBus) {
	t.Helper()
	bus := &fakeBus{}
	h := New(Config{
		Daemon:     config.Defaults(),
		APIKeys:    apikeys.New(),
		Bus:        bus,
		MessageBus: messagebus.New(),
	})
	return h, bus
}

func TestSetupAgentClosesReadyAndWiresComponents(t *testing.T) {
	dir := t.TempDir()
	setupGitRepo(t, dir)

	h, _ := newTestHost(t)
	t.Cleanup(h.Close)

	err := h.SetupAgent(context.Background(), dir, filepath.Join(dir, "tasks.md"))
	require.NoError(t, err)

	select {
	case <-h.Ready():
	default:
		t.Fatal("Ready() did not close after SetupAgent")
	}
	assert.NoError(t, h.ReadyErr())

	_, ok := h.MainSession()
	assert.True(t, ok)
	_, ok = h.GitView()
	assert.True(t, ok)
	_, ok = h.Coordinator()
	assert.True(t, ok)
	_, ok = h.Manager()
	assert.True(t, ok)
	_, ok = h.LockTable()
	assert.True(t, ok)
	_, ok = h.TasksStore()
	assert.True(t, ok)
	assert.Equal(t, dir, h.WorkDir())
}

func TestSetupAgentRejectsNonGitDirectory(t *testing.T) {
	dir := t.TempDir()
	h, _ := newTestHost(t)
	t.Cleanup(h.Close)

	err := h.SetupAgent(context.Background(), dir, filepath.Join(dir, "tasks.md"))
	assert.Error(t, err)

	select {
	case <-h.Ready():
	default:
		t.Fatal("Ready() should close even when setup fails")
	}
	assert.Error(t, h.ReadyErr())
}

func TestSetupAgentIsIdempotentAcrossDirectorySwitch(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	setupGitRepo(t, dirA)
	setupGitRepo(t, dirB)

	h, _ := newTestHost(t)
	t.Cleanup(h.Close)

	require.NoError(t, h.SetupAgent(context.Background(), dirA, filepath.Join(dirA, "tasks.md")))
	firstMgr, _ := h.Manager()
	firstTable, _ := h.LockTable()

	require.NoError(t, h.SetupAgent(context.Background(), dirB, filepath.Join(dirB, "tasks.md")))
	secondMgr, _ := h.Manager()
	secondTable, _ := h.LockTable()

	assert.Equal(t, dirB, h.WorkDir())
	assert.NotSame(t, firstMgr, secondMgr)
	assert.NotSame(t, firstTable, secondTable)
}

func TestExistsReflectsManagerPresence(t *testing.T) {
	dir := t.TempDir()
	setupGitRepo(t, dir)
	h, _ := newTestHost(t)
	t.Cleanup(h.Close)

	require.NoError(t, h.SetupAgent(context.Background(), dir, filepath.Join(dir, "tasks.md")))
	assert.False(t, h.Exists("nonexistent-agent-id"))
}

func TestStatsReportsZeroSubagentsInFreshHost(t *testing.T) {
	dir := t.TempDir()
	setupGitRepo(t, dir)
	h, _ := newTestHost(t)
	t.Cleanup(h.Close)

	require.NoError(t, h.SetupAgent(context.Background(), dir, filepath.Join(dir, "tasks.md")))
	streaming, active := h.Stats()
	assert.False(t, streaming)
	assert.Equal(t, 0, active)
}

func TestHeartbeatAndJournalProvidersExposeMainSession(t *testing.T) {
	dir := t.TempDir()
	setupGitRepo(t, dir)
	h, _ := newTestHost(t)
	t.Cleanup(h.Close)

	require.NoError(t, h.SetupAgent(context.Background(), dir, filepath.Join(dir, "tasks.md")))

	hp := HeartbeatProvider{Host: h}
	_, ok := hp.MainAgent()
	assert.True(t, ok)

	jp := JournalProvider{Host: h}
	_, ok = jp.MainAgent()
	assert.True(t, ok)
}

func TestHeartbeatProviderReportsAbsentBeforeSetup(t *testing.T) {
	h, _ := newTestHost(t)
	t.Cleanup(h.Close)

	hp := HeartbeatProvider{Host: h}
	_, ok := hp.MainAgent()
	assert.False(t, ok)
}

func TestGitChangeBroadcastsThroughOwnedView(t *testing.T) {
	dir := t.TempDir()
	setupGitRepo(t, dir)
	h, bus := newTestHost(t)
	t.Cleanup(h.Close)

	require.NoError(t, h.SetupAgent(context.Background(), dir, filepath.Join(dir, "tasks.md")))

	cmd := exec.Command("git", "checkout", "-b", "feature")
	cmd.Dir = dir
	require.NoError(t, cmd.Run())

	require.Eventually(t, func() bool {
		return bus.has("daemon.git.changed")
	}, 2*time.Second, 20*time.Millisecond)
}
