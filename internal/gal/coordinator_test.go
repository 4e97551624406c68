// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tau-assistant/tau-daemon/internal/locktable"
	"github.com/tau-assistant/tau-daemon/internal/messagebus"
	"github.com/tau-assistant/tau-daemon/internal/subagent"
)

// fakeSpawner records every config it was asked to spawn and hands
// back a deterministic, incrementing id so tests can address the
// resulting worker's tools directly.
type fakeSpawner struct {
	mu      sync.Mutex
	next    int
	configs []subagent.Config
	fail    bool
}

func (s *fakeSpawner) Spawn(ctx context.Context, configs []subagent.Config, depth int) ([]subagent.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, assert.AnError
	}
	out := make([]subagent.Status, 0, len(configs))
	for _, cfg := range configs {
		s.next++
		s.configs = append(s.configs, cfg)
		out = append(out, subagent.Status{ID: assertID(s.next), Name: cfg.Name})
	}
	return out, nil
}

func assertID(n int) string {
	return "worker-" + string(rune('0'+n))
}

func newTestCoordinator() (*Coordinator, *fakeSpawner, *locktable.Table, *messagebus.Bus) {
	spawner := &fakeSpawner{}
	table := locktable.New(5 * time.Second)
	bus := messagebus.New()
	c := New(spawner, table, bus, nil)
	return c, spawner, table, bus
}

func TestSubmitTasksRegistersWorkersAndInjectsLockTools(t *testing.T) {
	c, spawner, _, _ := newTestCoordinator()

	statuses, err := c.SubmitTasks(context.Background(), []Task{
		{ID: "t1", Name: "Worker1", Text: "edit file a"},
		{ID: "t2", Name: "Worker2", Text: "edit file b"},
	}, "system prompt", "gpt-4.1")
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	workers := c.GetWorkers()
	assert.Len(t, workers, 2)

	require.Len(t, spawner.configs, 2)
	require.NotNil(t, spawner.configs[0].ExtraToolsByID)
	tools := spawner.configs[0].ExtraToolsByID("worker-1")
	names := make([]string, 0, len(tools))
	for _, tl := range tools {
		names = append(names, tl.Name)
	}
	assert.ElementsMatch(t, []string{"claim_file_lock", "release_file_lock", "check_file_available"}, names)
	assert.Contains(t, spawner.configs[0].Task, "file-lock coordination")
}

func TestClaimAndReleaseToolsRoundTripThroughLockTable(t *testing.T) {
	c, _, table, _ := newTestCoordinator()
	c.workers["worker-1"] = &WorkerInfo{ID: "worker-1", Name: "Worker1"}

	tools := c.lockTools("worker-1")
	var claim, release subagent.ToolSpec
	for _, tl := range tools {
		switch tl.Name {
		case "claim_file_lock":
			claim = tl
		case "release_file_lock":
			release = tl
		}
	}

	out, err := claim.Execute(context.Background(), `{"path":"/a.txt","purpose":"edit"}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"Granted":true`)

	chk := table.Check("/a.txt")
	assert.False(t, chk.Available)
	assert.Equal(t, "worker-1", chk.HolderID)

	c.mu.Lock()
	held := append([]string{}, c.workers["worker-1"].LocksHeld...)
	c.mu.Unlock()
	assert.Equal(t, []string{"/a.txt"}, held)

	_, err = release.Execute(context.Background(), `{"path":"/a.txt"}`)
	require.NoError(t, err)
	assert.True(t, table.Check("/a.txt").Available)
}

func TestOnWorkerCompleteReleasesLocksAndDeregisters(t *testing.T) {
	c, _, table, _ := newTestCoordinator()
	c.workers["worker-1"] = &WorkerInfo{ID: "worker-1", Name: "Worker1"}
	require.True(t, table.Claim("worker-1", "Worker1", "/a.txt", "", 0).Granted)

	c.OnWorkerComplete("worker-1")

	assert.True(t, table.Check("/a.txt").Available)
	assert.Empty(t, c.GetWorkers())
}

func TestTimeoutEventMessagesDispossessedWorkerOverBus(t *testing.T) {
	c, _, table, bus := newTestCoordinator()

	var received messagebus.Message
	bus.Subscribe("a1", func(m messagebus.Message) { received = m })

	table.OnEvent(c.onLockEvent) // already wired by New, re-assert explicitly for clarity
	require.True(t, table.Claim("a1", "Agent1", "/f", "", 20*time.Millisecond).Granted)

	require.Eventually(t, func() bool {
		return received.Content != ""
	}, time.Second, 5*time.Millisecond)

	assert.Contains(t, received.Content, "timed out")
	assert.Equal(t, "GAL", received.FromID)
}

func TestDeadlockEventRevokesLastAgentsLockAndWarnsIt(t *testing.T) {
	c, _, table, bus := newTestCoordinator()

	// The cycle closes as a1 (trace below); GAL revokes whichever path
	// the closing claim contended on (held by the last agent in the
	// cycle) and warns that agent.
	var warned messagebus.Message
	bus.Subscribe("a1", func(m messagebus.Message) { warned = m })

	require.True(t, table.Claim("a1", "Agent1", "/f1", "", 5*time.Second).Granted)
	require.True(t, table.Claim("a2", "Agent2", "/f2", "", 5*time.Second).Granted)
	require.False(t, table.Claim("a1", "Agent1", "/f2", "", 5*time.Second).Granted)
	require.False(t, table.Claim("a2", "Agent2", "/f1", "", 5*time.Second).Granted)

	require.Eventually(t, func() bool {
		return warned.Content != ""
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, warned.Content, "deadlock")

	status := c.GetStatus()
	assert.GreaterOrEqual(t, status.ContentionCount, 2)
}

func TestGetStatusReflectsGalSessionPresence(t *testing.T) {
	c, _, _, _ := newTestCoordinator()
	assert.False(t, c.GetStatus().GalSessionActive)
}
