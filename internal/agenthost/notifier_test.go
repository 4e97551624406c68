// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agenthost

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tau-assistant/tau-daemon/internal/tasks"
)

func writeTasksFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestTaskNotifierMarkDoneUpdatesStatusAndResult(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.md")
	writeTasksFile(t, path, "## In Progress\n- [ ] fix the bug <!-- id:abc-123 -->\n")

	store := tasks.NewStore(path)
	bus := &fakeBus{}
	n := &taskNotifier{store: store, bus: bus}

	n.MarkDone("abc-123", "fixed in commit xyz")

	list, err := store.Load()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, tasks.StatusDone, list[0].Status)
	assert.Equal(t, "fixed in commit xyz", list[0].Result)
	assert.True(t, bus.has("daemon.tasks.changed"))
}

func TestTaskNotifierMarkDoneIgnoresUnknownID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.md")
	writeTasksFile(t, path, "## In Progress\n- [ ] fix the bug <!-- id:abc-123 -->\n")

	store := tasks.NewStore(path)
	bus := &fakeBus{}
	n := &taskNotifier{store: store, bus: bus}

	n.MarkDone("does-not-exist", "result")

	assert.False(t, bus.has("daemon.tasks.changed"))
}
