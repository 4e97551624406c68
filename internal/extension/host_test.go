// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extension

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tau-assistant/tau-daemon/internal/config"
)

// echoWorkerScript is a tiny shell "extension": it registers one tool,
// "echo", and replies to any tool_call for it by echoing params.text
// back as the result. It speaks the envelope's JSON-lines ABI via a
// minimal hand-rolled reader since the test environment has no real JS
// runtime; /bin/sh stands in for "some sandboxed worker runtime".
const echoWorkerScript = `#!/bin/sh
read init_line
echo '{"type":"register","tools":[{"name":"echo","description":"echoes text"}],"events":["ping"]}'
while read line; do
  id=$(echo "$line" | sed -n 's/.*"id":"\([^"]*\)".*/\1/p')
  type=$(echo "$line" | sed -n 's/.*"type":"\([^"]*\)".*/\1/p')
  if [ "$type" = "tool_call" ]; then
    text=$(echo "$line" | sed -n 's/.*"text":"\([^"]*\)".*/\1/p')
    echo '{"type":"tool_result","id":"'"$id"'","result":"echo:'"$text"'"}'
  elif [ "$type" = "shutdown" ]; then
    exit 0
  fi
done
`

func writeEchoWorker(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "echoer.js")
	require.NoError(t, os.WriteFile(path, []byte(echoWorkerScript), 0o755))
	return path
}

type fakeMemory struct {
	calls []string
}

func (m *fakeMemory) CreateMemory(memoryType, title, content string, tags []string) error {
	m.calls = append(m.calls, title)
	return nil
}

func newTestHost(t *testing.T) (*Host, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.ExtensionsConfig{ToolCallTimeout: 2 * time.Second, RegisterTimeout: 2 * time.Second}
	h, err := New(dir, "/bin/sh", cfg, nil, nil, nil)
	require.NoError(t, err)
	t.Cleanup(h.Stop)
	return h, dir
}

func TestLoadAllStartsWorkerAndCapturesRegisteredTools(t *testing.T) {
	h, dir := newTestHost(t)
	writeEchoWorker(t, dir)

	h.LoadAll(context.Background())

	list := h.List()
	require.Len(t, list, 1)
	assert.Equal(t, StatusReady, list[0].Status)
	assert.Equal(t, "echo", list[0].Tools[0].Name)
}

func TestCallToolRoundTripsThroughWorker(t *testing.T) {
	h, dir := newTestHost(t)
	writeEchoWorker(t, dir)
	h.LoadAll(context.Background())

	out, err := h.CallTool(context.Background(), "echoer", "echo", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "echo:hello", out)
}

func TestCallToolUnknownExtensionErrors(t *testing.T) {
	h, _ := newTestHost(t)
	_, err := h.CallTool(context.Background(), "nope", "echo", nil)
	require.Error(t, err)
}

func TestStopMarksWorkerStopped(t *testing.T) {
	h, dir := newTestHost(t)
	writeEchoWorker(t, dir)
	h.LoadAll(context.Background())

	h.mu.Lock()
	w := h.workers["echoer"]
	h.mu.Unlock()
	require.NotNil(t, w)

	w.stop()

	status, _, _ := w.snapshotStatus()
	assert.Equal(t, StatusStopped, status)
}

func TestHandleBashRejectedWhenDisabledByPolicy(t *testing.T) {
	h, dir := newTestHost(t)
	writeEchoWorker(t, dir)
	h.LoadAll(context.Background())

	h.mu.Lock()
	w := h.workers["echoer"]
	h.mu.Unlock()

	rec := &recordingBash{}
	h.bash = rec
	h.cfg.AllowBash = false
	h.handleBash(w, envelope{ID: "1", Command: "echo hi"})
	// The policy check runs before the runner, so no command reaches it.
	assert.Empty(t, rec.calls)
}

type recordingBash struct{ calls []string }

func (b *recordingBash) Run(ctx context.Context, command string, timeout time.Duration) (string, error) {
	b.calls = append(b.calls, command)
	return "", nil
}

func TestCreateMemoryForwardsToMemoryCreator(t *testing.T) {
	dir := t.TempDir()
	mem := &fakeMemory{}
	cfg := config.ExtensionsConfig{ToolCallTimeout: 2 * time.Second, RegisterTimeout: 2 * time.Second}
	h, err := New(dir, "/bin/sh", cfg, mem, nil, nil)
	require.NoError(t, err)
	defer h.Stop()

	h.handleCreateMemory("ext-1", envelope{MemoryType: "note", Title: "observed fact", Content: "body"})

	assert.Equal(t, []string{"observed fact"}, mem.calls)
}

func TestOnExitRejectsPendingCallsWithExitedMessage(t *testing.T) {
	h, _ := newTestHost(t)
	w := newWorker("ext-x", "", "/bin/sh", h, nil)
	ch := make(chan envelope, 1)
	w.pending["call-1"] = &pendingCall{resultCh: ch}

	w.onExit()

	result := <-ch
	assert.Equal(t, "Extension ext-x exited", result.Error)
}

func TestExtensionIDStripsJSExtension(t *testing.T) {
	h, _ := newTestHost(t)
	assert.Equal(t, "foo", h.extensionID("foo.js"))
}
