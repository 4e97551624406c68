// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package journalwatcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMainAgent struct {
	mu      sync.Mutex
	prompts []string
	silent  []bool
}

func (a *fakeMainAgent) SetSilent(s bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.silent = append(a.silent, s)
}

func (a *fakeMainAgent) Prompt(ctx context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prompts = append(a.prompts, text)
	return nil
}

type fakeProvider struct {
	agent     *fakeMainAgent
	available bool
}

func (p *fakeProvider) MainAgent() (MainAgent, bool) {
	if !p.available {
		return nil, false
	}
	return p.agent, true
}

func TestParagraphsSplitsOnBlankLineRuns(t *testing.T) {
	content := "First paragraph\nstill first.\n\n\nSecond paragraph.\n\n## Heading\n"
	got := paragraphs(content)
	require.Len(t, got, 3)
	assert.Equal(t, "First paragraph\nstill first.", got[0])
	assert.Equal(t, "Second paragraph.", got[1])
	assert.Equal(t, "## Heading", got[2])
}

func TestIsHeadingOnlyExcludesSingleLineHeadings(t *testing.T) {
	assert.True(t, isHeadingOnly("## Notes"))
	assert.False(t, isHeadingOnly("## Notes\nmore text"))
	assert.False(t, isHeadingOnly("plain paragraph"))
}

func TestHandleChangePromptsOnlyWithFreshNonHeadingParagraphs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2026-07-30.md")
	require.NoError(t, os.WriteFile(path, []byte("# Journal\n\nAlready here.\n"), 0o644))

	agent := &fakeMainAgent{}
	provider := &fakeProvider{agent: agent, available: true}
	w, err := New(dir, provider, nil)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("# Journal\n\nAlready here.\n\nBrand new insight about the user.\n\n## Subheading\n"), 0o644))

	w.handleChange(context.Background(), "2026-07-30.md")

	require.Len(t, agent.prompts, 1)
	assert.Contains(t, agent.prompts[0], "Brand new insight about the user.")
	assert.NotContains(t, agent.prompts[0], "Already here.")
	assert.NotContains(t, agent.prompts[0], "## Subheading")
	assert.Equal(t, []bool{true, false}, agent.silent)
}

func TestHandleChangeSkipsWhenNoNewParagraphs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("same content\n"), 0o644))

	agent := &fakeMainAgent{}
	provider := &fakeProvider{agent: agent, available: true}
	w, err := New(dir, provider, nil)
	require.NoError(t, err)
	defer w.Stop()

	w.handleChange(context.Background(), "notes.md")

	assert.Empty(t, agent.prompts)
}

func TestHandleChangeSkipsWhenMainAgentUnavailable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("first.\n"), 0o644))

	agent := &fakeMainAgent{}
	provider := &fakeProvider{agent: agent, available: false}
	w, err := New(dir, provider, nil)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("first.\n\nsecond.\n"), 0o644))
	w.handleChange(context.Background(), "notes.md")

	assert.Empty(t, agent.prompts)
}

func TestNewSeedsSnapshotSoExistingContentIsNotTreatedAsNew(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seeded.md")
	require.NoError(t, os.WriteFile(path, []byte("pre-existing paragraph.\n"), 0o644))

	agent := &fakeMainAgent{}
	provider := &fakeProvider{agent: agent, available: true}
	w, err := New(dir, provider, nil)
	require.NoError(t, err)
	defer w.Stop()

	w.handleChange(context.Background(), "seeded.md")

	assert.Empty(t, agent.prompts)
}

func TestHandleChangeReentrancyGuardDropsConcurrentFire(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "busy.md")
	require.NoError(t, os.WriteFile(path, []byte("initial.\n"), 0o644))

	agent := &fakeMainAgent{}
	provider := &fakeProvider{agent: agent, available: true}
	w, err := New(dir, provider, nil)
	require.NoError(t, err)
	defer w.Stop()

	w.mu.Lock()
	w.processing["busy.md"] = true
	w.mu.Unlock()

	require.NoError(t, os.WriteFile(path, []byte("initial.\n\nnew text.\n"), 0o644))
	w.handleChange(context.Background(), "busy.md")

	assert.Empty(t, agent.prompts)
}
