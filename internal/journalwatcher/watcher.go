// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package journalwatcher implements the JournalWatcher (component L10):
// a debounced watch of a directory of markdown journal files that
// diffs each changed file's paragraphs against a cached snapshot and
// silently prompts the main agent to turn freshly written paragraphs
// into memories.
package journalwatcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tau-assistant/tau-daemon/pkg/logging"
)

const debounceWindow = 1500 * time.Millisecond

// memoryRubric is the fixed instruction sent with every batch of new
// journal paragraphs.
const memoryRubric = `New journal content was written. For each paragraph below that states a durable fact, preference, decision, or pointer worth recalling later, call create_memory with a concise title, the supporting content, and tags. Skip paragraphs that are purely transient narration.

`

// MainAgent is the narrow surface JournalWatcher needs from the main
// agent session: silence it for the duration of the rubric prompt,
// then prompt it.
type MainAgent interface {
	SetSilent(bool)
	Prompt(ctx context.Context, text string) error
}

// MainAgentProvider resolves the current main agent, if the host has
// finished setup. A false second return means no prompt is issued.
type MainAgentProvider interface {
	MainAgent() (MainAgent, bool)
}

// Watcher is the JournalWatcher.
type Watcher struct {
	dir      string
	provider MainAgentProvider
	log      *logging.Logger

	mu         sync.Mutex
	snapshots  map[string][]string // filename -> paragraphs, trimmed
	processing map[string]bool

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// New builds a Watcher over dir, seeding each existing .md file's
// paragraph snapshot from its current contents so pre-existing text
// is never treated as "new" on startup.
func New(dir string, provider MainAgentProvider, log *logging.Logger) (*Watcher, error) {
	w := &Watcher{
		dir:        dir,
		provider:   provider,
		log:        log,
		snapshots:  make(map[string][]string),
		processing: make(map[string]bool),
		done:       make(chan struct{}),
	}

	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err == nil {
				w.snapshots[e.Name()] = paragraphs(string(data))
			}
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating journal watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching journal dir: %w", err)
	}
	w.watcher = fw

	return w, nil
}

// Start runs the debounce loop until ctx is canceled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Stop tears down the underlying fsnotify watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *Watcher) loop(ctx context.Context) {
	timers := make(map[string]*time.Timer)
	fire := make(chan string, 16)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".md") {
				continue
			}
			name := filepath.Base(ev.Name)
			if t, exists := timers[name]; exists {
				t.Reset(debounceWindow)
				continue
			}
			timers[name] = time.AfterFunc(debounceWindow, func() {
				select {
				case fire <- name:
				case <-w.done:
				}
			})
		case name := <-fire:
			delete(timers, name)
			w.handleChange(ctx, name)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// handleChange diffs one journal file against its cached snapshot and
// prompts the main agent with any new paragraphs. Re-entrant fires for
// the same filename while a prompt is in flight are dropped.
func (w *Watcher) handleChange(ctx context.Context, name string) {
	w.mu.Lock()
	if w.processing[name] {
		w.mu.Unlock()
		return
	}
	w.processing[name] = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.processing[name] = false
		w.mu.Unlock()
	}()

	data, err := os.ReadFile(filepath.Join(w.dir, name))
	if err != nil {
		return // removed/renamed mid-debounce; next event will settle it
	}

	current := paragraphs(string(data))

	w.mu.Lock()
	old := w.snapshots[name]
	w.snapshots[name] = current
	w.mu.Unlock()

	seen := make(map[string]bool, len(old))
	for _, p := range old {
		seen[p] = true
	}

	var fresh []string
	for _, p := range current {
		if seen[p] || isHeadingOnly(p) {
			continue
		}
		fresh = append(fresh, p)
	}
	if len(fresh) == 0 {
		return
	}

	if w.provider == nil {
		return
	}
	agent, ok := w.provider.MainAgent()
	if !ok {
		return
	}

	agent.SetSilent(true)
	defer agent.SetSilent(false)

	prompt := memoryRubric + strings.Join(fresh, "\n\n")
	if err := agent.Prompt(ctx, prompt); err != nil && w.log != nil {
		w.log.Warn("journal rubric prompt failed", "file", name, "error", err)
	}
}

// paragraphs splits content into trimmed paragraphs: runs of non-blank
// lines separated by runs of blank lines.
func paragraphs(content string) []string {
	lines := strings.Split(content, "\n")
	var out []string
	var cur []string

	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.TrimSpace(strings.Join(cur, "\n")))
			cur = nil
		}
	}

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return out
}

// isHeadingOnly reports whether p is a single line consisting of a
// markdown heading (e.g. "## Notes"), which shouldn't alone trigger a
// memory prompt.
func isHeadingOnly(p string) bool {
	if strings.Contains(p, "\n") {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(p), "#")
}
