// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package taskwatcher implements the TaskWatcher (component L9): a
// debounced watch of the workspace's tasks.md that spawns subagents for
// newly submitted todo entries and keeps the file's subagentId/status
// fields in sync with reality.
package taskwatcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tau-assistant/tau-daemon/internal/gal"
	"github.com/tau-assistant/tau-daemon/internal/subagent"
	"github.com/tau-assistant/tau-daemon/internal/tasks"
	"github.com/tau-assistant/tau-daemon/pkg/logging"
)

const (
	debounceWindow = 500 * time.Millisecond
	directPreamble = "You are a worker. No file-lock coordination is available right now; edit files directly.\n\n"
)

// AgentPresence reports whether a subagent id still exists, so the
// watcher can drop stale subagentId references left behind by agents
// that finished or were purged.
type AgentPresence interface {
	Exists(id string) bool
}

// Submitter is the lock-aware path: the GAL coordinator's submitTasks.
type Submitter interface {
	SubmitTasks(ctx context.Context, tasks []gal.Task, systemPrompt, model string) ([]subagent.Status, error)
}

// DirectSpawner is the fallback path used when Submitter fails.
type DirectSpawner interface {
	Spawn(ctx context.Context, configs []subagent.Config, depth int) ([]subagent.Status, error)
}

// Broadcaster delivers the daemon.tasks.changed notification.
type Broadcaster interface {
	Broadcast(method string, params any) uint64
}

// Watcher is the TaskWatcher.
type Watcher struct {
	path          string
	store         *tasks.Store
	presence      AgentPresence
	submitter     Submitter
	directSpawner DirectSpawner
	bus           Broadcaster
	log           *logging.Logger
	systemPrompt  string
	model         string

	mu              sync.Mutex
	lastKnownStatus map[string]tasks.Status

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// New builds a Watcher bound to path (the tasks.md file). It seeds
// lastKnownStatus from the file's current contents so pre-existing
// todo entries are not re-spawned on the first fire after a daemon
// restart.
func New(path string, store *tasks.Store, presence AgentPresence, submitter Submitter, directSpawner DirectSpawner, bus Broadcaster, log *logging.Logger, systemPrompt, model string) (*Watcher, error) {
	w := &Watcher{
		path:            path,
		store:           store,
		presence:        presence,
		submitter:       submitter,
		directSpawner:   directSpawner,
		bus:             bus,
		log:             log,
		systemPrompt:    systemPrompt,
		model:           model,
		lastKnownStatus: make(map[string]tasks.Status),
		done:            make(chan struct{}),
	}

	existing, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("seeding task watcher: %w", err)
	}
	for _, t := range existing {
		w.lastKnownStatus[t.ID] = t.Status
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating task file watcher: %w", err)
	}
	w.watcher = fw
	if err := w.watchTarget(); err != nil {
		fw.Close()
		return nil, err
	}

	return w, nil
}

// watchTarget adds path to the watcher if it exists, otherwise falls
// back to watching its parent directory so a later create event can
// be noticed and the watch retargeted.
func (w *Watcher) watchTarget() error {
	if err := w.watcher.Add(w.path); err == nil {
		return nil
	}
	return w.watcher.Add(filepath.Dir(w.path))
}

// Start runs the debounce loop until ctx is canceled or Stop is
// called.
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
	var timer *time.Timer
	var timerC <-chan time.Time

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
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				// The file just appeared (previously watching its
				// parent dir); retarget the watch onto the file itself.
				_ = w.watcher.Add(w.path)
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerC = timer.C
			} else {
				timer.Reset(debounceWindow)
			}
		case <-timerC:
			w.reload(ctx)
			timer = nil
			timerC = nil
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// reload implements one fire of the TaskWatcher: reparse, clear stale
// agent references, spawn for newly submitted todo entries, persist,
// and broadcast.
func (w *Watcher) reload(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	list, err := w.store.Load()
	if err != nil {
		if w.log != nil {
			w.log.Warn("task watcher reload failed", "error", err)
		}
		return
	}

	for i := range list {
		if list[i].AgentID != "" && !w.presence.Exists(list[i].AgentID) {
			list[i].AgentID = ""
		}
	}

	var freshIdx []int
	for i, t := range list {
		if t.Status == tasks.StatusTodo && t.AgentID == "" && w.lastKnownStatus[t.ID] != tasks.StatusTodo {
			freshIdx = append(freshIdx, i)
		}
	}

	if len(freshIdx) > 0 {
		w.spawnFresh(ctx, list, freshIdx)
	}

	w.lastKnownStatus = make(map[string]tasks.Status, len(list))
	for _, t := range list {
		w.lastKnownStatus[t.ID] = t.Status
	}

	if err := w.store.Save(list); err != nil {
		if w.log != nil {
			w.log.Warn("task watcher save failed", "error", err)
		}
		return
	}

	if w.bus != nil {
		w.bus.Broadcast("daemon.tasks.changed", map[string]any{"tasks": list})
	}
}

// spawnFresh hands the freshly-submitted tasks (identified by index
// into list) to the lock-aware submitter, falling back to a direct,
// lock-unaware spawn for all of them if that fails.
func (w *Watcher) spawnFresh(ctx context.Context, list []tasks.Task, freshIdx []int) {
	galTasks := make([]gal.Task, 0, len(freshIdx))
	for _, i := range freshIdx {
		galTasks = append(galTasks, gal.Task{ID: list[i].ID, Name: list[i].ID, Text: list[i].Text})
	}

	statuses, err := w.submitter.SubmitTasks(ctx, galTasks, w.systemPrompt, w.model)
	if err != nil {
		if w.log != nil {
			w.log.Warn("gal submitTasks failed, falling back to direct spawn", "error", err)
		}
		statuses = w.directSpawn(ctx, list, freshIdx)
	}

	for n, i := range freshIdx {
		if n >= len(statuses) {
			break
		}
		list[i].AgentID = statuses[n].ID
		list[i].Status = tasks.StatusInProgress
	}
}

func (w *Watcher) directSpawn(ctx context.Context, list []tasks.Task, freshIdx []int) []subagent.Status {
	configs := make([]subagent.Config, 0, len(freshIdx))
	for _, i := range freshIdx {
		configs = append(configs, subagent.Config{
			Name: list[i].ID,
			Task: directPreamble + list[i].Text,
		})
	}
	statuses, err := w.directSpawner.Spawn(ctx, configs, 0)
	if err != nil {
		if w.log != nil {
			w.log.Warn("direct spawn fallback also failed", "error", err)
		}
		return nil
	}
	return statuses
}
