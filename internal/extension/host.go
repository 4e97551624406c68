// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extension

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/tau-assistant/tau-daemon/internal/config"
	"github.com/tau-assistant/tau-daemon/pkg/logging"
)

const reloadDebounce = 500 * time.Millisecond

// MemoryCreator receives create_memory calls from any worker.
type MemoryCreator interface {
	CreateMemory(memoryType, title, content string, tags []string) error
}

// BashExecutor runs a worker's bash request under the host's policy.
type BashExecutor interface {
	Run(ctx context.Context, command string, timeout time.Duration) (string, error)
}

// shellExecutor runs commands via /bin/sh -c, capturing combined output.
type shellExecutor struct{}

func (shellExecutor) Run(ctx context.Context, command string, timeout time.Duration) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, "/bin/sh", "-c", command)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// Info is a diagnostic snapshot of one loaded extension.
type Info struct {
	ID     string
	Status Status
	Tools  []ToolSpec
	Events []string
}

// Host is the ExtensionHost (L12).
type Host struct {
	dir     string
	runtime string
	cfg     config.ExtensionsConfig
	memory  MemoryCreator
	bash    BashExecutor
	limiter *rate.Limiter
	log     *logging.Logger

	mu      sync.Mutex
	workers map[string]*worker

	fw   *fsnotify.Watcher
	done chan struct{}
}

// New builds a Host that loads `.js` modules from dir, running each
// with runtime (e.g. "node"). memory may be nil if create_memory
// should be silently dropped; bash defaults to a plain shell executor
// when nil.
func New(dir, runtime string, cfg config.ExtensionsConfig, memory MemoryCreator, bash BashExecutor, log *logging.Logger) (*Host, error) {
	if bash == nil {
		bash = shellExecutor{}
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating extension watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching extensions dir: %w", err)
	}

	return &Host{
		dir:     dir,
		runtime: runtime,
		cfg:     cfg,
		memory:  memory,
		bash:    bash,
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		log:     log,
		workers: make(map[string]*worker),
		fw:      fw,
		done:    make(chan struct{}),
	}, nil
}

// LoadAll starts a worker for every `.js` file currently in the
// extensions directory.
func (h *Host) LoadAll(ctx context.Context) {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".js") {
			continue
		}
		h.load(ctx, e.Name())
	}
}

func (h *Host) extensionID(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

func (h *Host) load(ctx context.Context, filename string) {
	id := h.extensionID(filename)
	w := newWorker(id, filepath.Join(h.dir, filename), h.runtime, h, h.log)

	h.mu.Lock()
	h.workers[id] = w
	h.mu.Unlock()

	if err := w.start(ctx, h.cfg.RegisterTimeout); err != nil && h.log != nil {
		h.log.Warn("extension failed to start", "extension", id, "error", err)
	}
}

// Start begins watching the extensions directory for hot reload until
// ctx is canceled or Stop is called.
func (h *Host) Start(ctx context.Context) {
	go h.watchLoop(ctx)
}

func (h *Host) watchLoop(ctx context.Context) {
	timers := make(map[string]*time.Timer)
	fire := make(chan string, 16)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case ev, ok := <-h.fw.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".js") {
				continue
			}
			name := filepath.Base(ev.Name)
			if t, exists := timers[name]; exists {
				t.Reset(reloadDebounce)
				continue
			}
			timers[name] = time.AfterFunc(reloadDebounce, func() {
				select {
				case fire <- name:
				case <-h.done:
				}
			})
		case name := <-fire:
			delete(timers, name)
			h.reload(ctx, name)
		case _, ok := <-h.fw.Errors:
			if !ok {
				return
			}
		}
	}
}

// reload terminates the previous worker for filename (if any) and
// re-instantiates it.
func (h *Host) reload(ctx context.Context, filename string) {
	id := h.extensionID(filename)

	h.mu.Lock()
	old := h.workers[id]
	h.mu.Unlock()
	if old != nil {
		old.stop()
	}

	if _, err := os.Stat(filepath.Join(h.dir, filename)); err != nil {
		h.mu.Lock()
		delete(h.workers, id)
		h.mu.Unlock()
		return
	}
	h.load(ctx, filename)
}

// Stop shuts down every worker and the directory watcher.
func (h *Host) Stop() {
	close(h.done)
	h.fw.Close()

	h.mu.Lock()
	workers := make([]*worker, 0, len(h.workers))
	for _, w := range h.workers {
		workers = append(workers, w)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.stop()
		}(w)
	}
	wg.Wait()
}

// CallTool dispatches a tool_call to the named extension.
func (h *Host) CallTool(ctx context.Context, extensionID, name string, params map[string]any) (string, error) {
	h.mu.Lock()
	w, ok := h.workers[extensionID]
	h.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("no such extension: %s", extensionID)
	}
	return w.callTool(ctx, name, params, h.cfg.ToolCallTimeout)
}

// Broadcast sends an event to every ready worker that registered
// interest in it.
func (h *Host) Broadcast(name string, data map[string]any) {
	h.mu.Lock()
	workers := make([]*worker, 0, len(h.workers))
	for _, w := range h.workers {
		workers = append(workers, w)
	}
	h.mu.Unlock()

	for _, w := range workers {
		status, _, events := w.snapshotStatus()
		if status != StatusReady {
			continue
		}
		for _, e := range events {
			if e == name {
				_ = w.notifyEvent(name, data)
				break
			}
		}
	}
}

// List returns a diagnostic snapshot of every loaded extension.
func (h *Host) List() []Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Info, 0, len(h.workers))
	for id, w := range h.workers {
		status, tools, events := w.snapshotStatus()
		out = append(out, Info{ID: id, Status: status, Tools: tools, Events: events})
	}
	return out
}

func (h *Host) handleCreateMemory(extensionID string, env envelope) {
	if h.memory == nil {
		return
	}
	if err := h.memory.CreateMemory(env.MemoryType, env.Title, env.Content, env.Tags); err != nil && h.log != nil {
		h.log.Warn("extension create_memory failed", "extension", extensionID, "error", err)
	}
}

func (h *Host) handleBash(w *worker, env envelope) {
	if !h.cfg.AllowBash {
		_ = w.send(envelope{Type: typeToolResult, ID: env.ID, Error: "bash is disabled by host policy"})
		return
	}
	if !h.limiter.Allow() {
		_ = w.send(envelope{Type: typeToolResult, ID: env.ID, Error: "bash rate limit exceeded"})
		return
	}

	timeout := time.Duration(env.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	out, err := h.bash.Run(context.Background(), env.Command, timeout)
	if err != nil {
		_ = w.send(envelope{Type: typeToolResult, ID: env.ID, Error: err.Error()})
		return
	}
	_ = w.send(envelope{Type: typeToolResult, ID: env.ID, Result: out})
}
