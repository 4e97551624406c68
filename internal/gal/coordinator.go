// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gal implements the GalCoordinator (component L7): it spawns
// lock-aware workers through the SubagentManager, reacts to
// FileLockTable events programmatically, and optionally runs a
// persistent "GAL" LLM session that is additionally notified of every
// lock event.
package gal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tau-assistant/tau-daemon/internal/llmhost"
	"github.com/tau-assistant/tau-daemon/internal/locktable"
	"github.com/tau-assistant/tau-daemon/internal/messagebus"
	"github.com/tau-assistant/tau-daemon/internal/subagent"
	"github.com/tau-assistant/tau-daemon/pkg/logging"
)

// lockPreamble is prefixed to every worker's initial task prompt,
// explaining the claim -> edit -> release protocol before it touches
// any file.
const lockPreamble = `You are a worker operating under file-lock coordination. Before editing any file:
1. Call claim_file_lock(path, purpose) and wait for it to return granted=true.
2. If it returns granted=false, you are queued; you will be messaged when the lock is granted.
3. Edit only files you currently hold a lock on.
4. Call release_file_lock(path) as soon as you are done with that file.
5. Use check_file_available(path) to peek at lock state without claiming.

`

// WorkerInfo is the registration record kept per spawned worker.
type WorkerInfo struct {
	ID         string
	Name       string
	TaskID     string
	TaskText   string
	LocksHeld  []string
	SpawnedAt  time.Time
}

// Task is the minimal task shape submitTasks needs; the tasks package
// provides the concrete type satisfying this.
type Task struct {
	ID   string
	Name string
	Text string
}

// Spawner is the subset of SubagentManager the coordinator drives.
type Spawner interface {
	Spawn(ctx context.Context, configs []subagent.Config, depth int) ([]subagent.Status, error)
}

// Coordinator is the GalCoordinator.
type Coordinator struct {
	mu sync.Mutex // serializes submitTasks so extra-tool injection can't race across concurrent submits

	spawner Spawner
	table   *locktable.Table
	bus     *messagebus.Bus
	log     *logging.Logger

	workers map[string]*WorkerInfo

	contentionCount int

	galSession   llmhost.Session
	onExternal   func(event string, detail map[string]any)
}

// New creates a Coordinator bound to table's lock events.
func New(spawner Spawner, table *locktable.Table, bus *messagebus.Bus, log *logging.Logger) *Coordinator {
	c := &Coordinator{
		spawner: spawner,
		table:   table,
		bus:     bus,
		log:     log,
		workers: make(map[string]*WorkerInfo),
	}
	table.OnEvent(c.onLockEvent)
	return c
}

// OnExternal registers the callback used to surface gal.contention /
// gal.timeout / gal.deadlock notifications to the RPC layer.
func (c *Coordinator) OnExternal(fn func(event string, detail map[string]any)) { c.onExternal = fn }

// SetGalSession installs the optional persistent GAL LLM session.
// Presence/absence is transparent to submitTasks callers.
func (c *Coordinator) SetGalSession(sess llmhost.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.galSession = sess
}

// lockTools returns the three synchronous, LLM-roundtrip-free tools
// bound to workerID: claim_file_lock, release_file_lock,
// check_file_available.
func (c *Coordinator) lockTools(workerID string) []subagent.ToolSpec {
	return []subagent.ToolSpec{
		{
			Name:        "claim_file_lock",
			Description: "Claim an exclusive lock on a file path before editing it.",
			Parameters: llmhost.ToolParamsSchema(map[string]any{
				"path":    map[string]any{"type": "string"},
				"purpose": map[string]any{"type": "string"},
			}, []string{"path"}),
			Execute: func(ctx context.Context, argsJSON string) (string, error) {
				var args struct{ Path, Purpose string }
				if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
					return "", err
				}
				worker, _ := c.workerName(workerID)
				res := c.table.Claim(workerID, worker, args.Path, args.Purpose, 0)
				if res.Granted {
					c.trackLockHeld(workerID, args.Path)
				}
				data, _ := json.Marshal(res)
				return string(data), nil
			},
		},
		{
			Name:        "release_file_lock",
			Description: "Release a file lock previously claimed.",
			Parameters: llmhost.ToolParamsSchema(map[string]any{
				"path": map[string]any{"type": "string"},
			}, []string{"path"}),
			Execute: func(ctx context.Context, argsJSON string) (string, error) {
				var args struct{ Path string }
				if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
					return "", err
				}
				res := c.table.Release(workerID, args.Path)
				if res.Released {
					c.untrackLockHeld(workerID, args.Path)
				}
				data, _ := json.Marshal(res)
				return string(data), nil
			},
		},
		{
			Name:        "check_file_available",
			Description: "Check whether a file path is currently locked, without claiming it.",
			Parameters: llmhost.ToolParamsSchema(map[string]any{
				"path": map[string]any{"type": "string"},
			}, []string{"path"}),
			Execute: func(ctx context.Context, argsJSON string) (string, error) {
				var args struct{ Path string }
				if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
					return "", err
				}
				data, _ := json.Marshal(c.table.Check(args.Path))
				return string(data), nil
			},
		},
	}
}

func (c *Coordinator) workerName(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.workers[id]
	if !ok {
		return "", false
	}
	return w.Name, true
}

func (c *Coordinator) trackLockHeld(workerID, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.workers[workerID]; ok {
		w.LocksHeld = append(w.LocksHeld, path)
	}
}

func (c *Coordinator) untrackLockHeld(workerID, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.workers[workerID]
	if !ok {
		return
	}
	out := w.LocksHeld[:0:0]
	for _, p := range w.LocksHeld {
		if p != path {
			out = append(out, p)
		}
	}
	w.LocksHeld = out
}

// SubmitTasks spawns one worker per task with the lock preamble and
// lock tools bound to its id, registers a WorkerInfo, and returns the
// spawned statuses. The coordinator's mutex serializes submissions so
// concurrent callers can't interleave tool-injection state — this
// implementation passes the lock tools as an explicit per-spawn
// argument (Config.ExtraTools) rather than temporarily monkey-patching
// a shared buildToolsForAgent, which sidesteps the lost-restoration
// hazard entirely while producing the same observable behavior: any
// submission that fails leaves no shared state to restore in the
// first place.
func (c *Coordinator) SubmitTasks(ctx context.Context, tasks []Task, systemPrompt, model string) ([]subagent.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	configs := make([]subagent.Config, 0, len(tasks))
	for _, task := range tasks {
		configs = append(configs, subagent.Config{
			Name:           task.Name,
			SystemPrompt:   systemPrompt,
			Task:           lockPreamble + task.Text,
			TaskID:         task.ID,
			Model:          model,
			CanSpawn:       false,
			ExtraToolsByID: c.lockTools,
		})
	}

	// Spawn one at a time so each worker's lock tools close over its
	// own freshly-allocated id; SubagentManager.Spawn assigns ids
	// internally so we recover them from the returned statuses.
	statuses := make([]subagent.Status, 0, len(tasks))
	for i, cfg := range configs {
		infos, err := c.spawner.Spawn(ctx, []subagent.Config{cfg}, 0)
		if err != nil {
			return statuses, fmt.Errorf("gal: submitting task %q: %w", tasks[i].ID, err)
		}
		if len(infos) != 1 {
			return statuses, fmt.Errorf("gal: spawn returned %d statuses for 1 config", len(infos))
		}
		st := infos[0]
		statuses = append(statuses, st)

		c.workers[st.ID] = &WorkerInfo{
			ID:        st.ID,
			Name:      st.Name,
			TaskID:    tasks[i].ID,
			TaskText:  tasks[i].Text,
			SpawnedAt: time.Now(),
		}
	}
	return statuses, nil
}

// OnWorkerComplete releases every lock the worker still holds,
// deletes its registration, and notifies the optional GAL session.
func (c *Coordinator) OnWorkerComplete(workerID string) {
	c.table.ReleaseAllForAgent(workerID)

	c.mu.Lock()
	delete(c.workers, workerID)
	sess := c.galSession
	c.mu.Unlock()

	if sess != nil {
		_ = sess.Steer(context.Background(), fmt.Sprintf("notifyGal(worker_complete, %s)", workerID))
	}
}

// onLockEvent implements the programmatic lock-event reaction table.
func (c *Coordinator) onLockEvent(ev locktable.Event) {
	switch ev.Type {
	case locktable.EventContention:
		c.mu.Lock()
		c.contentionCount++
		c.mu.Unlock()
		c.notifyExternal("gal.contention", map[string]any{"path": ev.Path, "agentId": ev.AgentID})
		c.notifyGal("contention", ev)

	case locktable.EventTimeout:
		c.bus.Publish(messagebus.Message{
			FromID: "GAL", FromName: "GAL", ToID: ev.AgentID,
			Content: fmt.Sprintf("your lock on %s timed out, re-claim when ready", ev.Path),
			At:      time.Now(),
		})
		c.notifyExternal("gal.timeout", map[string]any{"path": ev.Path, "agentId": ev.AgentID})
		c.notifyGal("timeout", ev)

	case locktable.EventDeadlock:
		if len(ev.Cycle) > 0 {
			last := ev.Cycle[len(ev.Cycle)-1]
			if victimPath, ok := c.table.AnyHeldPath(last); ok {
				c.table.Revoke(victimPath)
				c.bus.Publish(messagebus.Message{
					FromID: "GAL", FromName: "GAL", ToID: last,
					Content: fmt.Sprintf("a deadlock involving your locks was broken by revoking %s", victimPath),
					At:      time.Now(),
				})
			}
		}
		c.notifyExternal("gal.deadlock", map[string]any{"path": ev.Path, "cycle": ev.Cycle})
		c.notifyGal("deadlock", ev)

	case locktable.EventReleased:
		if c.log != nil {
			c.log.Debug("gal: lock released", "path", ev.Path, "agentId", ev.AgentID)
		}
		c.notifyGal("released", ev)

	case locktable.EventQueueGranted:
		c.bus.Publish(messagebus.Message{
			FromID: "GAL", FromName: "GAL", ToID: ev.AgentID,
			Content: fmt.Sprintf("your claim on %s was granted, proceed and release when done", ev.Path),
			At:      time.Now(),
		})
		c.notifyGal("queue_granted", ev)
	}
}

func (c *Coordinator) notifyExternal(event string, detail map[string]any) {
	if c.onExternal != nil {
		c.onExternal(event, detail)
	}
}

func (c *Coordinator) notifyGal(eventType string, ev locktable.Event) {
	c.mu.Lock()
	sess := c.galSession
	c.mu.Unlock()
	if sess == nil {
		return
	}
	_ = sess.Steer(context.Background(), fmt.Sprintf("notifyGal(%s, path=%s agent=%s)", eventType, ev.Path, ev.AgentID))
}

// Status is a diagnostic snapshot for gal.status.
type Status struct {
	ContentionCount int
	WorkerCount     int
	GalSessionActive bool
}

func (c *Coordinator) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		ContentionCount:  c.contentionCount,
		WorkerCount:      len(c.workers),
		GalSessionActive: c.galSession != nil,
	}
}

// GetLocks returns the live lock-table snapshot for gal.locks.
func (c *Coordinator) GetLocks() locktable.Snapshot {
	return c.table.Snapshot()
}

// GetWorkers returns a snapshot of every registered worker.
func (c *Coordinator) GetWorkers() []WorkerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]WorkerInfo, 0, len(c.workers))
	for _, w := range c.workers {
		cp := *w
		cp.LocksHeld = append([]string{}, w.LocksHeld...)
		out = append(out, cp)
	}
	return out
}
