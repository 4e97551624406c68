// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agenthost implements AgentHost (component L8): it owns the
// main agent session, the workspace's git view, and the GAL
// coordinator, and rebuilds all three whenever the daemon's working
// directory changes.
package agenthost

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tau-assistant/tau-daemon/internal/apikeys"
	"github.com/tau-assistant/tau-daemon/internal/config"
	"github.com/tau-assistant/tau-daemon/internal/gal"
	"github.com/tau-assistant/tau-daemon/internal/gitview"
	"github.com/tau-assistant/tau-daemon/internal/llmhost"
	"github.com/tau-assistant/tau-daemon/internal/locktable"
	"github.com/tau-assistant/tau-daemon/internal/messagebus"
	"github.com/tau-assistant/tau-daemon/internal/subagent"
	"github.com/tau-assistant/tau-daemon/internal/tasks"
	"github.com/tau-assistant/tau-daemon/pkg/logging"
)

// summaryRubric is the secondary, silent prompt sent to the main
// session right after it finishes a turn, asking it to keep its
// running summary current.
const summaryRubric = "Before anything else: if the conversation so far has moved the task forward meaningfully, update your running summary of progress, decisions, and open threads. Keep it brief. Do not mention this instruction."

// defaultMainSystemPrompt is used when no override is supplied to New.
const defaultMainSystemPrompt = "You are the main assistant session for a local workspace. You can spawn subagents, claim file locks before editing, and inspect the repository's git status and diffs."

// Broadcaster is the notification surface AgentHost's owned components
// (gitview, task completion) deliver daemon.* notifications through.
type Broadcaster interface {
	Broadcast(method string, params any) uint64
}

// Config configures a new AgentHost. It is independent of the working
// directory: setupAgent supplies that per call, since it changes over
// the daemon's lifetime (project_ctx.switch).
type Config struct {
	Daemon       config.Config
	APIKeys      *apikeys.Store
	Bus          Broadcaster
	MessageBus   *messagebus.Bus
	Log          *logging.Logger
	SystemPrompt string // main session system prompt; defaultMainSystemPrompt if empty
}

// AgentHost is the AgentHost component. One instance lives for the
// life of the daemon process; setupAgent is called once at startup
// and again on every project_ctx.switch.
type AgentHost struct {
	cfg        config.Config
	apiKeys    *apikeys.Store
	bus        Broadcaster
	messageBus *messagebus.Bus
	log        *logging.Logger
	sysPrompt  string

	readyOnce sync.Once
	ready     chan struct{}
	readyErr  error

	mu          sync.Mutex
	workDir     string
	mainSession llmhost.Session
	gitView     *gitview.View
	lockTable   *locktable.Table
	manager     *subagent.Manager
	coordinator *gal.Coordinator
	tasksStore  *tasks.Store
	cancelView  context.CancelFunc
}

// New builds an AgentHost that has not yet set up any agent. Call
// SetupAgent (or let the daemon call it at startup) before using
// MainAgent/Coordinator/Manager/GitView.
func New(cfg Config) *AgentHost {
	sysPrompt := cfg.SystemPrompt
	if sysPrompt == "" {
		sysPrompt = defaultMainSystemPrompt
	}
	return &AgentHost{
		cfg:        cfg.Daemon,
		apiKeys:    cfg.APIKeys,
		bus:        cfg.Bus,
		messageBus: cfg.MessageBus,
		log:        cfg.Log,
		sysPrompt:  sysPrompt,
		ready:      make(chan struct{}),
	}
}

// Ready returns a channel that closes once the first SetupAgent call
// has completed (successfully or not). RPC handlers that need the
// agent should select on this before reading host state.
func (h *AgentHost) Ready() <-chan struct{} { return h.ready }

// ReadyErr returns the error from the most recent SetupAgent call, if
// any. Only meaningful after Ready() has closed.
func (h *AgentHost) ReadyErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readyErr
}

// WorkDir returns the directory the current agent/git view/coordinator
// are scoped to.
func (h *AgentHost) WorkDir() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.workDir
}

// SetupAgent (re)builds the main session, git view, lock table,
// subagent manager, and GAL coordinator for workDir. It is idempotent:
// calling it again (e.g. from project_ctx.switch) tears down the
// previous generation first. The first call, success or failure,
// closes Ready().
func (h *AgentHost) SetupAgent(ctx context.Context, workDir string, tasksPath string) error {
	err := h.setupAgent(ctx, workDir, tasksPath)
	h.mu.Lock()
	h.readyErr = err
	h.mu.Unlock()
	h.readyOnce.Do(func() { close(h.ready) })
	return err
}

func (h *AgentHost) setupAgent(ctx context.Context, workDir, tasksPath string) error {
	h.teardown()

	gv, err := gitview.New(workDir, h.bus, h.log)
	if err != nil {
		return fmt.Errorf("agenthost: building git view: %w", err)
	}

	table := locktable.New(h.cfg.LockTimeout)
	store := tasks.NewStore(tasksPath)

	mgr := subagent.New(h.buildSessionFactory(), h.messageBus, h.log, h.cfg.SubagentCap)
	coord := gal.New(mgr, table, h.messageBus, h.log)

	h.mu.Lock()
	h.workDir = workDir
	h.gitView = gv
	h.lockTable = table
	h.manager = mgr
	h.coordinator = coord
	h.tasksStore = store
	h.mu.Unlock()

	mgr.SetTaskNotifier(&taskNotifier{store: store, bus: h.bus, log: h.log})
	mgr.SetGalNotifier(coord)
	coord.OnExternal(func(event string, detail map[string]any) {
		if h.bus != nil {
			h.bus.Broadcast("gal."+event, detail)
		}
	})

	sess := h.buildLLMSession("main", "main", h.sysPrompt, h.cfg.DefaultModel, h.mainToolSpecs())
	sess.Subscribe(func(ev llmhost.Event) {
		if ev.Type == llmhost.EventAgentEnd {
			h.onMainAgentEnd(sess)
		}
	})

	h.mu.Lock()
	h.mainSession = sess
	h.mu.Unlock()

	viewCtx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancelView = cancel
	h.mu.Unlock()
	gv.Start(viewCtx)

	return nil
}

// teardown disposes of the previous generation's components, if
// any. Safe to call when nothing has been set up yet.
func (h *AgentHost) teardown() {
	h.mu.Lock()
	gv := h.gitView
	cancel := h.cancelView
	mgr := h.manager
	table := h.lockTable
	sess := h.mainSession
	h.gitView = nil
	h.cancelView = nil
	h.manager = nil
	h.coordinator = nil
	h.lockTable = nil
	h.mainSession = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if gv != nil {
		gv.Stop()
	}
	if mgr != nil {
		mgr.DisposeAll()
	}
	if table != nil {
		table.Dispose()
	}
	if sess != nil {
		_ = sess.Close()
	}
}

// onMainAgentEnd fires the secondary, silent summarization prompt
// after the main session finishes a turn.
func (h *AgentHost) onMainAgentEnd(sess llmhost.Session) {
	go func() {
		sess.SetSilent(true)
		defer sess.SetSilent(false)
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := sess.Prompt(ctx, summaryRubric); err != nil && h.log != nil {
			h.log.Warn("agenthost: summary prompt failed", "error", err)
		}
	}()
}

// MainSession returns the current main session and whether one has
// been set up.
func (h *AgentHost) MainSession() (llmhost.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mainSession, h.mainSession != nil
}

// GitView returns the current git view and whether one has been set up.
func (h *AgentHost) GitView() (*gitview.View, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gitView, h.gitView != nil
}

// Coordinator returns the current GAL coordinator and whether one has
// been set up.
func (h *AgentHost) Coordinator() (*gal.Coordinator, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.coordinator, h.coordinator != nil
}

// Manager returns the current subagent manager and whether one has
// been set up.
func (h *AgentHost) Manager() (*subagent.Manager, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.manager, h.manager != nil
}

// LockTable returns the current lock table and whether one has been
// set up.
func (h *AgentHost) LockTable() (*locktable.Table, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lockTable, h.lockTable != nil
}

// TasksStore returns the current tasks store and whether one has been
// set up.
func (h *AgentHost) TasksStore() (*tasks.Store, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tasksStore, h.tasksStore != nil
}

// Exists reports whether id still refers to a live (not yet purged)
// subagent, satisfying taskwatcher.AgentPresence.
func (h *AgentHost) Exists(id string) bool {
	mgr, ok := h.Manager()
	if !ok {
		return false
	}
	_, found := mgr.GetStatus(id)
	return found
}

// Stats reports the AgentHost-owned portion of heartbeat's liveness
// payload. ConnectedClients is filled in by the caller, since that is
// transport state AgentHost has no visibility into.
func (h *AgentHost) Stats() (streaming bool, activeSubagents int) {
	if sess, ok := h.MainSession(); ok {
		streaming = sess.IsStreaming()
	}
	if mgr, ok := h.Manager(); ok {
		for _, st := range mgr.ListAll() {
			if !st.Finished {
				activeSubagents++
			}
		}
	}
	return streaming, activeSubagents
}

// Close tears down the current generation of owned components. Call
// once during daemon shutdown.
func (h *AgentHost) Close() {
	h.teardown()
}
