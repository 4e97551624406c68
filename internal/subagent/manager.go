// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package subagent implements the SubagentManager (component L6): a
// bounded registry of agent sessions, their tool injection, and the
// completion bridge that turns a session's agent_end into a task
// update.
package subagent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tau-assistant/tau-daemon/internal/messagebus"
	"github.com/tau-assistant/tau-daemon/pkg/logging"
)

// DefaultCap is the hard cap on concurrently live subagents absent
// config override.
const DefaultCap = 10

// Status mirrors the external status event/view of one session.
type Status struct {
	ID          string
	Name        string
	Streaming   bool
	MessageCount int
	CreatedAt   time.Time
	Persistent  bool
	Finished    bool
	TaskID      string
}

// Config describes one subagent to spawn.
type Config struct {
	Name        string
	SystemPrompt string
	Task        string // initial prompt; empty means no fire-and-forget prompt
	Persistent  bool
	CanSpawn    bool // only honored when depth < 2; see buildToolsForAgent
	TaskID      string
	ExtraTools  []ToolSpec
	// ExtraToolsByID, when set, is invoked with the freshly-allocated
	// agent id to produce additional tools that must close over that
	// id (e.g. GalCoordinator's per-worker claim/release/check tools).
	// Needed because the id doesn't exist until spawnOne allocates it.
	ExtraToolsByID func(id string) []ToolSpec
	Model          string
}

// ToolSpec is a tool definition bound to a specific agent id, handed
// to the underlying LLM session alongside the manager's own tool set.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
	Execute     func(ctx context.Context, argsJSON string) (string, error)
}

// Session is the minimal surface SubagentManager needs from an LLM
// session driver (see llmhost.Session, which satisfies this).
type Session interface {
	ID() string
	Name() string
	IsStreaming() bool
	Prompt(ctx context.Context, text string) error
	Steer(ctx context.Context, text string) error
	Abort()
	History() []HistoryEntry
	Subscribe(func(AgentEvent))
	SetSilent(bool)
	Close() error
}

// HistoryEntry is one transcript turn, shaped like llmhost.Message so
// adapters can convert without an import cycle.
type HistoryEntry struct {
	Role    string
	Content string
}

// AgentEvent is the subset of llmhost.Event the manager reacts to.
type AgentEvent struct {
	Type string // "start", "token", "tool_call", "tool_result", "agent_end", "error"
	Text string
}

// SessionFactory builds the underlying LLM session for a spawned
// agent. AgentHost supplies a factory bound to its llmhost client.
type SessionFactory func(id string, cfg Config, tools []ToolSpec) Session

// TaskNotifier is implemented by whatever owns the task list (the
// TaskWatcher/GAL pairing) so the completion bridge can mark a task
// done without this package importing tasks.
type TaskNotifier interface {
	MarkDone(taskID, result string)
}

// GalNotifier lets the completion bridge tell the GAL coordinator a
// worker finished, without importing the gal package.
type GalNotifier interface {
	OnWorkerComplete(subagentID string)
}

type entry struct {
	session Session
	status  Status
	cancel  context.CancelFunc
	depth   int
}

// Manager is the SubagentManager.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry
	cap      int
	factory  SessionFactory
	bus      *messagebus.Bus
	log      *logging.Logger

	onStatus        func(Status)
	tasks           TaskNotifier
	gal             GalNotifier
	refinement      RefinementNotifier
	onBusMessageOut func(fromID, toID, content string)
}

// New creates a Manager. cap<=0 uses DefaultCap.
func New(factory SessionFactory, bus *messagebus.Bus, log *logging.Logger, cap int) *Manager {
	if cap <= 0 {
		cap = DefaultCap
	}
	return &Manager{
		sessions: make(map[string]*entry),
		cap:      cap,
		factory:  factory,
		bus:      bus,
		log:      log,
	}
}

// OnStatus registers the callback used to forward status events to
// the RPC layer (daemon.subagent.event).
func (m *Manager) OnStatus(fn func(Status)) { m.onStatus = fn }

// SetTaskNotifier wires the completion bridge's task-update sink.
func (m *Manager) SetTaskNotifier(n TaskNotifier) { m.tasks = n }

// SetGalNotifier wires the completion bridge's GAL notification sink.
func (m *Manager) SetGalNotifier(n GalNotifier) { m.gal = n }

func newAgentID() string {
	return fmt.Sprintf("sub-%d-%04x", time.Now().UnixNano(), rand.Intn(1<<16))
}

// Spawn creates one session per config, enforcing the hard cap (after
// purging finished, non-persistent sessions first).
func (m *Manager) Spawn(ctx context.Context, configs []Config, depth int) ([]Status, error) {
	m.mu.Lock()
	m.purgeFinishedLocked()
	if len(m.sessions)+len(configs) > m.cap {
		m.mu.Unlock()
		return nil, fmt.Errorf("subagent: size exceeded: %d live + %d new > cap %d", len(m.sessions), len(configs), m.cap)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(configs))
	for _, cfg := range configs {
		st, err := m.spawnOne(ctx, cfg, depth)
		if err != nil {
			return out, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (m *Manager) spawnOne(ctx context.Context, cfg Config, depth int) (Status, error) {
	id := newAgentID()
	canSpawn := depth < 2 && cfg.CanSpawn
	tools := m.buildToolsForAgent(id, cfg.Name, canSpawn)
	tools = append(tools, cfg.ExtraTools...)
	if cfg.ExtraToolsByID != nil {
		tools = append(tools, cfg.ExtraToolsByID(id)...)
	}

	sess := m.factory(id, cfg, tools)
	if sess == nil {
		return Status{}, errors.New("subagent: session factory returned nil")
	}

	st := Status{
		ID:         id,
		Name:       cfg.Name,
		CreatedAt:  time.Now(),
		Persistent: cfg.Persistent,
		TaskID:     cfg.TaskID,
	}

	m.mu.Lock()
	m.sessions[id] = &entry{session: sess, status: st, depth: depth}
	m.mu.Unlock()

	m.bus.Subscribe(id, func(msg messagebus.Message) {
		// Inbound bus messages become steered prompts into the
		// recipient's running turn rather than a separate prompt.
		_ = sess.Steer(context.Background(), fmt.Sprintf("[from %s] %s", msg.FromName, msg.Content))
	})

	sess.Subscribe(func(ev AgentEvent) {
		m.handleAgentEvent(id, ev)
	})

	if cfg.Task != "" {
		go func() {
			if err := sess.Prompt(ctx, cfg.Task); err != nil && m.log != nil {
				m.log.Warn("subagent: initial prompt failed", "id", id, "err", err)
			}
		}()
	}

	m.emitStatus(id)
	return st, nil
}

func (m *Manager) handleAgentEvent(id string, ev AgentEvent) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		e.status.Streaming = ev.Type != "agent_end" && ev.Type != "error"
		if ev.Type != "" {
			e.status.MessageCount++
		}
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.emitStatus(id)

	if ev.Type == "agent_end" {
		m.completeAgent(id, ev.Text)
	}
}

// completeAgent implements the completion bridge: trailing text,
// trimmed to 500 characters, becomes the task result; the GAL
// coordinator is notified; the session is closed.
//
// The finished entry is retained (not removed) so a non-persistent
// finished session still counts toward the hard cap until the next
// Spawn call purges it — that purge-on-next-spawn is what "spawning
// more than cap after purging finished non-persistent sessions fails"
// describes.
func (m *Manager) completeAgent(id, text string) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	var taskID string
	if ok {
		taskID = e.status.TaskID
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	trimmed := text
	if len(trimmed) > 500 {
		trimmed = trimmed[:500]
	}

	if taskID != "" && m.tasks != nil {
		m.tasks.MarkDone(taskID, trimmed)
	}
	if m.gal != nil {
		m.gal.OnWorkerComplete(id)
	}
	m.finishSession(id)
}

// finishSession stops the underlying session and marks the entry
// finished but leaves it registered; see completeAgent.
func (m *Manager) finishSession(id string) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		e.status.Finished = true
		e.status.Streaming = false
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.bus.Unsubscribe(id)
	_ = e.session.Close()
}

// Prompt routes text to the underlying session: a steer if it's
// already streaming, a new turn otherwise.
func (m *Manager) Prompt(ctx context.Context, id, text string) error {
	sess, ok := m.get(id)
	if !ok {
		return fmt.Errorf("subagent: unknown id %q", id)
	}
	if sess.IsStreaming() {
		return sess.Steer(ctx, text)
	}
	return sess.Prompt(ctx, text)
}

// Abort cancels id's in-flight turn, if any.
func (m *Manager) Abort(id string) error {
	sess, ok := m.get(id)
	if !ok {
		return fmt.Errorf("subagent: unknown id %q", id)
	}
	sess.Abort()
	return nil
}

// Close tears down and removes id.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.bus.Unsubscribe(id)
	_ = e.session.Close()
}

// DisposeAll closes every live session.
func (m *Manager) DisposeAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Close(id)
	}
}

func (m *Manager) purgeFinishedLocked() {
	for id, e := range m.sessions {
		if e.status.Finished && !e.status.Persistent {
			delete(m.sessions, id)
		}
	}
}

func (m *Manager) get(id string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// ListAll returns a name-sorted snapshot of every live session.
func (m *Manager) ListAll() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, e.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetStatus returns id's current status.
func (m *Manager) GetStatus(id string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return Status{}, false
	}
	return e.status, true
}

// GetHistory returns id's transcript.
func (m *Manager) GetHistory(id string) ([]HistoryEntry, error) {
	sess, ok := m.get(id)
	if !ok {
		return nil, fmt.Errorf("subagent: unknown id %q", id)
	}
	return sess.History(), nil
}

func (m *Manager) emitStatus(id string) {
	if m.onStatus == nil {
		return
	}
	if st, ok := m.GetStatus(id); ok {
		m.onStatus(st)
	}
}

// resolveName maps a bus recipient name/id to the session id it
// refers to. Accepts "main", "*", an exact id, or a case-insensitive
// name match.
func (m *Manager) resolveName(toNameOrId string) string {
	if toNameOrId == "main" || toNameOrId == messagebus.Broadcast {
		return toNameOrId
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[toNameOrId]; ok {
		return toNameOrId
	}
	lower := strings.ToLower(toNameOrId)
	for id, e := range m.sessions {
		if strings.ToLower(e.status.Name) == lower {
			return id
		}
	}
	return toNameOrId
}

// SendAgentMessage resolves toNameOrId and publishes content on the
// bus from fromID, additionally invoking onBusMessage (used to mirror
// the delivery out to external RPC listeners).
func (m *Manager) SendAgentMessage(fromID, toNameOrId, content string, onBusMessage func(messagebus.Message)) string {
	toID := m.resolveName(toNameOrId)
	fromName := fromID
	if fromID == "main" {
		fromName = "main"
	} else if st, ok := m.GetStatus(fromID); ok {
		fromName = st.Name
	}

	msg := messagebus.Message{FromID: fromID, FromName: fromName, ToID: toID, Content: content, At: time.Now()}
	m.bus.Publish(msg)
	if onBusMessage != nil {
		onBusMessage(msg)
	}
	return fmt.Sprintf("delivered to %s", toID)
}
