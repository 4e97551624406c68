// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package heartbeat implements the Heartbeat component (L11): a 5 s
// liveness ping broadcast and an independently schedulable one-shot
// tick that silently prompts the main agent with a markdown file's
// contents.
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/tau-assistant/tau-daemon/pkg/logging"
)

const (
	livenessInterval = 5 * time.Second
	minTickInterval  = 60 * time.Second
)

// MainAgent is the narrow surface the scheduled tick needs from the
// main agent session.
type MainAgent interface {
	SetSilent(bool)
	Prompt(ctx context.Context, text string) error
}

// MainAgentProvider resolves the current main agent, if any.
type MainAgentProvider interface {
	MainAgent() (MainAgent, bool)
}

// Stats supplies the point-in-time values the liveness ping reports.
type Stats struct {
	Streaming        bool
	ActiveSubagents  int
	ConnectedClients int
}

// StatsProvider is queried fresh on every liveness tick.
type StatsProvider interface {
	Stats() Stats
}

// Broadcaster delivers notifications and reports the bus's current
// sequence counter.
type Broadcaster interface {
	Broadcast(method string, params any) uint64
	Seq() uint64
}

// State is the persisted scheduled-tick configuration and progress.
type State struct {
	Enabled    bool      `json:"enabled"`
	Interval   int       `json:"interval"` // seconds
	LastCheck  time.Time `json:"lastCheck"`
	NextCheck  time.Time `json:"nextCheck"`
	CheckCount int       `json:"checkCount"`
}

// loadState reads a persisted State from path. A missing file returns
// a disabled state with Interval set to the 60s minimum, not an error.
func loadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{Interval: int(minTickInterval / time.Second)}, nil
		}
		return State{}, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("parsing heartbeat state %s: %w", path, err)
	}
	return st, nil
}

func saveState(path string, st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Heartbeat owns the two independent timers.
type Heartbeat struct {
	statePath string
	checkFile string
	bus       Broadcaster
	stats     StatsProvider
	provider  MainAgentProvider
	log       *logging.Logger
	pid       int
	startedAt time.Time
	cwd       func() string

	mu    sync.Mutex
	state State

	livenessDone chan struct{}
	tickTimer    *time.Timer
	tickCancel   context.CancelFunc
}

// New builds a Heartbeat. checkFile is the markdown file read on each
// scheduled tick; statePath is where persisted State is stored.
func New(statePath, checkFile string, bus Broadcaster, stats StatsProvider, provider MainAgentProvider, log *logging.Logger, cwd func() string) (*Heartbeat, error) {
	st, err := loadState(statePath)
	if err != nil {
		return nil, err
	}
	if st.Interval < int(minTickInterval/time.Second) {
		st.Interval = int(minTickInterval / time.Second)
	}

	return &Heartbeat{
		statePath:    statePath,
		checkFile:    checkFile,
		bus:          bus,
		stats:        stats,
		provider:     provider,
		log:          log,
		pid:          os.Getpid(),
		startedAt:    time.Now(),
		cwd:          cwd,
		state:        st,
		livenessDone: make(chan struct{}),
	}, nil
}

// Start begins the liveness ping and, if the persisted state is
// enabled, the scheduled tick.
func (h *Heartbeat) Start(ctx context.Context) {
	go h.livenessLoop(ctx)

	h.mu.Lock()
	enabled := h.state.Enabled
	h.mu.Unlock()
	if enabled {
		h.scheduleTick(ctx)
	}
}

// Stop cancels both timers. State already persisted to disk is left
// untouched.
func (h *Heartbeat) Stop() {
	close(h.livenessDone)
	h.mu.Lock()
	if h.tickTimer != nil {
		h.tickTimer.Stop()
	}
	if h.tickCancel != nil {
		h.tickCancel()
	}
	h.mu.Unlock()
}

func (h *Heartbeat) livenessLoop(ctx context.Context) {
	ticker := time.NewTicker(livenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.livenessDone:
			return
		case <-ticker.C:
			h.ping()
		}
	}
}

func (h *Heartbeat) ping() {
	s := h.stats.Stats()
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	cwd := ""
	if h.cwd != nil {
		cwd = h.cwd()
	}

	h.bus.Broadcast("daemon.heartbeat", map[string]any{
		"pid":              h.pid,
		"uptimeSeconds":    int(time.Since(h.startedAt).Seconds()),
		"cwd":              cwd,
		"streaming":        s.Streaming,
		"activeSubagents":  s.ActiveSubagents,
		"connectedClients": s.ConnectedClients,
		"residentMemoryMB": mem.Sys / (1024 * 1024),
		"seq":              h.bus.Seq(),
	})
}

// scheduleTick arms a one-shot timer for State.Interval seconds ahead
// and records the next-check time.
func (h *Heartbeat) scheduleTick(ctx context.Context) {
	h.mu.Lock()
	if h.tickTimer != nil {
		h.tickTimer.Stop()
	}
	if h.tickCancel != nil {
		h.tickCancel()
	}
	tctx, cancel := context.WithCancel(ctx)
	h.tickCancel = cancel

	interval := time.Duration(h.state.Interval) * time.Second
	h.state.NextCheck = time.Now().Add(interval)
	st := h.state
	h.mu.Unlock()

	_ = saveState(h.statePath, st)

	h.mu.Lock()
	h.tickTimer = time.AfterFunc(interval, func() { h.fireTick(tctx) })
	h.mu.Unlock()
}

// fireTick runs one scheduled check and, unless the timer was
// canceled meanwhile, reschedules itself.
func (h *Heartbeat) fireTick(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	h.mu.Lock()
	h.state.LastCheck = time.Now()
	h.state.CheckCount++
	st := h.state
	h.mu.Unlock()
	_ = saveState(h.statePath, st)

	h.runCheck(ctx)

	h.mu.Lock()
	stillEnabled := h.state.Enabled
	h.mu.Unlock()
	if stillEnabled {
		h.scheduleTick(ctx)
	}
}

// runCheck reads the check file and, if it has any non-heading,
// non-separator content, issues a silent prompt to the main agent.
func (h *Heartbeat) runCheck(ctx context.Context) {
	data, err := os.ReadFile(h.checkFile)
	if err != nil {
		return
	}
	if !hasSubstantiveContent(string(data)) {
		return
	}
	if h.provider == nil {
		return
	}
	agent, ok := h.provider.MainAgent()
	if !ok {
		return
	}

	agent.SetSilent(true)
	defer agent.SetSilent(false)
	if err := agent.Prompt(ctx, string(data)); err != nil && h.log != nil {
		h.log.Warn("heartbeat check prompt failed", "error", err)
	}
}

// hasSubstantiveContent reports whether content has any line that is
// not blank, a markdown heading, or a "---"-style separator.
func hasSubstantiveContent(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.Trim(trimmed, "-=") == "" {
			continue
		}
		return true
	}
	return false
}

// SetEnabled toggles the scheduled tick. Disabling cancels the armed
// timer but preserves interval/last-check/next-check/check-count.
func (h *Heartbeat) SetEnabled(ctx context.Context, enabled bool) {
	h.mu.Lock()
	h.state.Enabled = enabled
	st := h.state
	tickTimer := h.tickTimer
	tickCancel := h.tickCancel
	h.mu.Unlock()

	_ = saveState(h.statePath, st)

	if !enabled {
		if tickTimer != nil {
			tickTimer.Stop()
		}
		if tickCancel != nil {
			tickCancel()
		}
		return
	}
	h.scheduleTick(ctx)
}

// SetInterval changes the scheduled-tick interval (seconds), clamped
// to the 60 s minimum, canceling and re-arming the timer.
func (h *Heartbeat) SetInterval(ctx context.Context, seconds int) {
	if seconds < int(minTickInterval/time.Second) {
		seconds = int(minTickInterval / time.Second)
	}

	h.mu.Lock()
	h.state.Interval = seconds
	enabled := h.state.Enabled
	h.mu.Unlock()

	if enabled {
		h.scheduleTick(ctx)
	} else {
		h.mu.Lock()
		st := h.state
		h.mu.Unlock()
		_ = saveState(h.statePath, st)
	}
}

// GetState returns a snapshot of the persisted state.
func (h *Heartbeat) GetState() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}
