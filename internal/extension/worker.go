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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tau-assistant/tau-daemon/pkg/logging"
)

// Status is a worker's lifecycle state.
type Status string

const (
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusErrored Status = "errored"
	StatusStopped Status = "stopped"
)

type pendingCall struct {
	resultCh chan envelope
}

// worker owns one extension's sandboxed process and the JSON-lines
// protocol running over its stdin/stdout.
type worker struct {
	id      string
	scriptPath string
	runtime string // command used to execute scriptPath, e.g. "node"
	host    *Host
	log     *logging.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc

	mu      sync.Mutex
	status  Status
	tools   []ToolSpec
	events  []string
	pending map[string]*pendingCall

	readDone chan struct{}
	registerDone chan struct{}
}

func newWorker(id, scriptPath, runtime string, host *Host, log *logging.Logger) *worker {
	return &worker{
		id:           id,
		scriptPath:   scriptPath,
		runtime:      runtime,
		host:         host,
		log:          log,
		status:       StatusLoading,
		pending:      make(map[string]*pendingCall),
		readDone:     make(chan struct{}),
		registerDone: make(chan struct{}),
	}
}

// start spawns the worker process, sends init, and waits (up to
// registerTimeout) for its register message.
func (w *worker) start(parent context.Context, registerTimeout time.Duration) error {
	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel

	cmd := exec.CommandContext(ctx, w.runtime, w.scriptPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("extension %s: stdin pipe: %w", w.id, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("extension %s: stdout pipe: %w", w.id, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("extension %s: start: %w", w.id, err)
	}

	w.cmd = cmd
	w.stdin = stdin

	go w.readLoop(stdout)

	if err := w.send(envelope{Type: typeInit, ExtensionID: w.id}); err != nil {
		return err
	}

	select {
	case <-w.registerDone:
		return nil
	case <-time.After(registerTimeout):
		w.markErrored(fmt.Errorf("extension %s: did not register within %s", w.id, registerTimeout))
		return fmt.Errorf("extension %s: register timeout", w.id)
	case <-w.readDone:
		w.markErrored(fmt.Errorf("extension %s: exited before registering", w.id))
		return fmt.Errorf("extension %s: exited before registering", w.id)
	}
}

func (w *worker) readLoop(stdout io.ReadCloser) {
	defer close(w.readDone)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		var env envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			if w.log != nil {
				w.log.Warn("extension sent malformed line", "extension", w.id, "error", err)
			}
			continue
		}
		w.handleFromWorker(env)
	}

	w.onExit()
}

func (w *worker) handleFromWorker(env envelope) {
	switch env.Type {
	case typeRegister:
		w.mu.Lock()
		w.tools = env.Tools
		w.events = env.Events
		w.status = StatusReady
		w.mu.Unlock()
		select {
		case <-w.registerDone:
		default:
			close(w.registerDone)
		}

	case typeToolResult:
		w.mu.Lock()
		p, ok := w.pending[env.ID]
		if ok {
			delete(w.pending, env.ID)
		}
		w.mu.Unlock()
		if ok {
			p.resultCh <- env
		}

	case typeLog:
		if w.log != nil {
			w.log.Info("extension log", "extension", w.id, "level", env.Level, "message", env.Message)
		}

	case typeCreateMem:
		if w.host != nil {
			w.host.handleCreateMemory(w.id, env)
		}

	case typeBash:
		if w.host != nil {
			go w.host.handleBash(w, env)
		}
	}
}

// onExit runs once the worker's stdout closes (process exited, crash
// or otherwise). Every pending call is rejected and the status flips
// to errored unless the worker was deliberately stopped.
func (w *worker) onExit() {
	w.mu.Lock()
	if w.status != StatusStopped {
		w.status = StatusErrored
	}
	pending := w.pending
	w.pending = make(map[string]*pendingCall)
	w.mu.Unlock()

	for id, p := range pending {
		p.resultCh <- envelope{Type: typeToolResult, ID: id, Error: fmt.Sprintf("Extension %s exited", w.id)}
	}
}

func (w *worker) markErrored(err error) {
	w.mu.Lock()
	w.status = StatusErrored
	w.mu.Unlock()
	if w.log != nil {
		w.log.Warn("extension errored", "extension", w.id, "error", err)
	}
}

func (w *worker) send(env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	w.mu.Lock()
	stdin := w.stdin
	w.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("extension %s: not started", w.id)
	}
	_, err = stdin.Write(data)
	return err
}

// callTool sends a tool_call and waits up to timeout for its result,
// rejecting immediately if the worker has already exited.
func (w *worker) callTool(ctx context.Context, name string, params map[string]any, timeout time.Duration) (string, error) {
	w.mu.Lock()
	if w.status == StatusErrored || w.status == StatusStopped {
		w.mu.Unlock()
		return "", fmt.Errorf("extension %s: not running", w.id)
	}
	id := uuid.NewString()
	ch := make(chan envelope, 1)
	w.pending[id] = &pendingCall{resultCh: ch}
	w.mu.Unlock()

	if err := w.send(envelope{Type: typeToolCall, ID: id, Name: name, Params: params}); err != nil {
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()
		return "", err
	}

	select {
	case env := <-ch:
		if env.Error != "" {
			return "", fmt.Errorf("%s", env.Error)
		}
		return env.Result, nil
	case <-time.After(timeout):
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()
		return "", fmt.Errorf("extension %s: tool %s timed out after %s", w.id, name, timeout)
	case <-ctx.Done():
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()
		return "", ctx.Err()
	}
}

func (w *worker) notifyEvent(name string, data map[string]any) error {
	return w.send(envelope{Type: typeEvent, Name: name, Data: data})
}

// stop terminates the worker: shutdown message, 1 s grace, then force
// kill via context cancellation.
func (w *worker) stop() {
	w.mu.Lock()
	w.status = StatusStopped
	w.mu.Unlock()

	_ = w.send(envelope{Type: typeShutdown})

	select {
	case <-w.readDone:
	case <-time.After(time.Second):
		if w.cancel != nil {
			w.cancel()
		}
		<-w.readDone
	}
}

func (w *worker) snapshotStatus() (Status, []ToolSpec, []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status, w.tools, w.events
}
