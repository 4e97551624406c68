// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rpcrouter implements the daemon's RPC handler router
// (component L13): a static table from method name to handler,
// dispatched from rpctransport.Server. Every handler accepts both
// positional-array and named-object params, awaits the agent ready
// gate when it touches agent state, and distinguishes recoverable
// application errors (returned inside a successful result) from
// protocol errors (returned as *rpctransport.Error).
package rpcrouter

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"time"

	"github.com/tau-assistant/tau-daemon/internal/agenthost"
	"github.com/tau-assistant/tau-daemon/internal/apikeys"
	"github.com/tau-assistant/tau-daemon/internal/bus"
	"github.com/tau-assistant/tau-daemon/internal/config"
	"github.com/tau-assistant/tau-daemon/internal/extension"
	"github.com/tau-assistant/tau-daemon/internal/heartbeat"
	"github.com/tau-assistant/tau-daemon/internal/memorystore"
	"github.com/tau-assistant/tau-daemon/internal/rpctransport"
	"github.com/tau-assistant/tau-daemon/pkg/logging"
)

// handlerFunc is the shape every registered method satisfies.
type handlerFunc func(ctx context.Context, clientID string, params json.RawMessage) (any, *rpctransport.Error)

// Config wires a Router to the daemon's already-built components.
type Config struct {
	Host      *agenthost.AgentHost
	APIKeys   *apikeys.Store
	Memory    *memorystore.Store
	Ext       *extension.Host
	Heartbeat *heartbeat.Heartbeat
	Bus       *bus.Bus
	Daemon    config.Config
	DataDir   string
	Version   string
	Log       *logging.Logger
}

// Router is the RPC handler router (L13). One instance implements
// rpctransport.Dispatcher for the life of the daemon.
type Router struct {
	host    *agenthost.AgentHost
	apiKeys *apikeys.Store
	memory  *memorystore.Store
	ext     *extension.Host
	hb      *heartbeat.Heartbeat
	bus     *bus.Bus
	cfg     config.Config
	version string
	log     *logging.Logger

	startedAt time.Time

	notes  *mdStore
	vault  *mdStore
	skills *mdStore
	soul   *mdStore

	recoverBuf *recoverBuffer

	mu           sync.Mutex
	currentModel string

	// taskSaveMu funnels tasks.save calls through a single serialized
	// queue so two near-simultaneous client saves never interleave
	// their writes. Only tasks.save takes it; the TaskWatcher does not.
	taskSaveMu sync.Mutex

	connectedClients func() int
	shutdown         func(reason string)

	handlers map[string]handlerFunc
}

// New builds a Router and registers it on cfg.Bus as the tap feeding
// daemon.recover's buffered-events replay.
func New(cfg Config) *Router {
	r := &Router{
		host:      cfg.Host,
		apiKeys:   cfg.APIKeys,
		memory:    cfg.Memory,
		ext:       cfg.Ext,
		hb:        cfg.Heartbeat,
		bus:       cfg.Bus,
		cfg:       cfg.Daemon,
		version:   cfg.Version,
		log:       cfg.Log,
		startedAt: time.Now(),

		notes:  newMDStore(filepath.Join(cfg.DataDir, "notes")),
		vault:  newMDStore(filepath.Join(cfg.DataDir, "vault")),
		skills: newMDStore(filepath.Join(cfg.DataDir, "skills")),
		soul:   newMDStore(filepath.Join(cfg.DataDir, "soul")),

		currentModel: cfg.Daemon.DefaultModel,
	}

	r.recoverBuf = newRecoverBuffer(cfg.Daemon.RecoverBufferSize)
	if r.bus != nil {
		r.bus.Register("__recover_buffer__", r.recoverBuf)
	}

	r.handlers = r.buildTable()
	return r
}

// SetShutdownFunc wires the callback daemon.shutdown invokes to begin
// graceful teardown. The daemon package supplies this after both it
// and the Router exist, since the daemon's shutdown sequence itself
// closes the transport this Router is reached through.
func (r *Router) SetShutdownFunc(fn func(reason string)) { r.shutdown = fn }

// SetConnectedClientsFunc wires daemon.health's connected-client
// count to the transport server's live client registry.
func (r *Router) SetConnectedClientsFunc(fn func() int) { r.connectedClients = fn }

// Handle implements rpctransport.Dispatcher.
func (r *Router) Handle(ctx context.Context, clientID, method string, params json.RawMessage) (any, *rpctransport.Error) {
	h, ok := r.handlers[method]
	if !ok {
		return nil, &rpctransport.Error{Code: rpctransport.CodeMethodNotFound, Message: "unknown method: " + method}
	}
	return h(ctx, clientID, params)
}

func (r *Router) buildTable() map[string]handlerFunc {
	t := make(map[string]handlerFunc)

	for name, h := range r.agentHandlers() {
		t[name] = h
	}
	for name, h := range r.subagentHandlers() {
		t[name] = h
	}
	for name, h := range r.gitHandlers() {
		t[name] = h
	}
	for name, h := range r.filesHandlers() {
		t[name] = h
	}
	for name, h := range r.memoryHandlers() {
		t[name] = h
	}
	for name, h := range r.notesVaultSoulSkillHandlers() {
		t[name] = h
	}
	for name, h := range r.journalHandlers() {
		t[name] = h
	}
	for name, h := range r.heartbeatHandlers() {
		t[name] = h
	}
	for name, h := range r.extHandlers() {
		t[name] = h
	}
	for name, h := range r.apiKeysHandlers() {
		t[name] = h
	}
	for name, h := range r.projectCtxHandlers() {
		t[name] = h
	}
	for name, h := range r.tasksHandlers() {
		t[name] = h
	}
	for name, h := range r.galHandlers() {
		t[name] = h
	}
	for name, h := range r.daemonHandlers() {
		t[name] = h
	}

	return t
}

// awaitReady suspends until the AgentHost has finished its first
// SetupAgent call (or ctx is canceled), then reports CodeAgentNotReady
// if that setup failed. Every handler that touches agent state calls
// this first.
func (r *Router) awaitReady(ctx context.Context) *rpctransport.Error {
	select {
	case <-r.host.Ready():
	case <-ctx.Done():
		return &rpctransport.Error{Code: rpctransport.CodeInternalError, Message: "request canceled"}
	}
	if err := r.host.ReadyErr(); err != nil {
		return &rpctransport.Error{Code: rpctransport.CodeAgentNotReady, Message: err.Error()}
	}
	return nil
}

// recoverableError is the shape a handler returns for application-
// level failures the caller should branch on, not treat as a protocol
// fault.
func recoverableError(msg string) any {
	return map[string]any{"error": msg}
}

func invalidParams(msg string) *rpctransport.Error {
	return &rpctransport.Error{Code: rpctransport.CodeInvalidParams, Message: msg}
}

func internalError(err error) *rpctransport.Error {
	return &rpctransport.Error{Code: rpctransport.CodeInternalError, Message: err.Error()}
}
