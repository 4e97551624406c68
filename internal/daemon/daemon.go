// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package daemon is the top-level composition root: it builds every
// owned component (agent host, RPC router, transport server, watchers,
// heartbeat, extension host) and runs them for the life of the
// process, tearing everything down in a fixed order on shutdown.
package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tau-assistant/tau-daemon/internal/agenthost"
	"github.com/tau-assistant/tau-daemon/internal/apikeys"
	"github.com/tau-assistant/tau-daemon/internal/bus"
	"github.com/tau-assistant/tau-daemon/internal/config"
	"github.com/tau-assistant/tau-daemon/internal/extension"
	"github.com/tau-assistant/tau-daemon/internal/heartbeat"
	"github.com/tau-assistant/tau-daemon/internal/journalwatcher"
	"github.com/tau-assistant/tau-daemon/internal/memorystore"
	"github.com/tau-assistant/tau-daemon/internal/messagebus"
	"github.com/tau-assistant/tau-daemon/internal/paths"
	"github.com/tau-assistant/tau-daemon/internal/rpcrouter"
	"github.com/tau-assistant/tau-daemon/internal/rpctransport"
	"github.com/tau-assistant/tau-daemon/internal/taskwatcher"
	"github.com/tau-assistant/tau-daemon/pkg/logging"
)

// Version is stamped into daemon.health and the PID file. Overridden
// at build time via -ldflags.
var Version = "dev"

// Daemon owns every long-lived component for the process's lifetime.
type Daemon struct {
	paths paths.Paths
	cfg   config.Config
	log   *logging.Logger

	bus        *bus.Bus
	messageBus *messagebus.Bus
	apiKeys    *apikeys.Store
	memDB      *memorystore.DB
	memory     *memorystore.Store
	host       *agenthost.AgentHost
	ext        *extension.Host
	hb         *heartbeat.Heartbeat
	taskw      *taskwatcher.Watcher
	journalw   *journalwatcher.Watcher
	router     *rpcrouter.Router
	server     *rpctransport.Server

	shutdownOnce sync.Once
	shutdownCh   chan string
}

// New builds every component but starts nothing. Call Run to start
// and block until shutdown.
func New(p paths.Paths, cfg config.Config, log *logging.Logger) (*Daemon, error) {
	d := &Daemon{
		paths:      p,
		cfg:        cfg,
		log:        log,
		bus:        bus.New(),
		messageBus: messagebus.New(),
		apiKeys:    apikeys.New(),
		shutdownCh: make(chan string, 1),
	}

	memCfg := memorystore.DefaultConfig()
	memCfg.Path = filepath.Join(p.DataDir, "memory")
	memDB, err := memorystore.Open(memCfg)
	if err != nil {
		return nil, fmt.Errorf("daemon: opening memory store: %w", err)
	}
	d.memDB = memDB
	d.memory = memorystore.NewStore(memDB)

	d.host = agenthost.New(agenthost.Config{
		Daemon:     cfg,
		APIKeys:    d.apiKeys,
		Bus:        d.bus,
		MessageBus: d.messageBus,
		Log:        log,
	})

	extHost, err := extension.New(p.ExtensionsDir, "node", cfg.Extensions, d.memory, nil, log)
	if err != nil {
		d.host.Close()
		d.memDB.Close()
		return nil, fmt.Errorf("daemon: building extension host: %w", err)
	}
	d.ext = extHost

	hb, err := heartbeat.New(
		filepath.Join(p.DataDir, "heartbeat.json"),
		cfg.ScheduledTaskFile,
		d.bus,
		&statsAdapter{d: d},
		&heartbeatMainAgentAdapter{host: d.host},
		log,
		d.host.WorkDir,
	)
	if err != nil {
		d.ext.Stop()
		d.host.Close()
		d.memDB.Close()
		return nil, fmt.Errorf("daemon: building heartbeat: %w", err)
	}
	d.hb = hb

	d.router = rpcrouter.New(rpcrouter.Config{
		Host:      d.host,
		APIKeys:   d.apiKeys,
		Memory:    d.memory,
		Ext:       d.ext,
		Heartbeat: d.hb,
		Bus:       d.bus,
		Daemon:    cfg,
		DataDir:   p.DataDir,
		Version:   Version,
		Log:       log,
	})

	d.server = rpctransport.New(rpctransport.Config{
		SocketPath:         p.SocketPath,
		Dispatcher:         d.router,
		Bus:                d.bus,
		Log:                log,
		RateLimitPerSecond: cfg.RPCRateLimitPerSecond,
		RateBurst:          cfg.RPCRateBurst,
		PingTimeout:        cfg.HeartbeatLivenessPingTimeout,
	})
	d.router.SetConnectedClientsFunc(d.server.ClientCount)
	d.router.SetShutdownFunc(d.RequestShutdown)

	return d, nil
}

// RequestShutdown begins graceful teardown asynchronously; Run returns
// once it completes. Safe to call more than once or concurrently —
// only the first call's reason takes effect.
func (d *Daemon) RequestShutdown(reason string) {
	d.shutdownOnce.Do(func() {
		d.shutdownCh <- reason
	})
}

// Run sets up the initial workspace, starts every background
// component, and blocks until shutdown is requested (via
// RequestShutdown, a daemon.shutdown RPC, or ctx cancellation). Once
// serving has begun it tears down in order: watchers, heartbeat, agent
// host, server, then the PID file — and returns nil on a clean exit.
// An error building the task or journal watcher, or starting the
// transport server, is returned without running that teardown.
func (d *Daemon) Run(ctx context.Context, workDir string) error {
	// The initial agent/git/lock-table setup and the extension host's
	// module load are independent of each other: run them concurrently
	// rather than paying both startup costs in sequence.
	g, gctx := errgroup.WithContext(ctx)
	var setupErr error
	g.Go(func() error {
		setupErr = d.host.SetupAgent(gctx, workDir, filepath.Join(workDir, d.cfg.TasksFile))
		return nil
	})
	g.Go(func() error {
		d.ext.LoadAll(gctx)
		return nil
	})
	_ = g.Wait()

	if setupErr != nil && d.log != nil {
		d.log.Warn("daemon: initial workspace setup failed, watchers disabled until projectCtx.switch succeeds", "error", setupErr)
	}

	if setupErr == nil {
		store, _ := d.host.TasksStore()
		mgr, _ := d.host.Manager()
		coord, _ := d.host.Coordinator()

		taskw, err := taskwatcher.New(
			filepath.Join(workDir, d.cfg.TasksFile),
			store,
			d.host,
			coord,
			mgr,
			d.bus,
			d.log,
			"",
			d.cfg.DefaultModel,
		)
		if err != nil {
			return fmt.Errorf("daemon: building task watcher: %w", err)
		}
		d.taskw = taskw

		journalw, err := journalwatcher.New(filepath.Join(workDir, d.cfg.JournalDir), &journalMainAgentAdapter{host: d.host}, d.log)
		if err != nil {
			return fmt.Errorf("daemon: building journal watcher: %w", err)
		}
		d.journalw = journalw

		d.taskw.Start(ctx)
		d.journalw.Start(ctx)
	}

	d.ext.Start(ctx)
	d.hb.Start(ctx)

	if err := d.server.Start(ctx); err != nil {
		return fmt.Errorf("daemon: starting transport server: %w", err)
	}

	if err := paths.WritePidFile(d.paths.PidFile, d.paths.SocketPath, Version); err != nil && d.log != nil {
		d.log.Warn("daemon: failed to write pid file", "error", err)
	}

	if d.log != nil {
		d.log.Info("daemon: ready", "socket", d.paths.SocketPath, "workdir", workDir)
	}

	var reason string
	select {
	case reason = <-d.shutdownCh:
	case <-ctx.Done():
		reason = "context canceled"
	}

	return d.teardown(reason)
}

// teardown runs the fixed shutdown sequence: stop watchers, stop
// heartbeat, dispose agents, stop server, delete PID file.
func (d *Daemon) teardown(reason string) error {
	if d.log != nil {
		d.log.Info("daemon: shutting down", "reason", reason)
	}

	if d.taskw != nil {
		d.taskw.Stop()
	}
	if d.journalw != nil {
		d.journalw.Stop()
	}

	d.hb.Stop()
	d.ext.Stop()
	d.host.Close()
	d.apiKeys.DestroyAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil && d.log != nil {
		d.log.Warn("daemon: transport shutdown error", "error", err)
	}

	if err := d.memDB.Close(); err != nil && d.log != nil {
		d.log.Warn("daemon: memory store close error", "error", err)
	}

	if err := paths.RemovePidFile(d.paths.PidFile); err != nil && d.log != nil {
		d.log.Warn("daemon: failed to remove pid file", "error", err)
	}

	return nil
}

// heartbeatMainAgentAdapter and journalMainAgentAdapter both resolve
// AgentHost's current main session, which already satisfies each
// package's narrow MainAgent interface structurally — but the two
// provider interfaces name distinct result types, so each needs its
// own adapter rather than sharing one method.
type heartbeatMainAgentAdapter struct {
	host *agenthost.AgentHost
}

func (a *heartbeatMainAgentAdapter) MainAgent() (heartbeat.MainAgent, bool) {
	sess, ok := a.host.MainSession()
	if !ok {
		return nil, false
	}
	return sess, true
}

type journalMainAgentAdapter struct {
	host *agenthost.AgentHost
}

func (a *journalMainAgentAdapter) MainAgent() (journalwatcher.MainAgent, bool) {
	sess, ok := a.host.MainSession()
	if !ok {
		return nil, false
	}
	return sess, true
}

// statsAdapter combines AgentHost's streaming/subagent counts with the
// transport server's live connection count into heartbeat.Stats.
type statsAdapter struct {
	d *Daemon
}

func (a *statsAdapter) Stats() heartbeat.Stats {
	streaming, activeSubagents := a.d.host.Stats()
	connected := 0
	if a.d.server != nil {
		connected = a.d.server.ClientCount()
	}
	return heartbeat.Stats{
		Streaming:        streaming,
		ActiveSubagents:  activeSubagents,
		ConnectedClients: connected,
	}
}
