// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tau-assistant/tau-daemon/internal/config"
	"github.com/tau-assistant/tau-daemon/internal/daemon"
	"github.com/tau-assistant/tau-daemon/internal/paths"
	"github.com/tau-assistant/tau-daemon/pkg/logging"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

var (
	socketPath string
	workDir    string
	logDir     string

	rootCmd = &cobra.Command{
		Use:   "daemon",
		Short: "Run the local workspace assistant daemon",
		Long: `daemon is a long-lived background process: it serves a JSON-RPC
socket for client UIs, hosts the main agent session and its subagents,
watches the workspace's task and journal files, and coordinates file
locks across concurrently running agents.`,
		RunE: runDaemon,
	}
)

func init() {
	rootCmd.Flags().StringVar(&socketPath, "socket-path", "", "override the daemon's IPC socket path (default: ~/.tau/daemon/tau-daemon.sock)")
	rootCmd.Flags().StringVar(&workDir, "workdir", "", "initial workspace directory (default: current directory)")
	rootCmd.Flags().StringVar(&logDir, "log-dir", "", "directory for JSON log files, in addition to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "daemon:", err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	p, err := paths.Resolve(socketPath)
	if err != nil {
		return fmt.Errorf("resolving daemon paths: %w", err)
	}

	if stale, rec, err := paths.CheckStale(p.PidFile); err == nil && stale {
		fmt.Fprintf(os.Stderr, "daemon: removing stale pid file for dead process %d\n", rec.PID)
		_ = paths.RemovePidFile(p.PidFile)
	}

	log := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  logDir,
		Service: "tau-daemon",
	})
	defer log.Close()

	cfg, err := config.Load(filepath.Join(p.DataDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	daemon.Version = version
	d, err := daemon.New(p, cfg, log)
	if err != nil {
		return fmt.Errorf("building daemon: %w", err)
	}

	dir := workDir
	if dir == "" {
		dir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return d.Run(ctx, dir)
}
