// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config defines the daemon's configuration schema and loading.
//
// The configuration is stored at ~/.tau/daemon/config.yaml and is
// created automatically (with defaults) on first run.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the daemon reads at startup. Zero values
// are replaced by Defaults() during Load.
type Config struct {
	// LockTimeout is the default FileLockTable per-lock timeout (L4).
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// SubagentCap is the hard cap on concurrently live subagents (L6).
	SubagentCap int `yaml:"subagent_cap"`

	// HeartbeatLivenessInterval records the liveness ping period (L11).
	// The heartbeat package does not read it; its ping period is a fixed
	// 5s constant.
	HeartbeatLivenessInterval time.Duration `yaml:"heartbeat_liveness_interval"`

	// HeartbeatScheduledMinInterval records the scheduled-tick floor
	// (L11). The heartbeat package does not read it; its floor is a
	// fixed 60s constant.
	HeartbeatScheduledMinInterval time.Duration `yaml:"heartbeat_scheduled_min_interval"`

	// TasksFile is the markdown tasks file the TaskWatcher (L9) follows,
	// relative to the current workspace.
	TasksFile string `yaml:"tasks_file"`

	// JournalDir is the directory of markdown journal files the
	// JournalWatcher (L10) follows.
	JournalDir string `yaml:"journal_dir"`

	// ScheduledTaskFile is read by the heartbeat's scheduled tick (L11).
	ScheduledTaskFile string `yaml:"scheduled_task_file"`

	// Extensions configures the sandboxed extension host (L12).
	Extensions ExtensionsConfig `yaml:"extensions"`

	// RecoverBufferSize bounds the notification ring buffer used by
	// daemon.recover; one buffer is shared by all clients.
	RecoverBufferSize int `yaml:"recover_buffer_size"`

	// DefaultModel names the model AgentHost (L8) uses for the main
	// session and any subagent/GAL session that doesn't override it via
	// model.set.
	DefaultModel string `yaml:"default_model"`

	// RPCRateLimitPerSecond caps sustained inbound JSON-RPC requests per
	// connected client; RPCRateBurst allows a short burst above that
	// rate before requests are rejected with a rate-limited error.
	RPCRateLimitPerSecond float64 `yaml:"rpc_rate_limit_per_second"`
	RPCRateBurst          int     `yaml:"rpc_rate_burst"`

	// HeartbeatLivenessPingTimeout bounds how long the websocket
	// transport waits for a pong before considering a client dead.
	HeartbeatLivenessPingTimeout time.Duration `yaml:"heartbeat_liveness_ping_timeout"`
}

// ExtensionsConfig tunes the ExtensionHost.
type ExtensionsConfig struct {
	// AllowBash gates the worker->host bash convenience channel. Off by
	// default: hosts may refuse it entirely if local policy forbids
	// shelling out from an extension.
	AllowBash bool `yaml:"allow_bash"`

	// ToolCallTimeout bounds a single tool_call round trip.
	ToolCallTimeout time.Duration `yaml:"tool_call_timeout"`

	// RegisterTimeout bounds how long a worker has to send `register`
	// after `init`.
	RegisterTimeout time.Duration `yaml:"register_timeout"`
}

// Defaults returns the configuration used when no file exists, and the
// values substituted for any zero field found in a loaded file.
func Defaults() Config {
	return Config{
		LockTimeout:                   60 * time.Second,
		SubagentCap:                   10,
		HeartbeatLivenessInterval:     5 * time.Second,
		HeartbeatScheduledMinInterval: 60 * time.Second,
		TasksFile:                     "tasks.md",
		JournalDir:                    "journal",
		ScheduledTaskFile:             "scheduled-task.md",
		RecoverBufferSize:             256,
		DefaultModel:                  "gpt-4o",
		RPCRateLimitPerSecond:         50,
		RPCRateBurst:                  100,
		HeartbeatLivenessPingTimeout:  15 * time.Second,
		Extensions: ExtensionsConfig{
			AllowBash:       false,
			ToolCallTimeout: 30 * time.Second,
			RegisterTimeout: 5 * time.Second,
		},
	}
}

// Load reads the YAML config at path, applying defaults for any zero
// field. A missing file is not an error: defaults are applied and
// written back to path so the operator has something to edit.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, err
		}
		if err := Save(path, cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories as
// needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = d.LockTimeout
	}
	if cfg.SubagentCap <= 0 {
		cfg.SubagentCap = d.SubagentCap
	}
	if cfg.HeartbeatLivenessInterval <= 0 {
		cfg.HeartbeatLivenessInterval = d.HeartbeatLivenessInterval
	}
	if cfg.HeartbeatScheduledMinInterval <= 0 {
		cfg.HeartbeatScheduledMinInterval = d.HeartbeatScheduledMinInterval
	}
	if cfg.TasksFile == "" {
		cfg.TasksFile = d.TasksFile
	}
	if cfg.JournalDir == "" {
		cfg.JournalDir = d.JournalDir
	}
	if cfg.ScheduledTaskFile == "" {
		cfg.ScheduledTaskFile = d.ScheduledTaskFile
	}
	if cfg.RecoverBufferSize <= 0 {
		cfg.RecoverBufferSize = d.RecoverBufferSize
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = d.DefaultModel
	}
	if cfg.RPCRateLimitPerSecond <= 0 {
		cfg.RPCRateLimitPerSecond = d.RPCRateLimitPerSecond
	}
	if cfg.RPCRateBurst <= 0 {
		cfg.RPCRateBurst = d.RPCRateBurst
	}
	if cfg.HeartbeatLivenessPingTimeout <= 0 {
		cfg.HeartbeatLivenessPingTimeout = d.HeartbeatLivenessPingTimeout
	}
	if cfg.Extensions.ToolCallTimeout <= 0 {
		cfg.Extensions.ToolCallTimeout = d.Extensions.ToolCallTimeout
	}
	if cfg.Extensions.RegisterTimeout <= 0 {
		cfg.Extensions.RegisterTimeout = d.Extensions.RegisterTimeout
	}
}
