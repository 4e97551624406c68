// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agenthost

import (
	"context"
	"encoding/json"

	"github.com/tau-assistant/tau-daemon/internal/llmhost"
	"github.com/tau-assistant/tau-daemon/internal/subagent"
)

// mainAgentID is the fixed identity the main session uses when it
// claims file locks itself, distinguishing it from any spawned
// subagent in FileLockTable's bookkeeping.
const mainAgentID = "main"

// mainToolSpecs builds the main session's own tool table: spawning
// subagents directly (outside GAL's lock-aware submitTasks path) and
// the same claim/release/check primitives GalCoordinator hands to its
// workers, bound to mainAgentID instead of a worker id.
func (h *AgentHost) mainToolSpecs() []subagent.ToolSpec {
	return []subagent.ToolSpec{
		{
			Name:        "spawn_subagent",
			Description: "Spawn a subagent to work on a task concurrently.",
			Parameters: llmhost.ToolParamsSchema(map[string]any{
				"name":       map[string]any{"type": "string"},
				"task":       map[string]any{"type": "string"},
				"persistent": map[string]any{"type": "boolean"},
				"canSpawn":   map[string]any{"type": "boolean"},
			}, []string{"name", "task"}),
			Execute: func(ctx context.Context, argsJSON string) (string, error) {
				var args struct {
					Name       string
					Task       string
					Persistent bool
					CanSpawn   bool
				}
				if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
					return "", err
				}
				mgr, ok := h.Manager()
				if !ok {
					return `{"error":"no agent set up"}`, nil
				}
				statuses, err := mgr.Spawn(ctx, []subagent.Config{{
					Name:       args.Name,
					Task:       args.Task,
					Persistent: args.Persistent,
					CanSpawn:   args.CanSpawn,
				}}, 0)
				if err != nil {
					return "", err
				}
				data, _ := json.Marshal(statuses)
				return string(data), nil
			},
		},
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
				table, ok := h.LockTable()
				if !ok {
					return `{"error":"no agent set up"}`, nil
				}
				res := table.Claim(mainAgentID, "main", args.Path, args.Purpose, 0)
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
				table, ok := h.LockTable()
				if !ok {
					return `{"error":"no agent set up"}`, nil
				}
				data, _ := json.Marshal(table.Release(mainAgentID, args.Path))
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
				table, ok := h.LockTable()
				if !ok {
					return `{"error":"no agent set up"}`, nil
				}
				data, _ := json.Marshal(table.Check(args.Path))
				return string(data), nil
			},
		},
		{
			Name:        "git_status",
			Description: "Get the current branch and working-tree status.",
			Parameters:  llmhost.ToolParamsSchema(map[string]any{}, nil),
			Execute: func(ctx context.Context, argsJSON string) (string, error) {
				gv, ok := h.GitView()
				if !ok {
					return `{"error":"no agent set up"}`, nil
				}
				st, err := gv.Status(ctx)
				if err != nil {
					return "", err
				}
				data, _ := json.Marshal(st)
				return string(data), nil
			},
		},
		{
			Name:        "git_diff",
			Description: "Get the unified diff for the working tree, optionally staged-only or scoped to one path.",
			Parameters: llmhost.ToolParamsSchema(map[string]any{
				"staged": map[string]any{"type": "boolean"},
				"path":   map[string]any{"type": "string"},
			}, nil),
			Execute: func(ctx context.Context, argsJSON string) (string, error) {
				var args struct {
					Staged bool
					Path   string
				}
				if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
					return "", err
				}
				gv, ok := h.GitView()
				if !ok {
					return `{"error":"no agent set up"}`, nil
				}
				changes, err := gv.Diff(ctx, args.Staged, args.Path)
				if err != nil {
					return "", err
				}
				data, _ := json.Marshal(changes)
				return string(data), nil
			},
		},
	}
}
