// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tau-assistant/tau-daemon/internal/llmhost"
	"github.com/tau-assistant/tau-daemon/internal/messagebus"
)

// RefinementNotifier receives request_input tool invocations so
// whatever owns the task list can mark the task `refinement` and
// broadcast the updated set. Kept separate from TaskNotifier because
// refinement and completion are distinct task-state transitions.
type RefinementNotifier interface {
	OnRefinement(taskID, questions string)
}

// SetRefinementNotifier wires the request_input tool's sink.
func (m *Manager) SetRefinementNotifier(n RefinementNotifier) { m.refinement = n }

// SetBusMessageListener registers the external callback mirrored
// every time the message_agent tool delivers on the bus (used to
// stream daemon.agent.event-style notifications out to RPC clients).
// Direct SendAgentMessage calls do not invoke it; they mirror only
// through their own onBusMessage argument.
func (m *Manager) SetBusMessageListener(fn func(fromID, toID, content string)) {
	m.onBusMessageOut = fn
}

// buildToolsForAgent returns the tool set injected into every spawned
// subagent: message_agent, wait_for_agents, list_agents, request_input,
// and (when depth allows and the caller set CanSpawn) spawn_agents.
func (m *Manager) buildToolsForAgent(id, name string, canSpawn bool) []ToolSpec {
	tools := []ToolSpec{
		m.messageAgentTool(id),
		m.waitForAgentsTool(),
		m.listAgentsTool(),
		m.requestInputTool(id),
	}
	if canSpawn {
		tools = append(tools, m.spawnAgentsTool(id))
	}
	return tools
}

// buildMainTools is the main agent's tool set: everything a subagent
// gets except spawn_agents, which only the SubagentManager hierarchy
// depth-gate may grant.
func (m *Manager) buildMainTools() []ToolSpec {
	return []ToolSpec{
		m.messageAgentTool("main"),
		m.waitForAgentsTool(),
		m.listAgentsTool(),
		m.requestInputTool("main"),
	}
}

func (m *Manager) messageAgentTool(selfID string) ToolSpec {
	return ToolSpec{
		Name:        "message_agent",
		Description: "Send a message to another agent session by name, id, or '*' for broadcast.",
		Parameters: llmhost.ToolParamsSchema(map[string]any{
			"to":      map[string]any{"type": "string"},
			"content": map[string]any{"type": "string"},
		}, []string{"to", "content"}),
		Execute: func(ctx context.Context, argsJSON string) (string, error) {
			var args struct {
				To      string `json:"to"`
				Content string `json:"content"`
			}
			if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
				return "", fmt.Errorf("message_agent: %w", err)
			}
			ack := m.SendAgentMessage(selfID, args.To, args.Content, func(delivered messagebus.Message) {
				if m.onBusMessageOut != nil {
					m.onBusMessageOut(delivered.FromID, delivered.ToID, delivered.Content)
				}
			})
			return ack, nil
		},
	}
}

func (m *Manager) waitForAgentsTool() ToolSpec {
	return ToolSpec{
		Name:        "wait_for_agents",
		Description: "Block until every named agent (or all, via '*') is idle, or until timeoutSeconds elapses (default 300).",
		Parameters: llmhost.ToolParamsSchema(map[string]any{
			"targets":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"timeoutSeconds": map[string]any{"type": "integer"},
		}, []string{"targets"}),
		Execute: func(ctx context.Context, argsJSON string) (string, error) {
			var args struct {
				Targets        []string `json:"targets"`
				TimeoutSeconds int      `json:"timeoutSeconds"`
			}
			if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
				return "", fmt.Errorf("wait_for_agents: %w", err)
			}
			timeout := 300 * time.Second
			if args.TimeoutSeconds > 0 {
				timeout = time.Duration(args.TimeoutSeconds) * time.Second
			}
			return m.waitForAgents(ctx, args.Targets, timeout)
		},
	}
}

// waitForAgents polls every 1s until every target is idle or timeout
// elapses. A single "*" target means "all currently live sessions".
func (m *Manager) waitForAgents(ctx context.Context, targets []string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		if m.allIdle(targets) {
			return "all agents idle", nil
		}
		if time.Now().After(deadline) {
			return "timed out waiting for agents to idle", nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Manager) allIdle(targets []string) bool {
	if len(targets) == 1 && targets[0] == "*" {
		for _, st := range m.ListAll() {
			if st.Streaming {
				return false
			}
		}
		return true
	}
	for _, t := range targets {
		id := m.resolveName(t)
		if st, ok := m.GetStatus(id); ok && st.Streaming {
			return false
		}
	}
	return true
}

func (m *Manager) listAgentsTool() ToolSpec {
	return ToolSpec{
		Name:        "list_agents",
		Description: "List every currently live agent session and its status.",
		Parameters:  llmhost.ToolParamsSchema(map[string]any{}, nil),
		Execute: func(ctx context.Context, argsJSON string) (string, error) {
			data, err := json.Marshal(m.ListAll())
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
	}
}

// requestInputTool marks the caller's associated task `refinement`,
// captures the caller's questions as the task result, detaches the
// subagent (it is closed without running the ordinary completion
// bridge), and notifies the refinement sink.
func (m *Manager) requestInputTool(selfID string) ToolSpec {
	return ToolSpec{
		Name:        "request_input",
		Description: "Pause the current task and ask the user one or more clarifying questions.",
		Parameters: llmhost.ToolParamsSchema(map[string]any{
			"questions": map[string]any{"type": "string"},
		}, []string{"questions"}),
		Execute: func(ctx context.Context, argsJSON string) (string, error) {
			var args struct {
				Questions string `json:"questions"`
			}
			if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
				return "", fmt.Errorf("request_input: %w", err)
			}

			m.mu.Lock()
			e, ok := m.sessions[selfID]
			var taskID string
			if ok {
				taskID = e.status.TaskID
			}
			m.mu.Unlock()

			if taskID != "" && m.refinement != nil {
				m.refinement.OnRefinement(taskID, args.Questions)
			}
			if ok {
				m.finishSession(selfID)
			}
			return "input requested; task marked for refinement", nil
		},
	}
}

func (m *Manager) spawnAgentsTool(selfID string) ToolSpec {
	return ToolSpec{
		Name:        "spawn_agents",
		Description: "Spawn one or more subagents to work on sub-tasks in parallel.",
		Parameters: llmhost.ToolParamsSchema(map[string]any{
			"configs": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":         map[string]any{"type": "string"},
						"systemPrompt": map[string]any{"type": "string"},
						"task":         map[string]any{"type": "string"},
					},
				},
			},
		}, []string{"configs"}),
		Execute: func(ctx context.Context, argsJSON string) (string, error) {
			var args struct {
				Configs []struct {
					Name         string `json:"name"`
					SystemPrompt string `json:"systemPrompt"`
					Task         string `json:"task"`
				} `json:"configs"`
			}
			if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
				return "", fmt.Errorf("spawn_agents: %w", err)
			}

			depth := m.depthOf(selfID) + 1
			configs := make([]Config, 0, len(args.Configs))
			for _, c := range args.Configs {
				configs = append(configs, Config{Name: c.Name, SystemPrompt: c.SystemPrompt, Task: c.Task, CanSpawn: true})
			}
			infos, err := m.Spawn(ctx, configs, depth)
			if err != nil {
				return "", err
			}
			data, err := json.Marshal(infos)
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
	}
}

func (m *Manager) depthOf(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok {
		return e.depth
	}
	return 0
}
