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
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tau-assistant/tau-daemon/internal/llmhost"
	"github.com/tau-assistant/tau-daemon/internal/subagent"
)

// toolExecutorFunc adapts a plain function to llmhost.ToolExecutor,
// mirroring the standard library's http.HandlerFunc idiom.
type toolExecutorFunc func(ctx context.Context, name, argsJSON string) (string, error)

func (f toolExecutorFunc) Execute(ctx context.Context, name, argsJSON string) (string, error) {
	return f(ctx, name, argsJSON)
}

// convertTools turns a subagent-style tool table (name/description/
// schema plus a bound Execute func) into the llmhost shape: a plain
// tool-spec slice for the model, and a single Executor that dispatches
// by name. Both AgentHost's own main-session tools and every spawned
// subagent's tools go through this.
func convertTools(specs []subagent.ToolSpec) ([]llmhost.ToolSpec, llmhost.ToolExecutor) {
	llmTools := make([]llmhost.ToolSpec, 0, len(specs))
	byName := make(map[string]subagent.ToolSpec, len(specs))
	for _, s := range specs {
		llmTools = append(llmTools, llmhost.ToolSpec{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.Parameters,
		})
		byName[s.Name] = s
	}

	exec := toolExecutorFunc(func(ctx context.Context, name, argsJSON string) (string, error) {
		spec, ok := byName[name]
		if !ok {
			return "", fmt.Errorf("agenthost: unknown tool %q", name)
		}
		return spec.Execute(ctx, argsJSON)
	})
	return llmTools, exec
}

// openAIClient builds a client from the stored "openai" API key. A nil
// return means no key is configured yet; sessions built with a nil
// client report errors the first time a turn is actually prompted,
// rather than refusing to be constructed at all (apiKeys.set can
// arrive after AgentHost has already set up its first generation).
func (h *AgentHost) openAIClient() *openai.Client {
	if h.apiKeys == nil {
		return nil
	}
	key, ok := h.apiKeys.Get("openai")
	if !ok {
		return nil
	}
	return openai.NewClient(key)
}

// buildLLMSession constructs one llmhost session bound to id/name,
// wired with exactly the tools passed in (the main session passes its
// own tool table; subagents pass the manager-built set).
func (h *AgentHost) buildLLMSession(id, name, systemPrompt, model string, tools []subagent.ToolSpec) llmhost.Session {
	if model == "" {
		model = h.cfg.DefaultModel
	}
	llmTools, exec := convertTools(tools)
	return llmhost.NewOpenAISession(h.openAIClient(), llmhost.Config{
		ID:           id,
		Name:         name,
		Model:        model,
		SystemPrompt: systemPrompt,
		Tools:        llmTools,
		Executor:     exec,
	})
}

// buildSessionFactory returns the SubagentManager session factory: it
// builds a fresh llmhost session per spawn and adapts it into
// subagent.Session.
func (h *AgentHost) buildSessionFactory() subagent.SessionFactory {
	return func(id string, cfg subagent.Config, tools []subagent.ToolSpec) subagent.Session {
		sess := h.buildLLMSession(id, cfg.Name, cfg.SystemPrompt, cfg.Model, tools)
		return subagent.WrapLLMSession(sess)
	}
}
