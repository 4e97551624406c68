// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rpcrouter

import (
	"context"
	"encoding/json"
	"path/filepath"

	"github.com/tau-assistant/tau-daemon/internal/rpctransport"
)

// agentHandlers covers the main agent session: agent.*, session.*,
// model.*, and thinking.* all operate on the one AgentHost-owned main
// session rather than a spawned subagent.
func (r *Router) agentHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"agent.prompt":     r.agentPrompt,
		"agent.abort":      r.agentAbort,
		"agent.history":    r.agentHistory,
		"agent.status":     r.agentStatus,
		"session.status":   r.sessionStatus,
		"session.workdir":  r.sessionWorkdir,
		"session.restart":  r.sessionRestart,
		"model.get":        r.modelGet,
		"model.set":        r.modelSet,
		"thinking.get":     r.thinkingGet,
		"thinking.set":     r.thinkingSet,
	}
}

func (r *Router) agentPrompt(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	if rerr := r.awaitReady(ctx); rerr != nil {
		return nil, rerr
	}
	p, err := bindParams(raw, "text")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	text, ok := paramString(p, "text")
	if !ok {
		return nil, invalidParams("missing required param \"text\"")
	}

	sess, ok := r.host.MainSession()
	if !ok {
		return recoverableError("no main agent session is active"), nil
	}

	if sess.IsStreaming() {
		if err := sess.Steer(ctx, text); err != nil {
			return recoverableError(err.Error()), nil
		}
		return map[string]any{"accepted": true, "steered": true}, nil
	}
	if err := sess.Prompt(ctx, text); err != nil {
		return recoverableError(err.Error()), nil
	}
	return map[string]any{"accepted": true, "steered": false}, nil
}

func (r *Router) agentAbort(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	if rerr := r.awaitReady(ctx); rerr != nil {
		return nil, rerr
	}
	sess, ok := r.host.MainSession()
	if !ok {
		return recoverableError("no main agent session is active"), nil
	}
	sess.Abort()
	return map[string]any{"aborted": true}, nil
}

func (r *Router) agentHistory(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	if rerr := r.awaitReady(ctx); rerr != nil {
		return nil, rerr
	}
	sess, ok := r.host.MainSession()
	if !ok {
		return recoverableError("no main agent session is active"), nil
	}
	return map[string]any{"history": sess.History()}, nil
}

func (r *Router) agentStatus(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	if rerr := r.awaitReady(ctx); rerr != nil {
		return nil, rerr
	}
	streaming, activeSubagents := r.host.Stats()
	_, hasSession := r.host.MainSession()
	return map[string]any{
		"streaming":       streaming,
		"activeSubagents": activeSubagents,
		"hasSession":      hasSession,
	}, nil
}

func (r *Router) sessionStatus(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	select {
	case <-r.host.Ready():
	default:
		return map[string]any{"ready": false, "workDir": r.host.WorkDir()}, nil
	}
	readyErr := r.host.ReadyErr()
	out := map[string]any{"ready": true, "workDir": r.host.WorkDir()}
	if readyErr != nil {
		out["error"] = readyErr.Error()
	}
	return out, nil
}

func (r *Router) sessionWorkdir(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	return map[string]any{"workDir": r.host.WorkDir()}, nil
}

func (r *Router) sessionRestart(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	p, err := bindParams(raw, "workDir")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	workDir := paramStringOr(p, "workDir", r.host.WorkDir())
	tasksPath := filepath.Join(workDir, r.cfg.TasksFile)

	if err := r.host.SetupAgent(ctx, workDir, tasksPath); err != nil {
		return recoverableError(err.Error()), nil
	}
	return map[string]any{"workDir": workDir}, nil
}

func (r *Router) modelGet(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]any{"model": r.currentModel}, nil
}

func (r *Router) modelSet(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	p, err := bindParams(raw, "model")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	model, ok := paramString(p, "model")
	if !ok || model == "" {
		return nil, invalidParams("missing required param \"model\"")
	}
	r.mu.Lock()
	r.currentModel = model
	r.mu.Unlock()
	return map[string]any{"model": model}, nil
}

func (r *Router) thinkingGet(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	r.mu.Lock()
	silent := r.silent
	r.mu.Unlock()
	return map[string]any{"silent": silent}, nil
}

func (r *Router) thinkingSet(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	if rerr := r.awaitReady(ctx); rerr != nil {
		return nil, rerr
	}
	p, err := bindParams(raw, "silent")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	silent, ok := paramBool(p, "silent")
	if !ok {
		return nil, invalidParams("missing required param \"silent\"")
	}

	r.mu.Lock()
	r.silent = silent
	r.mu.Unlock()

	if sess, ok := r.host.MainSession(); ok {
		sess.SetSilent(silent)
	}
	return map[string]any{"silent": silent}, nil
}
