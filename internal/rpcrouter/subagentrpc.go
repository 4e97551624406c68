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

	"github.com/tau-assistant/tau-daemon/internal/rpctransport"
	"github.com/tau-assistant/tau-daemon/internal/subagent"
)

func (r *Router) subagentHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"subagent.spawn":   r.subagentSpawn,
		"subagent.prompt":  r.subagentPrompt,
		"subagent.abort":   r.subagentAbort,
		"subagent.close":   r.subagentClose,
		"subagent.list":    r.subagentList,
		"subagent.status":  r.subagentStatus,
		"subagent.history": r.subagentHistory,
		"subagent.message": r.subagentMessage,
	}
}

func (r *Router) subagentManager(ctx context.Context) (*subagent.Manager, *rpctransport.Error) {
	if rerr := r.awaitReady(ctx); rerr != nil {
		return nil, rerr
	}
	mgr, ok := r.host.Manager()
	if !ok {
		return nil, &rpctransport.Error{Code: rpctransport.CodeAgentNotReady, Message: "no subagent manager for the current workspace"}
	}
	return mgr, nil
}

func (r *Router) subagentSpawn(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	mgr, rerr := r.subagentManager(ctx)
	if rerr != nil {
		return nil, rerr
	}
	p, err := bindParams(raw, "name", "systemPrompt", "task")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	name, _ := paramString(p, "name")
	systemPrompt, _ := paramString(p, "systemPrompt")
	task, _ := paramString(p, "task")
	canSpawn, _ := paramBool(p, "canSpawn")

	r.mu.Lock()
	model := r.currentModel
	r.mu.Unlock()

	cfg := subagent.Config{
		Name:         name,
		SystemPrompt: systemPrompt,
		Task:         task,
		CanSpawn:     canSpawn,
		Model:        model,
	}
	statuses, err := mgr.Spawn(ctx, []subagent.Config{cfg}, 0)
	if err != nil {
		return recoverableError(err.Error()), nil
	}
	return map[string]any{"subagents": statuses}, nil
}

func (r *Router) subagentPrompt(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	mgr, rerr := r.subagentManager(ctx)
	if rerr != nil {
		return nil, rerr
	}
	p, err := bindParams(raw, "id", "text")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	id, ok := paramString(p, "id")
	if !ok {
		return nil, invalidParams("missing required param \"id\"")
	}
	text, _ := paramString(p, "text")

	if err := mgr.Prompt(ctx, id, text); err != nil {
		return recoverableError(err.Error()), nil
	}
	return map[string]any{"accepted": true}, nil
}

func (r *Router) subagentAbort(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	mgr, rerr := r.subagentManager(ctx)
	if rerr != nil {
		return nil, rerr
	}
	p, err := bindParams(raw, "id")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	id, ok := paramString(p, "id")
	if !ok {
		return nil, invalidParams("missing required param \"id\"")
	}
	if err := mgr.Abort(id); err != nil {
		return recoverableError(err.Error()), nil
	}
	return map[string]any{"aborted": true}, nil
}

func (r *Router) subagentClose(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	mgr, rerr := r.subagentManager(ctx)
	if rerr != nil {
		return nil, rerr
	}
	p, err := bindParams(raw, "id")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	id, ok := paramString(p, "id")
	if !ok {
		return nil, invalidParams("missing required param \"id\"")
	}
	mgr.Close(id)
	return map[string]any{"closed": true}, nil
}

func (r *Router) subagentList(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	mgr, rerr := r.subagentManager(ctx)
	if rerr != nil {
		return nil, rerr
	}
	return map[string]any{"subagents": mgr.ListAll()}, nil
}

func (r *Router) subagentStatus(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	mgr, rerr := r.subagentManager(ctx)
	if rerr != nil {
		return nil, rerr
	}
	p, err := bindParams(raw, "id")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	id, ok := paramString(p, "id")
	if !ok {
		return nil, invalidParams("missing required param \"id\"")
	}
	st, found := mgr.GetStatus(id)
	if !found {
		return recoverableError("no subagent with id " + id), nil
	}
	return map[string]any{"status": st}, nil
}

func (r *Router) subagentHistory(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	mgr, rerr := r.subagentManager(ctx)
	if rerr != nil {
		return nil, rerr
	}
	p, err := bindParams(raw, "id")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	id, ok := paramString(p, "id")
	if !ok {
		return nil, invalidParams("missing required param \"id\"")
	}
	hist, err := mgr.GetHistory(id)
	if err != nil {
		return recoverableError(err.Error()), nil
	}
	return map[string]any{"history": hist}, nil
}

func (r *Router) subagentMessage(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	mgr, rerr := r.subagentManager(ctx)
	if rerr != nil {
		return nil, rerr
	}
	p, err := bindParams(raw, "from", "to", "content")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	from, _ := paramString(p, "from")
	to, ok := paramString(p, "to")
	if !ok {
		return nil, invalidParams("missing required param \"to\"")
	}
	content, _ := paramString(p, "content")

	result := mgr.SendAgentMessage(from, to, content, nil)
	return map[string]any{"result": result}, nil
}
