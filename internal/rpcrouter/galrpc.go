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

	"github.com/tau-assistant/tau-daemon/internal/gal"
	"github.com/tau-assistant/tau-daemon/internal/rpctransport"
)

// galHandlers are daemon-only: gal.status and gal.locks are not
// proxied from any client UI channel per the RPC router's contract,
// they exist for operator/diagnostic tooling. gal.submit is the one
// client-facing entry point that actually drives the coordinator.
func (r *Router) galHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"gal.status": r.galStatus,
		"gal.locks":  r.galLocks,
		"gal.submit": r.galSubmit,
	}
}

func (r *Router) coordinator(ctx context.Context) (*gal.Coordinator, *rpctransport.Error) {
	if rerr := r.awaitReady(ctx); rerr != nil {
		return nil, rerr
	}
	c, ok := r.host.Coordinator()
	if !ok {
		return nil, &rpctransport.Error{Code: rpctransport.CodeAgentNotReady, Message: "no GAL coordinator for the current workspace"}
	}
	return c, nil
}

func (r *Router) galStatus(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	c, rerr := r.coordinator(ctx)
	if rerr != nil {
		return nil, rerr
	}
	return map[string]any{"status": c.GetStatus(), "workers": c.GetWorkers()}, nil
}

func (r *Router) galLocks(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	c, rerr := r.coordinator(ctx)
	if rerr != nil {
		return nil, rerr
	}
	return map[string]any{"locks": c.GetLocks()}, nil
}

func (r *Router) galSubmit(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	c, rerr := r.coordinator(ctx)
	if rerr != nil {
		return nil, rerr
	}
	p, err := bindParams(raw, "tasks", "systemPrompt")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	var galTasks []gal.Task
	if err := paramRaw(p, "tasks", &galTasks); err != nil {
		return nil, invalidParams(err.Error())
	}
	systemPrompt, _ := paramString(p, "systemPrompt")

	r.mu.Lock()
	model := r.currentModel
	r.mu.Unlock()

	statuses, err := c.SubmitTasks(ctx, galTasks, systemPrompt, model)
	if err != nil {
		return recoverableError(err.Error()), nil
	}
	return map[string]any{"workers": statuses}, nil
}
