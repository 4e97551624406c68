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
)

func (r *Router) heartbeatHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"heartbeat.get":         r.heartbeatGet,
		"heartbeat.setEnabled":  r.heartbeatSetEnabled,
		"heartbeat.setInterval": r.heartbeatSetInterval,
	}
}

func (r *Router) heartbeatGet(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	if r.hb == nil {
		return recoverableError("heartbeat is not configured"), nil
	}
	return map[string]any{"state": r.hb.GetState()}, nil
}

func (r *Router) heartbeatSetEnabled(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	if r.hb == nil {
		return recoverableError("heartbeat is not configured"), nil
	}
	p, err := bindParams(raw, "enabled")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	enabled, ok := paramBool(p, "enabled")
	if !ok {
		return nil, invalidParams("missing required param \"enabled\"")
	}
	r.hb.SetEnabled(ctx, enabled)
	return map[string]any{"state": r.hb.GetState()}, nil
}

func (r *Router) heartbeatSetInterval(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	if r.hb == nil {
		return recoverableError("heartbeat is not configured"), nil
	}
	p, err := bindParams(raw, "seconds")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	seconds, ok := paramInt(p, "seconds")
	if !ok {
		return nil, invalidParams("missing required param \"seconds\"")
	}
	r.hb.SetInterval(ctx, seconds)
	return map[string]any{"state": r.hb.GetState()}, nil
}
