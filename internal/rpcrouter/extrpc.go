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

func (r *Router) extHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"ext.list":     r.extList,
		"ext.callTool": r.extCallTool,
	}
}

func (r *Router) extList(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	if r.ext == nil {
		return map[string]any{"extensions": []any{}}, nil
	}
	return map[string]any{"extensions": r.ext.List()}, nil
}

func (r *Router) extCallTool(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	if r.ext == nil {
		return recoverableError("no extensions are loaded"), nil
	}
	p, err := bindParams(raw, "extensionId", "name", "params")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	extensionID, ok := paramString(p, "extensionId")
	if !ok {
		return nil, invalidParams("missing required param \"extensionId\"")
	}
	name, ok := paramString(p, "name")
	if !ok {
		return nil, invalidParams("missing required param \"name\"")
	}
	var toolParams map[string]any
	if paramsRaw, ok := p["params"]; ok {
		if err := json.Unmarshal(paramsRaw, &toolParams); err != nil {
			return nil, invalidParams("params must be a JSON object")
		}
	}

	result, err := r.ext.CallTool(ctx, extensionID, name, toolParams)
	if err != nil {
		return recoverableError(err.Error()), nil
	}
	return map[string]any{"result": result}, nil
}
