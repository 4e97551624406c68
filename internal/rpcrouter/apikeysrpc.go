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

// apiKeysHandlers never returns a stored key's value over the wire —
// the router uses only apikeys.Store's Has/List/Set/Delete and never
// its Get, so apiKeys.get is deliberately a presence check, not a read.
func (r *Router) apiKeysHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"apiKeys.set":    r.apiKeysSet,
		"apiKeys.get":    r.apiKeysGet,
		"apiKeys.delete": r.apiKeysDelete,
		"apiKeys.list":   r.apiKeysList,
	}
}

func (r *Router) apiKeysSet(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	p, err := bindParams(raw, "provider", "key")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	provider, ok := paramString(p, "provider")
	if !ok {
		return nil, invalidParams("missing required param \"provider\"")
	}
	key, ok := paramString(p, "key")
	if !ok {
		return nil, invalidParams("missing required param \"key\"")
	}
	if err := r.apiKeys.Set(provider, key); err != nil {
		return recoverableError(err.Error()), nil
	}
	return map[string]any{"saved": true}, nil
}

func (r *Router) apiKeysGet(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	p, err := bindParams(raw, "provider")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	provider, ok := paramString(p, "provider")
	if !ok {
		return nil, invalidParams("missing required param \"provider\"")
	}
	return map[string]any{"configured": r.apiKeys.Has(provider)}, nil
}

func (r *Router) apiKeysDelete(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	p, err := bindParams(raw, "provider")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	provider, ok := paramString(p, "provider")
	if !ok {
		return nil, invalidParams("missing required param \"provider\"")
	}
	r.apiKeys.Delete(provider)
	return map[string]any{"deleted": true}, nil
}

func (r *Router) apiKeysList(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	return map[string]any{"providers": r.apiKeys.List()}, nil
}
