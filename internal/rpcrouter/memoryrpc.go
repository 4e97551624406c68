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

func (r *Router) memoryHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"memory.create": r.memoryCreate,
		"memory.get":    r.memoryGet,
		"memory.delete": r.memoryDelete,
		"memory.list":   r.memoryList,
		"memory.search": r.memorySearch,
	}
}

func (r *Router) memoryCreate(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	p, err := bindParams(raw, "type", "title", "content", "tags")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	memType, _ := paramString(p, "type")
	title, _ := paramString(p, "title")
	content, _ := paramString(p, "content")
	tags, _ := paramStringSlice(p, "tags")

	id, err := r.memory.Create(ctx, memType, title, content, tags)
	if err != nil {
		return recoverableError(err.Error()), nil
	}
	return map[string]any{"id": id}, nil
}

func (r *Router) memoryGet(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	p, err := bindParams(raw, "id")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	id, ok := paramString(p, "id")
	if !ok {
		return nil, invalidParams("missing required param \"id\"")
	}
	rec, found, err := r.memory.Get(ctx, id)
	if err != nil {
		return recoverableError(err.Error()), nil
	}
	if !found {
		return recoverableError("no memory with id " + id), nil
	}
	return map[string]any{"record": rec}, nil
}

func (r *Router) memoryDelete(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	p, err := bindParams(raw, "id")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	id, ok := paramString(p, "id")
	if !ok {
		return nil, invalidParams("missing required param \"id\"")
	}
	if err := r.memory.Delete(ctx, id); err != nil {
		return recoverableError(err.Error()), nil
	}
	return map[string]any{"deleted": true}, nil
}

func (r *Router) memoryList(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	p, err := bindParams(raw, "type")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	memType, _ := paramString(p, "type")
	records, err := r.memory.List(ctx, memType)
	if err != nil {
		return recoverableError(err.Error()), nil
	}
	return map[string]any{"records": records}, nil
}

func (r *Router) memorySearch(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	p, err := bindParams(raw, "type", "query")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	memType, _ := paramString(p, "type")
	query, _ := paramString(p, "query")
	records, err := r.memory.Search(ctx, memType, query)
	if err != nil {
		return recoverableError(err.Error()), nil
	}
	return map[string]any{"records": records}, nil
}
