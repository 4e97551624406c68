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

func (r *Router) gitHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"git.status": r.gitStatus,
		"git.diff":   r.gitDiff,
	}
}

func (r *Router) gitStatus(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	if rerr := r.awaitReady(ctx); rerr != nil {
		return nil, rerr
	}
	view, ok := r.host.GitView()
	if !ok {
		return recoverableError("no git repository for the current workspace"), nil
	}
	status, err := view.Status(ctx)
	if err != nil {
		return recoverableError(err.Error()), nil
	}
	return map[string]any{"status": status}, nil
}

func (r *Router) gitDiff(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	if rerr := r.awaitReady(ctx); rerr != nil {
		return nil, rerr
	}
	view, ok := r.host.GitView()
	if !ok {
		return recoverableError("no git repository for the current workspace"), nil
	}
	p, err := bindParams(raw, "staged", "path")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	staged, _ := paramBool(p, "staged")
	path, _ := paramString(p, "path")

	changes, err := view.Diff(ctx, staged, path)
	if err != nil {
		return recoverableError(err.Error()), nil
	}
	return map[string]any{"files": changes}, nil
}
