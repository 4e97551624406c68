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

// projectCtxHandlers lets a client point the daemon at a different
// workspace. It rebuilds the main session, git view, lock table, and
// subagent manager the same way session.restart does — switch is the
// client-facing name for the same operation.
func (r *Router) projectCtxHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"projectCtx.switch":  r.projectCtxSwitch,
		"projectCtx.current": r.projectCtxCurrent,
	}
}

func (r *Router) projectCtxSwitch(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	p, err := bindParams(raw, "workDir")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	workDir, ok := paramString(p, "workDir")
	if !ok || workDir == "" {
		return nil, invalidParams("missing required param \"workDir\"")
	}
	tasksPath := filepath.Join(workDir, r.cfg.TasksFile)

	if err := r.host.SetupAgent(ctx, workDir, tasksPath); err != nil {
		return recoverableError(err.Error()), nil
	}
	return map[string]any{"workDir": workDir}, nil
}

func (r *Router) projectCtxCurrent(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	return map[string]any{"workDir": r.host.WorkDir()}, nil
}
