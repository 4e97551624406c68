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
	"github.com/tau-assistant/tau-daemon/internal/tasks"
)

func (r *Router) tasksHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"tasks.list": r.tasksList,
		"tasks.save": r.tasksSave,
	}
}

func (r *Router) tasksList(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	if rerr := r.awaitReady(ctx); rerr != nil {
		return nil, rerr
	}
	store, ok := r.host.TasksStore()
	if !ok {
		return recoverableError("no tasks store for the current workspace"), nil
	}
	list, err := store.Load()
	if err != nil {
		return recoverableError(err.Error()), nil
	}
	return map[string]any{"tasks": list}, nil
}

// tasksSave funnels every save through taskSaveMu: two near-
// simultaneous client saves must never interleave their writes to the
// tasks file. The TaskWatcher's own load-and-save does not take
// taskSaveMu; it is serialized with this save only per call, by
// tasks.Store's lock.
func (r *Router) tasksSave(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	if rerr := r.awaitReady(ctx); rerr != nil {
		return nil, rerr
	}
	store, ok := r.host.TasksStore()
	if !ok {
		return recoverableError("no tasks store for the current workspace"), nil
	}
	p, err := bindParams(raw, "tasks")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	var list []tasks.Task
	if err := paramRaw(p, "tasks", &list); err != nil {
		return nil, invalidParams(err.Error())
	}

	r.taskSaveMu.Lock()
	saveErr := store.Save(list)
	r.taskSaveMu.Unlock()

	if saveErr != nil {
		return recoverableError(saveErr.Error()), nil
	}
	if r.bus != nil {
		r.bus.Broadcast("daemon.tasks.changed", map[string]any{"tasks": list})
	}
	return map[string]any{"saved": true}, nil
}
