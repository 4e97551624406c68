// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agenthost

import (
	"github.com/tau-assistant/tau-daemon/internal/tasks"
	"github.com/tau-assistant/tau-daemon/pkg/logging"
)

// taskNotifier bridges SubagentManager's completion bridge back onto
// the tasks file, satisfying subagent.TaskNotifier without that
// package importing tasks.
type taskNotifier struct {
	store *tasks.Store
	bus   Broadcaster
	log   *logging.Logger
}

// MarkDone records taskID's result and flips its status to Done. A
// taskID with no matching entry (already removed, or not tracked in
// the tasks file at all) is a silent no-op.
func (n *taskNotifier) MarkDone(taskID, result string) {
	list, err := n.store.Load()
	if err != nil {
		if n.log != nil {
			n.log.Warn("agenthost: loading tasks for completion", "error", err)
		}
		return
	}

	found := false
	for i := range list {
		if list[i].ID == taskID {
			list[i].Status = tasks.StatusDone
			list[i].Result = result
			found = true
			break
		}
	}
	if !found {
		return
	}

	if err := n.store.Save(list); err != nil {
		if n.log != nil {
			n.log.Warn("agenthost: saving tasks for completion", "error", err)
		}
		return
	}
	if n.bus != nil {
		n.bus.Broadcast("daemon.tasks.changed", map[string]any{"tasks": list})
	}
}
