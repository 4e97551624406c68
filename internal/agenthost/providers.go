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
	"github.com/tau-assistant/tau-daemon/internal/heartbeat"
	"github.com/tau-assistant/tau-daemon/internal/journalwatcher"
)

// llmhost.Session already has the SetSilent/Prompt shape both
// heartbeat.MainAgent and journalwatcher.MainAgent require, but Go
// interface satisfaction is nominal per declared method set: a single
// AgentHost.MainAgent() method can't return two distinctly-named
// interface types at once, so each watcher gets its own thin provider
// wrapping the same underlying session.

// HeartbeatProvider adapts AgentHost to heartbeat.MainAgentProvider.
type HeartbeatProvider struct{ Host *AgentHost }

func (p HeartbeatProvider) MainAgent() (heartbeat.MainAgent, bool) {
	sess, ok := p.Host.MainSession()
	if !ok {
		return nil, false
	}
	return sess, true
}

// JournalProvider adapts AgentHost to journalwatcher.MainAgentProvider.
type JournalProvider struct{ Host *AgentHost }

func (p JournalProvider) MainAgent() (journalwatcher.MainAgent, bool) {
	sess, ok := p.Host.MainSession()
	if !ok {
		return nil, false
	}
	return sess, true
}
