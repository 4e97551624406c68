// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package subagent

import (
	"context"

	"github.com/tau-assistant/tau-daemon/internal/llmhost"
)

// LLMAdapter wraps an llmhost.Session so it satisfies this package's
// narrower Session interface, translating llmhost's event/message
// shapes into the manager's own. This keeps the manager from
// importing llmhost's full surface and keeps llmhost ignorant of
// subagent concerns.
type LLMAdapter struct {
	inner llmhost.Session
}

// WrapLLMSession adapts inner for use by the manager.
func WrapLLMSession(inner llmhost.Session) *LLMAdapter {
	return &LLMAdapter{inner: inner}
}

func (a *LLMAdapter) ID() string          { return a.inner.ID() }
func (a *LLMAdapter) Name() string        { return a.inner.Name() }
func (a *LLMAdapter) IsStreaming() bool   { return a.inner.IsStreaming() }
func (a *LLMAdapter) SetSilent(s bool)    { a.inner.SetSilent(s) }
func (a *LLMAdapter) Close() error        { return a.inner.Close() }

func (a *LLMAdapter) Prompt(ctx context.Context, text string) error { return a.inner.Prompt(ctx, text) }
func (a *LLMAdapter) Steer(ctx context.Context, text string) error  { return a.inner.Steer(ctx, text) }
func (a *LLMAdapter) Abort()                                        { a.inner.Abort() }

func (a *LLMAdapter) History() []HistoryEntry {
	msgs := a.inner.History()
	out := make([]HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, HistoryEntry{Role: m.Role, Content: m.Content})
	}
	return out
}

func (a *LLMAdapter) Subscribe(fn func(AgentEvent)) {
	a.inner.Subscribe(func(ev llmhost.Event) {
		fn(AgentEvent{Type: string(ev.Type), Text: ev.Text})
	})
}
