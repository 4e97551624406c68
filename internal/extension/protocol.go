// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extension implements the ExtensionHost (component L12): each
// extension runs as its own sandboxed worker process, reachable only
// through structured JSON-lines message passing over stdio.
package extension

// ToolSpec is one tool an extension registers.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// envelope is the single wire shape for every line exchanged with a
// worker, host->worker and worker->host alike; unused fields are
// omitted by the zero-value `omitempty` tags.
type envelope struct {
	Type string `json:"type"`

	// init / tool_call / event
	ExtensionID string         `json:"extensionId,omitempty"`
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	Data        map[string]any `json:"data,omitempty"`

	// register
	Tools  []ToolSpec `json:"tools,omitempty"`
	Events []string   `json:"events,omitempty"`

	// tool_result
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	// log
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`

	// create_memory
	MemoryType string   `json:"memoryType,omitempty"`
	Title      string   `json:"title,omitempty"`
	Content    string   `json:"content,omitempty"`
	Tags       []string `json:"tags,omitempty"`

	// bash
	Command string `json:"command,omitempty"`
	Timeout int    `json:"timeout,omitempty"`
}

const (
	typeInit       = "init"
	typeToolCall   = "tool_call"
	typeEvent      = "event"
	typeShutdown   = "shutdown"
	typeRegister   = "register"
	typeToolResult = "tool_result"
	typeLog        = "log"
	typeCreateMem  = "create_memory"
	typeBash       = "bash"
)
