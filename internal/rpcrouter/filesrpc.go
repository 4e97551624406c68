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
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tau-assistant/tau-daemon/internal/rpctransport"
)

// filesHandlers gives UI clients a read-only, sandboxed view of the
// current workspace (files.*). symbols.* has no backing implementation
// — no code-graph module is in scope, the daemon hosts the agent
// rather than parsing code itself — so it always returns a recoverable
// "not implemented" error rather than pretending to search.
func (r *Router) filesHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"files.list":    r.filesList,
		"files.read":    r.filesRead,
		"symbols.search": r.symbolsSearch,
	}
}

// sandboxPath resolves rel against the workspace root and refuses to
// leave it, so files.* can never be used to read outside the project
// the daemon was pointed at.
func (r *Router) sandboxPath(rel string) (string, error) {
	root := r.host.WorkDir()
	clean := filepath.Clean("/" + rel)
	full := filepath.Join(root, clean)
	if !strings.HasPrefix(full, filepath.Clean(root)) {
		return "", os.ErrPermission
	}
	return full, nil
}

func (r *Router) filesList(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	if rerr := r.awaitReady(ctx); rerr != nil {
		return nil, rerr
	}
	p, err := bindParams(raw, "path")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	rel := paramStringOr(p, "path", ".")

	full, err := r.sandboxPath(rel)
	if err != nil {
		return recoverableError("path escapes the workspace"), nil
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return recoverableError(err.Error()), nil
	}

	type fileEntry struct {
		Name  string `json:"name"`
		IsDir bool   `json:"isDir"`
	}
	out := make([]fileEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, fileEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return map[string]any{"entries": out}, nil
}

func (r *Router) filesRead(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	if rerr := r.awaitReady(ctx); rerr != nil {
		return nil, rerr
	}
	p, err := bindParams(raw, "path")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	rel, ok := paramString(p, "path")
	if !ok {
		return nil, invalidParams("missing required param \"path\"")
	}

	full, err := r.sandboxPath(rel)
	if err != nil {
		return recoverableError("path escapes the workspace"), nil
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return recoverableError(err.Error()), nil
	}
	return map[string]any{"content": string(data)}, nil
}

func (r *Router) symbolsSearch(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	return recoverableError("symbol search is not implemented by this daemon"), nil
}
