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

// journalHandlers exposes read access to the markdown journal
// directory JournalWatcher (L10) already follows for hand-off
// summaries; the daemon owns only that file-format contract, not a
// separate journal subsystem, so these are plain directory reads.
func (r *Router) journalHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"journal.list": r.journalList,
		"journal.read": r.journalRead,
	}
}

func (r *Router) journalDir() string {
	return filepath.Join(r.host.WorkDir(), r.cfg.JournalDir)
}

func (r *Router) journalList(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	if rerr := r.awaitReady(ctx); rerr != nil {
		return nil, rerr
	}
	entries, err := os.ReadDir(r.journalDir())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{"entries": []string{}}, nil
		}
		return recoverableError(err.Error()), nil
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return map[string]any{"entries": out}, nil
}

func (r *Router) journalRead(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	if rerr := r.awaitReady(ctx); rerr != nil {
		return nil, rerr
	}
	p, err := bindParams(raw, "name")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	name, ok := paramString(p, "name")
	if !ok {
		return nil, invalidParams("missing required param \"name\"")
	}
	if strings.Contains(name, "..") || filepath.IsAbs(name) {
		return recoverableError("invalid journal entry name"), nil
	}

	data, err := os.ReadFile(filepath.Join(r.journalDir(), name))
	if err != nil {
		return recoverableError(err.Error()), nil
	}
	return map[string]any{"content": string(data)}, nil
}
