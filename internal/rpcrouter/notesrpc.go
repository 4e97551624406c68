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

// notesVaultSoulSkillHandlers backs notes.*, vault.*, soul.*, and
// skill.* with plain markdown-file CRUD. The daemon owns only each
// store's file-format contract, not a richer schema or search index —
// note/vault content and persona config are external collaborators
// specified at their file interface only — so every one of these
// methods is a thin wrapper over an mdStore rather than a bespoke
// subsystem.
func (r *Router) notesVaultSoulSkillHandlers() map[string]handlerFunc {
	h := map[string]handlerFunc{}
	bind(h, "notes", r.notes)
	bind(h, "vault", r.vault)
	bind(h, "skill", r.skills)

	h["soul.get"] = func(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
		content, err := r.soul.Read("soul")
		if err != nil {
			return recoverableError("no soul/persona configuration is set"), nil
		}
		return map[string]any{"content": content}, nil
	}
	h["soul.set"] = func(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
		p, err := bindParams(raw, "content")
		if err != nil {
			return nil, invalidParams(err.Error())
		}
		content, ok := paramString(p, "content")
		if !ok {
			return nil, invalidParams("missing required param \"content\"")
		}
		if err := r.soul.Write("soul", content); err != nil {
			return recoverableError(err.Error()), nil
		}
		return map[string]any{"saved": true}, nil
	}

	return h
}

// bind registers the four-verb CRUD surface (list/read/write/delete)
// for one mdStore under the given method namespace prefix.
func bind(h map[string]handlerFunc, prefix string, store *mdStore) {
	h[prefix+".list"] = func(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
		names, err := store.List()
		if err != nil {
			return recoverableError(err.Error()), nil
		}
		return map[string]any{"entries": names}, nil
	}
	h[prefix+".read"] = func(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
		p, err := bindParams(raw, "name")
		if err != nil {
			return nil, invalidParams(err.Error())
		}
		name, ok := paramString(p, "name")
		if !ok {
			return nil, invalidParams("missing required param \"name\"")
		}
		content, err := store.Read(name)
		if err != nil {
			return recoverableError(err.Error()), nil
		}
		return map[string]any{"content": content}, nil
	}
	h[prefix+".write"] = func(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
		p, err := bindParams(raw, "name", "content")
		if err != nil {
			return nil, invalidParams(err.Error())
		}
		name, ok := paramString(p, "name")
		if !ok {
			return nil, invalidParams("missing required param \"name\"")
		}
		content, _ := paramString(p, "content")
		if err := store.Write(name, content); err != nil {
			return recoverableError(err.Error()), nil
		}
		return map[string]any{"saved": true}, nil
	}
	h[prefix+".delete"] = func(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
		p, err := bindParams(raw, "name")
		if err != nil {
			return nil, invalidParams(err.Error())
		}
		name, ok := paramString(p, "name")
		if !ok {
			return nil, invalidParams("missing required param \"name\"")
		}
		if err := store.Delete(name); err != nil {
			return recoverableError(err.Error()), nil
		}
		return map[string]any{"deleted": true}, nil
	}
}
