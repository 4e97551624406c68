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
	"bytes"
	"encoding/json"
	"fmt"
)

// bindParams accepts a JSON-RPC params value in either its positional-
// array or named-object form and normalizes it to a map keyed by
// field name, so every handler can read params by name regardless of
// which form the caller used. fields gives the positional order; a
// named-object call is returned unchanged (extra keys are tolerated).
func bindParams(raw json.RawMessage, fields ...string) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return map[string]json.RawMessage{}, nil
	}

	switch trimmed[0] {
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, fmt.Errorf("parsing positional params: %w", err)
		}
		out := make(map[string]json.RawMessage, len(fields))
		for i, name := range fields {
			if i < len(arr) {
				out[name] = arr[i]
			}
		}
		return out, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("parsing named params: %w", err)
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("params must be a JSON array or object")
	}
}

func paramString(m map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := m[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func paramStringOr(m map[string]json.RawMessage, key, fallback string) string {
	if s, ok := paramString(m, key); ok {
		return s
	}
	return fallback
}

func paramBool(m map[string]json.RawMessage, key string) (bool, bool) {
	raw, ok := m[key]
	if !ok {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, false
	}
	return b, true
}

func paramInt(m map[string]json.RawMessage, key string) (int, bool) {
	raw, ok := m[key]
	if !ok {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}

func paramUint64(m map[string]json.RawMessage, key string) (uint64, bool) {
	raw, ok := m[key]
	if !ok {
		return 0, false
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}

func paramStringSlice(m map[string]json.RawMessage, key string) ([]string, bool) {
	raw, ok := m[key]
	if !ok {
		return nil, false
	}
	var s []string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	return s, true
}

func paramRaw(m map[string]json.RawMessage, key string, dest any) error {
	raw, ok := m[key]
	if !ok {
		return fmt.Errorf("missing param %q", key)
	}
	return json.Unmarshal(raw, dest)
}
