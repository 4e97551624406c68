// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gitview owns the daemon's view onto the working tree's git
// state: parsed status and diffs for the git.* RPCs, and the
// daemon.git.changed notification fired when that state moves.
package gitview

import (
	"fmt"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// LineKind classifies one line within a diff hunk.
type LineKind string

const (
	LineContext LineKind = "context"
	LineAdded   LineKind = "added"
	LineRemoved LineKind = "removed"
)

// Line is one line of a hunk body, numbered against whichever side(s)
// it appears on.
type Line struct {
	Kind      LineKind `json:"kind"`
	Content   string   `json:"content"`
	OldLineNo int      `json:"oldLineNo,omitempty"`
	NewLineNo int      `json:"newLineNo,omitempty"`
}

// Hunk is one contiguous block of changes within a file diff.
type Hunk struct {
	OldStart int    `json:"oldStart"`
	OldLines int    `json:"oldLines"`
	NewStart int    `json:"newStart"`
	NewLines int    `json:"newLines"`
	Lines    []Line `json:"lines"`
}

// FileChange is the parsed diff for a single file.
type FileChange struct {
	Path      string `json:"path"`
	OldPath   string `json:"oldPath,omitempty"`
	IsNew     bool   `json:"isNew"`
	IsDeleted bool   `json:"isDeleted"`
	Hunks     []Hunk `json:"hunks"`
}

// Added and Removed sum the line counts across every hunk, for
// at-a-glance stats in RPC responses.
func (f FileChange) Added() int {
	n := 0
	for _, h := range f.Hunks {
		for _, l := range h.Lines {
			if l.Kind == LineAdded {
				n++
			}
		}
	}
	return n
}

func (f FileChange) Removed() int {
	n := 0
	for _, h := range f.Hunks {
		for _, l := range h.Lines {
			if l.Kind == LineRemoved {
				n++
			}
		}
	}
	return n
}

// ParseDiff parses unified diff text (as produced by `git diff`) into
// per-file change records.
func ParseDiff(diffText string) ([]FileChange, error) {
	if strings.TrimSpace(diffText) == "" {
		return nil, nil
	}
	fileDiffs, err := godiff.ParseMultiFileDiff([]byte(diffText))
	if err != nil {
		return nil, fmt.Errorf("gitview: parsing diff: %w", err)
	}

	changes := make([]FileChange, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		fc := FileChange{
			Path:      cleanDiffPath(fd.NewName),
			OldPath:   cleanDiffPath(fd.OrigName),
			IsNew:     fd.OrigName == "/dev/null",
			IsDeleted: fd.NewName == "/dev/null",
		}
		for _, h := range fd.Hunks {
			hunk := Hunk{
				OldStart: int(h.OrigStartLine),
				OldLines: int(h.OrigLines),
				NewStart: int(h.NewStartLine),
				NewLines: int(h.NewLines),
				Lines:    parseHunkBody(string(h.Body), int(h.OrigStartLine), int(h.NewStartLine)),
			}
			fc.Hunks = append(fc.Hunks, hunk)
		}
		changes = append(changes, fc)
	}
	return changes, nil
}

func parseHunkBody(body string, oldStart, newStart int) []Line {
	var lines []Line
	oldNum, newNum := oldStart, newStart

	for _, raw := range strings.Split(body, "\n") {
		if raw == "" {
			continue
		}
		prefix := raw[0]
		content := ""
		if len(raw) > 1 {
			content = raw[1:]
		}

		switch prefix {
		case '+':
			lines = append(lines, Line{Kind: LineAdded, Content: content, NewLineNo: newNum})
			newNum++
		case '-':
			lines = append(lines, Line{Kind: LineRemoved, Content: content, OldLineNo: oldNum})
			oldNum++
		case ' ':
			lines = append(lines, Line{Kind: LineContext, Content: content, OldLineNo: oldNum, NewLineNo: newNum})
			oldNum++
			newNum++
		case '\\':
			continue // "\ No newline at end of file"
		default:
			lines = append(lines, Line{Kind: LineContext, Content: raw, OldLineNo: oldNum, NewLineNo: newNum})
			oldNum++
			newNum++
		}
	}
	return lines
}

func cleanDiffPath(path string) string {
	if strings.HasPrefix(path, "a/") || strings.HasPrefix(path, "b/") {
		return path[2:]
	}
	return path
}
