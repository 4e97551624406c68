// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tasks parses and serializes the markdown tasks file
// (component referenced by TaskWatcher/L9 and GalCoordinator/L7) and
// provides the atomic, serialized on-disk writer used by tasks.save.
package tasks

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Status is one of the five recognized sections, in their fixed
// serialization order.
type Status string

const (
	StatusInbox      Status = "Inbox"
	StatusTodo       Status = "Todo"
	StatusRefinement Status = "Refinement"
	StatusInProgress Status = "In Progress"
	StatusDone       Status = "Done"
)

// sectionOrder is the fixed, deterministic serialization order.
var sectionOrder = []Status{StatusInbox, StatusTodo, StatusRefinement, StatusInProgress, StatusDone}

// Task is one GFM task-list entry.
type Task struct {
	ID       string
	Text     string
	Status   Status
	AgentID  string // empty when unassigned
	Result   string // the "  > " block following the item, if any
}

var (
	agentCommentRe = regexp.MustCompile(`<!--\s*agent:([0-9A-Za-z_-]+)\s*-->`)
	idCommentRe    = regexp.MustCompile(`<!--\s*id:([0-9a-fA-F-]+)\s*-->`)
	taskItemRe     = regexp.MustCompile(`^-\s*\[( |x|X)\]\s*(.*)$`)
	sectionRe      = regexp.MustCompile(`^##\s+(.+)$`)
)

// ParseTasks parses the tasks markdown file's content into a list of
// tasks. Unrecognized sections are folded into Inbox. A task with no
// `id:` comment is assigned none here — callers (TaskWatcher) that
// need a stable id for a fresh task must generate and persist one on
// first save.
func ParseTasks(content string) []Task {
	lines := strings.Split(content, "\n")
	var out []Task
	current := StatusInbox

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if m := sectionRe.FindStringSubmatch(line); m != nil {
			current = normalizeSection(strings.TrimSpace(m[1]))
			continue
		}

		m := taskItemRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		rest := m[2]
		task := Task{Status: current}
		if am := agentCommentRe.FindStringSubmatch(rest); am != nil {
			task.AgentID = am[1]
			rest = agentCommentRe.ReplaceAllString(rest, "")
		}
		if im := idCommentRe.FindStringSubmatch(rest); im != nil {
			task.ID = im[1]
			rest = idCommentRe.ReplaceAllString(rest, "")
		}
		task.Text = strings.TrimSpace(rest)

		// Consume an immediately-following "  > " result block.
		var resultLines []string
		for i+1 < len(lines) && strings.HasPrefix(lines[i+1], "  > ") {
			i++
			resultLines = append(resultLines, strings.TrimPrefix(lines[i], "  > "))
		}
		if len(resultLines) > 0 {
			task.Result = strings.Join(resultLines, "\n")
		}

		out = append(out, task)
	}
	return out
}

func normalizeSection(name string) Status {
	for _, s := range sectionOrder {
		if strings.EqualFold(string(s), name) {
			return s
		}
	}
	return StatusInbox
}

// SerializeTasks renders tasks back into the markdown file format,
// grouped by section in sectionOrder and preserving each section's
// original relative task order.
func SerializeTasks(taskList []Task) string {
	var b strings.Builder
	b.WriteString("# Tasks\n")

	for _, section := range sectionOrder {
		b.WriteString("\n## ")
		b.WriteString(string(section))
		b.WriteString("\n")
		for _, t := range taskList {
			if t.Status != section {
				continue
			}
			writeTask(&b, t)
		}
	}
	return b.String()
}

func writeTask(b *strings.Builder, t Task) {
	checked := " "
	if t.Status == StatusDone {
		checked = "x"
	}
	b.WriteString(fmt.Sprintf("- [%s] %s", checked, t.Text))
	if t.AgentID != "" {
		b.WriteString(fmt.Sprintf(" <!-- agent:%s -->", t.AgentID))
	}
	if t.ID != "" {
		b.WriteString(fmt.Sprintf(" <!-- id:%s -->", t.ID))
	}
	b.WriteString("\n")
	if t.Result != "" {
		for _, line := range strings.Split(t.Result, "\n") {
			b.WriteString("  > ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
}

// Store owns the on-disk tasks file and serializes every write
// through a single mutex so two near-simultaneous saves can't
// interleave (the "task-save serialization" requirement shared with
// the RPC router's tasks.save queue).
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore binds a Store to path. The file need not exist yet.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads and parses the current file. A missing file parses as an
// empty task list.
func (s *Store) Load() ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return ParseTasks(string(data)), nil
}

// Save serializes taskList and writes it atomically (temp file plus
// rename), guaranteeing readers always see either the old or the new
// content in full.
func (s *Store) Save(taskList []Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content := SerializeTasks(taskList)
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tasks-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.path)
}
