// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gitview

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tau-assistant/tau-daemon/pkg/logging"
)

const watchDebounce = 300 * time.Millisecond

// Broadcaster delivers daemon.git.changed notifications to connected
// clients.
type Broadcaster interface {
	Broadcast(method string, params any) uint64
}

// StatusEntry is one line of `git status --porcelain=v1` output.
type StatusEntry struct {
	Path            string `json:"path"`
	IndexStatus     byte   `json:"indexStatus"`
	WorktreeStatus  byte   `json:"worktreeStatus"`
	RenamedFromPath string `json:"renamedFromPath,omitempty"`
}

// Status is the repository's current branch and working-tree state.
type Status struct {
	Branch  string        `json:"branch"`
	Ahead   int           `json:"ahead"`
	Behind  int           `json:"behind"`
	Entries []StatusEntry `json:"entries"`
}

// View is the AgentHost's owned git view: it runs git commands scoped
// to the working directory and watches .git metadata for changes made
// outside the daemon (e.g. a checkout from another terminal).
type View struct {
	workDir string
	gitDir  string
	bus     Broadcaster
	log     *logging.Logger

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// New resolves the git directory for workDir and begins watching its
// metadata for external changes. workDir need not itself be the
// repository root; `git rev-parse --git-dir` resolves worktrees too.
func New(workDir string, bus Broadcaster, log *logging.Logger) (*View, error) {
	gitDir, err := resolveGitDir(workDir)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("gitview: creating watcher: %w", err)
	}

	v := &View{
		workDir: workDir,
		gitDir:  gitDir,
		bus:     bus,
		log:     log,
		watcher: fw,
		done:    make(chan struct{}),
	}
	v.addWatches()
	return v, nil
}

func resolveGitDir(workDir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("gitview: %s is not a git repository: %w", workDir, err)
	}
	gitDir := filepath.Clean(strings.TrimSpace(string(out)))
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(workDir, gitDir)
	}
	return gitDir, nil
}

func (v *View) addWatches() {
	paths := []string{
		filepath.Join(v.gitDir, "HEAD"),
		filepath.Join(v.gitDir, "index"),
		filepath.Join(v.gitDir, "refs", "heads"),
		filepath.Join(v.gitDir, "packed-refs"),
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := v.watcher.Add(p); err != nil && v.log != nil {
			v.log.Debug("gitview: failed to watch path", "path", p, "error", err)
		}
	}
}

// Start runs the watch loop until ctx is canceled or Stop is called.
func (v *View) Start(ctx context.Context) {
	go v.loop(ctx)
}

func (v *View) loop(ctx context.Context) {
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-v.done:
			return
		case _, ok := <-v.watcher.Events:
			if !ok {
				return
			}
			if timer == nil {
				timer = time.AfterFunc(watchDebounce, func() {
					select {
					case fire <- struct{}{}:
					case <-v.done:
					}
				})
			} else {
				timer.Reset(watchDebounce)
			}
		case <-fire:
			timer = nil
			if v.bus != nil {
				v.bus.Broadcast("daemon.git.changed", nil)
			}
		case _, ok := <-v.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Stop releases the directory watcher. Safe to call multiple times.
func (v *View) Stop() {
	v.stopOnce.Do(func() {
		close(v.done)
		v.watcher.Close()
	})
}

func (v *View) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = v.workDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("gitview: git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Status runs `git status --porcelain=v1 -b` and returns the parsed
// branch and entry list.
func (v *View) Status(ctx context.Context) (Status, error) {
	out, err := v.run(ctx, "status", "--porcelain=v1", "-b")
	if err != nil {
		return Status{}, err
	}
	return parseStatus(out), nil
}

func parseStatus(out string) Status {
	var st Status
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		if line == "" {
			continue
		}
		if i == 0 && strings.HasPrefix(line, "##") {
			st.Branch, st.Ahead, st.Behind = parseBranchLine(line)
			continue
		}
		if len(line) < 4 {
			continue
		}
		entry := StatusEntry{
			IndexStatus:    line[0],
			WorktreeStatus: line[1],
			Path:           strings.TrimSpace(line[3:]),
		}
		if idx := strings.Index(entry.Path, " -> "); idx >= 0 {
			entry.RenamedFromPath = entry.Path[:idx]
			entry.Path = entry.Path[idx+4:]
		}
		st.Entries = append(st.Entries, entry)
	}
	return st
}

func parseBranchLine(line string) (branch string, ahead, behind int) {
	body := strings.TrimPrefix(line, "## ")
	name := body
	if idx := strings.IndexByte(body, '['); idx >= 0 {
		name = strings.TrimSpace(body[:idx])
		tracking := strings.TrimSuffix(body[idx+1:], "]")
		for _, part := range strings.Split(tracking, ", ") {
			fmt.Sscanf(part, "ahead %d", &ahead)
			fmt.Sscanf(part, "behind %d", &behind)
		}
	}
	if idx := strings.Index(name, "..."); idx >= 0 {
		name = name[:idx]
	}
	return name, ahead, behind
}

// Diff runs `git diff` (optionally staged-only, optionally scoped to
// one path) and parses the result into structured file changes.
func (v *View) Diff(ctx context.Context, staged bool, path string) ([]FileChange, error) {
	args := []string{"diff"}
	if staged {
		args = append(args, "--cached")
	}
	if path != "" {
		args = append(args, "--", path)
	}
	out, err := v.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return ParseDiff(out)
}
