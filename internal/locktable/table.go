// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package locktable

import (
	"path/filepath"
	"sync"
	"time"
)

type lockEntry struct {
	lock  Lock
	timer *time.Timer
}

// Table is the FileLockTable: the single authority on who may edit a
// given file path at a given instant (component L4).
//
// # Thread safety
//
// All exported methods are safe for concurrent use; a single mutex
// guards locks, waitQueues, and agentLocks together so the three maps
// never observe a torn update ("FileLockTable is the single
// mutator of the locks, waitQueue, and agentLocks maps").
type Table struct {
	mu             sync.Mutex
	locks          map[string]*lockEntry    // path -> entry
	waitQueues     map[string][]WaitRequest // path -> FIFO queue
	agentLocks     map[string]map[string]struct{}
	defaultTimeout time.Duration
	listener       Listener
}

// New creates an empty Table. defaultTimeout is used by Claim when the
// caller doesn't specify a per-claim override (0 disables the
// override path and always uses defaultTimeout).
func New(defaultTimeout time.Duration) *Table {
	if defaultTimeout <= 0 {
		defaultTimeout = 60 * time.Second
	}
	return &Table{
		locks:      make(map[string]*lockEntry),
		waitQueues: make(map[string][]WaitRequest),
		agentLocks: make(map[string]map[string]struct{}),
		defaultTimeout: defaultTimeout,
	}
}

// OnEvent installs the table's single event listener, replacing any
// previous one.
func (t *Table) OnEvent(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listener = l
}

func (t *Table) emit(ev Event) {
	if t.listener != nil {
		t.listener(ev)
	}
}

// normalize absolutizes and cleans a path, resolving symlinks where
// possible, so "./a.txt" and "/cwd/a.txt" collide on the same table
// entry.
func normalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// Claim attempts to acquire path for agentID/agentName. It either
// grants a fresh lock, refreshes the caller's own existing lock, or
// enqueues the caller behind the current holder.
func (t *Table) Claim(agentID, agentName, path, purpose string, timeout time.Duration) ClaimResult {
	path = normalize(path)
	if timeout <= 0 {
		timeout = t.defaultTimeout
	}

	t.mu.Lock()

	entry, held := t.locks[path]
	switch {
	case !held:
		t.grantLocked(path, agentID, agentName, purpose, timeout)
		t.mu.Unlock()
		return ClaimResult{Granted: true, Holder: agentName, HolderID: agentID}

	case entry.lock.HolderID == agentID:
		entry.timer.Stop()
		entry.timer = time.AfterFunc(timeout, func() { t.onTimeout(path) })
		entry.lock.GrantedAt = time.Now()
		entry.lock.Timeout = timeout
		entry.lock.Purpose = purpose
		t.mu.Unlock()
		return ClaimResult{Granted: true, AlreadyHeld: true, Holder: agentName, HolderID: agentID}

	default:
		pos := t.enqueueLocked(path, agentID, agentName)
		holderName := entry.lock.Holder
		holderID := entry.lock.HolderID
		cycle := t.detectCycleLocked(agentID)
		t.mu.Unlock()

		t.emit(Event{Type: EventContention, Path: path, AgentID: agentID, AgentName: agentName})
		if len(cycle) > 0 {
			t.emit(Event{Type: EventDeadlock, Path: path, AgentID: agentID, AgentName: agentName, Cycle: cycle})
		}
		return ClaimResult{Granted: false, Holder: holderName, HolderID: holderID, QueuePos: pos}
	}
}

// grantLocked installs a fresh lock and its timer. Caller holds t.mu.
func (t *Table) grantLocked(path, agentID, agentName, purpose string, timeout time.Duration) {
	entry := &lockEntry{
		lock: Lock{
			Path:      path,
			HolderID:  agentID,
			Holder:    agentName,
			GrantedAt: time.Now(),
			Timeout:   timeout,
			Purpose:   purpose,
		},
	}
	entry.timer = time.AfterFunc(timeout, func() { t.onTimeout(path) })
	t.locks[path] = entry

	set, ok := t.agentLocks[agentID]
	if !ok {
		set = make(map[string]struct{})
		t.agentLocks[agentID] = set
	}
	set[path] = struct{}{}
}

// enqueueLocked appends a wait request for (agentID, path), idempotent
// by agent id, and returns the 1-based queue position. Caller holds t.mu.
func (t *Table) enqueueLocked(path, agentID, agentName string) int {
	q := t.waitQueues[path]
	for i, wr := range q {
		if wr.RequesterID == agentID {
			return i + 1
		}
	}
	q = append(q, WaitRequest{
		Path:        path,
		RequesterID: agentID,
		Requester:   agentName,
		RequestedAt: time.Now(),
	})
	t.waitQueues[path] = q
	return len(q)
}

// Release frees path if agentID currently holds it, auto-granting the
// FIFO head waiter (if any).
func (t *Table) Release(agentID, path string) ReleaseResult {
	path = normalize(path)

	t.mu.Lock()
	entry, held := t.locks[path]
	if !held || entry.lock.HolderID != agentID {
		t.mu.Unlock()
		return ReleaseResult{Released: false}
	}

	entry.timer.Stop()
	delete(t.locks, path)
	if set, ok := t.agentLocks[agentID]; ok {
		delete(set, path)
		if len(set) == 0 {
			delete(t.agentLocks, agentID)
		}
	}

	grantedID, grantedName, granted := t.grantNextWaiterLocked(path)
	t.mu.Unlock()

	t.emit(Event{Type: EventReleased, Path: path, AgentID: agentID, NextWaiter: grantedID})
	if granted {
		t.emit(Event{Type: EventQueueGranted, Path: path, AgentID: grantedID, AgentName: grantedName})
	}
	return ReleaseResult{Released: true, NextWaiter: grantedID}
}

// grantNextWaiterLocked dequeues the FIFO head for path (if any) and
// grants it the lock with a fresh timer. Caller holds t.mu. It does
// not emit events — callers emit queue_granted themselves so they can
// sequence it against their own event (released/timeout).
func (t *Table) grantNextWaiterLocked(path string) (id, name string, granted bool) {
	q := t.waitQueues[path]
	if len(q) == 0 {
		return "", "", false
	}
	head := q[0]
	rest := q[1:]
	if len(rest) == 0 {
		delete(t.waitQueues, path)
	} else {
		t.waitQueues[path] = rest
	}
	t.grantLocked(path, head.RequesterID, head.Requester, "", t.defaultTimeout)
	return head.RequesterID, head.Requester, true
}

// Check is a read-only lookup.
func (t *Table) Check(path string) CheckResult {
	path = normalize(path)
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, held := t.locks[path]
	if !held {
		return CheckResult{Available: true}
	}
	return CheckResult{
		Available:   false,
		Holder:      entry.lock.Holder,
		HolderID:    entry.lock.HolderID,
		HolderName:  entry.lock.Holder,
		QueueLength: len(t.waitQueues[path]),
	}
}

// ReleaseAllForAgent removes agentID from every wait queue and
// releases every path it holds, auto-granting each to its next
// waiter. Returns the paths that were released.
func (t *Table) ReleaseAllForAgent(agentID string) []string {
	t.mu.Lock()
	for path, q := range t.waitQueues {
		filtered := q[:0:0]
		for _, wr := range q {
			if wr.RequesterID != agentID {
				filtered = append(filtered, wr)
			}
		}
		if len(filtered) == 0 {
			delete(t.waitQueues, path)
		} else {
			t.waitQueues[path] = filtered
		}
	}

	held := t.agentLocks[agentID]
	paths := make([]string, 0, len(held))
	for path := range held {
		paths = append(paths, path)
	}
	t.mu.Unlock()

	released := make([]string, 0, len(paths))
	for _, p := range paths {
		if t.Release(agentID, p).Released {
			released = append(released, p)
		}
	}
	return released
}

// AnyHeldPath returns one path currently locked by agentID, for a
// caller that needs to act against "a lock this agent holds" without
// caring which one (GAL deadlock breaking picks the cycle's last
// agent this way). ok is false if the agent holds nothing.
func (t *Table) AnyHeldPath(agentID string) (path string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for p := range t.agentLocks[agentID] {
		return p, true
	}
	return "", false
}

// Revoke unconditionally removes the current lock on path (if any)
// and auto-grants it to the next waiter. Used for timeout handling
// and GAL deadlock breaking.
func (t *Table) Revoke(path string) RevokeResult {
	path = normalize(path)

	t.mu.Lock()
	entry, held := t.locks[path]
	if !held {
		t.mu.Unlock()
		return RevokeResult{Revoked: false}
	}
	entry.timer.Stop()
	holderID := entry.lock.HolderID
	delete(t.locks, path)
	if set, ok := t.agentLocks[holderID]; ok {
		delete(set, path)
		if len(set) == 0 {
			delete(t.agentLocks, holderID)
		}
	}

	grantedID, grantedName, granted := t.grantNextWaiterLocked(path)
	t.mu.Unlock()

	if granted {
		t.emit(Event{Type: EventQueueGranted, Path: path, AgentID: grantedID, AgentName: grantedName})
	}
	return RevokeResult{Revoked: true, HolderID: holderID}
}

// onTimeout fires when a lock's timer expires. It re-validates under
// the lock that the timer is still the active one for the path
// (invariant e: "timeouts never fire on a path that is no longer
// held") before acting, since a race between firing and a
// re-claim/release could otherwise revoke a lock that was already
// legitimately replaced.
func (t *Table) onTimeout(path string) {
	t.mu.Lock()
	entry, held := t.locks[path]
	if !held {
		t.mu.Unlock()
		return
	}
	holderID := entry.lock.HolderID
	delete(t.locks, path)
	if set, ok := t.agentLocks[holderID]; ok {
		delete(set, path)
		if len(set) == 0 {
			delete(t.agentLocks, holderID)
		}
	}

	grantedID, grantedName, granted := t.grantNextWaiterLocked(path)
	t.mu.Unlock()

	t.emit(Event{Type: EventTimeout, Path: path, AgentID: holderID})
	if granted {
		t.emit(Event{Type: EventQueueGranted, Path: path, AgentID: grantedID, AgentName: grantedName})
	}
}

// Size returns the number of currently granted locks.
func (t *Table) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}

// Dispose stops every outstanding timer and clears all state, used on
// daemon shutdown so no timer callback fires after the table it would
// mutate is gone.
func (t *Table) Dispose() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, entry := range t.locks {
		entry.timer.Stop()
	}
	t.locks = make(map[string]*lockEntry)
	t.waitQueues = make(map[string][]WaitRequest)
	t.agentLocks = make(map[string]map[string]struct{})
}

// Snapshot is a diagnostic view used by gal.locks / daemon.recover.
type Snapshot struct {
	Locks      []Lock
	WaitQueues map[string][]WaitRequest
}

// Snapshot returns a point-in-time copy of table state.
func (t *Table) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	locks := make([]Lock, 0, len(t.locks))
	for _, e := range t.locks {
		locks = append(locks, e.lock)
	}
	queues := make(map[string][]WaitRequest, len(t.waitQueues))
	for p, q := range t.waitQueues {
		cp := make([]WaitRequest, len(q))
		copy(cp, q)
		queues[p] = cp
	}
	return Snapshot{Locks: locks, WaitQueues: queues}
}

// detectCycleLocked runs a DFS over the wait-for graph starting at
// startAgent, looking for a path back to startAgent through the
// chain: agent -> path it waits for -> holder of that path -> ...
// Caller holds t.mu. Returns the cycle (agent ids, trimmed to start
// at startAgent) or nil if none is found. This is a reachability
// check, O(V+E) in the wait graph, run at most once per Claim call.
func (t *Table) detectCycleLocked(startAgent string) []string {
	visited := make(map[string]bool)
	chain := []string{startAgent}

	var visit func(agent string) []string
	visit = func(agent string) []string {
		for _, path := range t.waitsForLocked(agent) {
			entry, held := t.locks[path]
			if !held {
				continue
			}
			holder := entry.lock.HolderID
			if holder == startAgent {
				return append(append([]string{}, chain...))
			}
			if visited[holder] {
				continue
			}
			visited[holder] = true
			chain = append(chain, holder)
			if cyc := visit(holder); cyc != nil {
				return cyc
			}
			chain = chain[:len(chain)-1]
		}
		return nil
	}

	return visit(startAgent)
}

// waitsForLocked returns the paths startAgent currently waits on.
// Caller holds t.mu.
func (t *Table) waitsForLocked(agent string) []string {
	var paths []string
	for path, q := range t.waitQueues {
		for _, wr := range q {
			if wr.RequesterID == agent {
				paths = append(paths, path)
				break
			}
		}
	}
	return paths
}
