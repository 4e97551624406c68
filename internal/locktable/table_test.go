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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) waitFor(t *testing.T, typ EventType, timeout time.Duration) Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, ev := range r.snapshot() {
			if ev.Type == typ {
				return ev
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("event %s not observed within %s", typ, timeout)
	return Event{}
}

// Scenario 1: grant-release round trip.
func TestGrantReleaseRoundTrip(t *testing.T) {
	tbl := New(5 * time.Second)

	res := tbl.Claim("a1", "Agent1", "/a.txt", "", 0)
	require.True(t, res.Granted)

	chk := tbl.Check("/a.txt")
	assert.False(t, chk.Available)
	assert.Equal(t, "a1", chk.HolderID)
	assert.Equal(t, "Agent1", chk.HolderName)
	assert.Zero(t, chk.QueueLength)

	rel := tbl.Release("a1", "/a.txt")
	assert.True(t, rel.Released)

	chk = tbl.Check("/a.txt")
	assert.True(t, chk.Available)
}

// Scenario 2: FIFO queue and auto-grant.
func TestFIFOQueueAndAutoGrant(t *testing.T) {
	tbl := New(5 * time.Second)

	require.True(t, tbl.Claim("a1", "Agent1", "/f", "", 0).Granted)
	r2 := tbl.Claim("a2", "Agent2", "/f", "", 0)
	require.False(t, r2.Granted)
	assert.Equal(t, 1, r2.QueuePos)
	r3 := tbl.Claim("a3", "Agent3", "/f", "", 0)
	require.False(t, r3.Granted)
	assert.Equal(t, 2, r3.QueuePos)

	chk := tbl.Check("/f")
	assert.Equal(t, 2, chk.QueueLength)

	rel := tbl.Release("a1", "/f")
	require.True(t, rel.Released)
	assert.Equal(t, "a2", rel.NextWaiter)

	chk = tbl.Check("/f")
	assert.Equal(t, "a2", chk.HolderID)
	assert.Equal(t, 1, chk.QueueLength)
}

// Scenario 3: timeout revokes and auto-grants.
func TestTimeoutRevokesAndAutoGrants(t *testing.T) {
	tbl := New(0)
	rec := &eventRecorder{}
	tbl.OnEvent(rec.record)

	require.True(t, tbl.Claim("a1", "Agent1", "/f", "", 30*time.Millisecond).Granted)
	r2 := tbl.Claim("a2", "Agent2", "/f", "", 30*time.Millisecond)
	require.False(t, r2.Granted)

	rec.waitFor(t, EventTimeout, time.Second)

	chk := tbl.Check("/f")
	assert.False(t, chk.Available)
	assert.Equal(t, "a2", chk.HolderID)
}

// Scenario 4: deadlock detection.
func TestDeadlockDetection(t *testing.T) {
	tbl := New(5 * time.Second)
	rec := &eventRecorder{}
	tbl.OnEvent(rec.record)

	require.True(t, tbl.Claim("a1", "Agent1", "/f1", "", 0).Granted)
	require.True(t, tbl.Claim("a2", "Agent2", "/f2", "", 0).Granted)
	require.False(t, tbl.Claim("a1", "Agent1", "/f2", "", 0).Granted)
	require.False(t, tbl.Claim("a2", "Agent2", "/f1", "", 0).Granted)

	dl := rec.waitFor(t, EventDeadlock, time.Second)
	assert.Contains(t, dl.Cycle, "a1")
	assert.Contains(t, dl.Cycle, "a2")
}

func TestReleaseByNonHolderIsNoop(t *testing.T) {
	tbl := New(5 * time.Second)
	require.True(t, tbl.Claim("a1", "Agent1", "/f", "", 0).Granted)

	rel := tbl.Release("a2", "/f")
	assert.False(t, rel.Released)

	chk := tbl.Check("/f")
	assert.False(t, chk.Available)
	assert.Equal(t, "a1", chk.HolderID)
}

func TestReclaimBySameAgentRefreshesTimeout(t *testing.T) {
	tbl := New(0)
	require.True(t, tbl.Claim("a1", "Agent1", "/f", "", 0).Granted)
	res := tbl.Claim("a1", "Agent1", "/f", "re-editing", 0)
	assert.True(t, res.Granted)
	assert.True(t, res.AlreadyHeld)
}

func TestReleaseAllForAgentReleasesEveryHeldPathAndDequeues(t *testing.T) {
	tbl := New(5 * time.Second)
	require.True(t, tbl.Claim("a1", "Agent1", "/x", "", 0).Granted)
	require.True(t, tbl.Claim("a1", "Agent1", "/y", "", 0).Granted)
	// a2 queues on /x.
	tbl.Claim("a2", "Agent2", "/x", "", 0)

	released := tbl.ReleaseAllForAgent("a1")
	assert.ElementsMatch(t, []string{"/x", "/y"}, released)

	chk := tbl.Check("/x")
	assert.Equal(t, "a2", chk.HolderID)
}

func TestRevokeUnconditionallyRemovesAndAutoGrants(t *testing.T) {
	tbl := New(5 * time.Second)
	require.True(t, tbl.Claim("a1", "Agent1", "/f", "", 0).Granted)
	tbl.Claim("a2", "Agent2", "/f", "", 0)

	res := tbl.Revoke("/f")
	assert.True(t, res.Revoked)
	assert.Equal(t, "a1", res.HolderID)

	chk := tbl.Check("/f")
	assert.Equal(t, "a2", chk.HolderID)
}

func TestInvariantsAfterMixedWorkload(t *testing.T) {
	tbl := New(5 * time.Second)
	require.True(t, tbl.Claim("a1", "Agent1", "/a", "", 0).Granted)
	require.True(t, tbl.Claim("a2", "Agent2", "/b", "", 0).Granted)
	tbl.Claim("a3", "Agent3", "/a", "", 0)

	assert.Equal(t, 2, tbl.Size())

	snap := tbl.Snapshot()
	for _, l := range snap.Locks {
		for path, q := range snap.WaitQueues {
			assert.NotEmpty(t, q, "no empty wait-queue entries retained: %s", path)
		}
		_ = l
	}

	tbl.Release("a1", "/a")
	snap = tbl.Snapshot()
	assert.NotContains(t, snap.WaitQueues, "/a")
}

func TestDisposeStopsTimersAndClearsState(t *testing.T) {
	tbl := New(50 * time.Millisecond)
	require.True(t, tbl.Claim("a1", "Agent1", "/a", "", 0).Granted)
	tbl.Dispose()
	assert.Equal(t, 0, tbl.Size())

	time.Sleep(100 * time.Millisecond)
	chk := tbl.Check("/a")
	assert.True(t, chk.Available)
}
