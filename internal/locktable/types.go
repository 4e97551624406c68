// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package locktable implements the daemon's FileLockTable (component
// L4): the single authority on which agent may edit a given
// file path at a given instant, with FIFO wait queues, per-lock
// timeouts, and wait-graph deadlock detection.
package locktable

import "time"

// EventType identifies the kind of lock-table event delivered to the
// single onEvent listener.
type EventType string

const (
	EventContention   EventType = "contention"
	EventTimeout      EventType = "timeout"
	EventDeadlock     EventType = "deadlock"
	EventReleased     EventType = "released"
	EventQueueGranted EventType = "queue_granted"
)

// Event is delivered synchronously to the table's listener.
type Event struct {
	Type EventType
	Path string

	// AgentID/AgentName identify the agent the event is about: the
	// new contender on contention, the dispossessed holder on
	// timeout, the agent that just received the lock on
	// queue_granted, and so on. Meaning varies by Type; see the
	// field comments on the call sites in table.go.
	AgentID   string
	AgentName string

	// NextWaiter is set on EventReleased when a waiter was
	// auto-granted the freed lock.
	NextWaiter string

	// Cycle is set on EventDeadlock: the agent ids around the wait-for
	// cycle, starting at the agent whose claim closed it; that first id
	// is not repeated at the end.
	Cycle []string
}

// Listener receives lock-table events. Exactly one may be registered
// at a time, and it is invoked synchronously on the calling goroutine.
type Listener func(Event)

// Lock is a granted lock.
type Lock struct {
	Path      string
	HolderID  string
	Holder    string
	GrantedAt time.Time
	Timeout   time.Duration
	Purpose   string
}

// WaitRequest is one entry in a path's FIFO wait queue.
type WaitRequest struct {
	Path        string
	RequesterID string
	Requester   string
	RequestedAt time.Time
}

// ClaimResult is returned by Claim.
type ClaimResult struct {
	Granted     bool
	AlreadyHeld bool
	Holder      string
	HolderID    string
	QueuePos    int
}

// ReleaseResult is returned by Release.
type ReleaseResult struct {
	Released   bool
	NextWaiter string
}

// CheckResult is returned by Check.
type CheckResult struct {
	Available   bool
	Holder      string
	HolderID    string
	HolderName  string
	QueueLength int
}

// RevokeResult is returned by Revoke.
type RevokeResult struct {
	Revoked  bool
	HolderID string
}
