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
	"time"

	"github.com/tau-assistant/tau-daemon/internal/rpctransport"
)

// daemonHandlers are the three daemon-only methods: none of them is
// proxied from a client UI channel, they exist for the daemon's own
// diagnostics and lifecycle.
func (r *Router) daemonHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"daemon.health":   r.daemonHealth,
		"daemon.shutdown": r.daemonShutdown,
		"daemon.recover":  r.daemonRecover,
	}
}

func (r *Router) daemonHealth(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	connected := 0
	if r.connectedClients != nil {
		connected = r.connectedClients()
	}
	streaming, activeSubagents := false, 0
	select {
	case <-r.host.Ready():
		streaming, activeSubagents = r.host.Stats()
	default:
	}

	return map[string]any{
		"status":           "ok",
		"version":          r.version,
		"pid":              os.Getpid(),
		"uptimeSeconds":    time.Since(r.startedAt).Seconds(),
		"connectedClients": connected,
		"streaming":        streaming,
		"activeSubagents":  activeSubagents,
	}, nil
}

// daemonShutdown acknowledges immediately and triggers graceful
// teardown a moment later, so the JSON-RPC response reaches the
// caller before the transport that carries it is torn down.
func (r *Router) daemonShutdown(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	p, err := bindParams(raw, "reason")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	reason := paramStringOr(p, "reason", "client requested shutdown")

	if r.shutdown != nil {
		if r.log != nil {
			r.log.Info("rpcrouter: shutdown requested", "client", clientID, "reason", reason)
		}
		shutdownFn := r.shutdown
		go func() {
			time.Sleep(50 * time.Millisecond)
			shutdownFn(reason)
		}()
	}
	return map[string]any{"shuttingDown": true, "reason": reason}, nil
}

// daemonRecover returns a full state snapshot for a reconnecting
// client: current readiness, the main session's transcript, the
// subagent list, every buffered notification since lastSeq, and
// whether the client must fall back to a full resync instead of
// replaying the buffer.
func (r *Router) daemonRecover(ctx context.Context, clientID string, raw json.RawMessage) (any, *rpctransport.Error) {
	p, err := bindParams(raw, "lastSeq")
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	lastSeq, _ := paramUint64(p, "lastSeq")

	fullRecoveryRequired := false
	status := "not_ready"
	var history any = []any{}

	select {
	case <-r.host.Ready():
		if readyErr := r.host.ReadyErr(); readyErr != nil {
			status = "errored"
			fullRecoveryRequired = true
		} else {
			status = "ready"
			if sess, ok := r.host.MainSession(); ok {
				history = sess.History()
			}
		}
	default:
		fullRecoveryRequired = true
	}

	var subagents any = []any{}
	if mgr, ok := r.host.Manager(); ok {
		subagents = mgr.ListAll()
	}

	buffered := r.recoverBuf.Since(lastSeq)
	if lastSeq == 0 {
		// A client with no prior seq has nothing to resume from: there
		// is no meaningful "since" point, so don't hand back the whole
		// buffer as if it were a gap-fill.
		buffered = []bufferedEvent{}
	}

	return map[string]any{
		"status":               status,
		"history":              history,
		"subagents":            subagents,
		"bufferedEvents":       buffered,
		"fullRecoveryRequired": fullRecoveryRequired,
	}, nil
}
