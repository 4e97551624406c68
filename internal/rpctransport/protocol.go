// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rpctransport implements the daemon's client transport
// (component L2): JSON-RPC 2.0 framed as gorilla/websocket messages over
// a Unix-domain socket served through gin. The listener is always a
// Unix-domain socket; Windows named pipes are not supported.
package rpctransport

import (
	"context"
	"encoding/json"
)

// Request is an inbound JSON-RPC 2.0 call or notification. Params may
// be a positional array or a named object; Dispatcher implementations
// are responsible for accepting both, per method.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id, per the
// JSON-RPC 2.0 spec's definition of a notification (no response
// expected, none sent).
func (r Request) IsNotification() bool { return len(r.ID) == 0 }

// Response is an outbound JSON-RPC 2.0 reply. Exactly one of Result or
// Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object. Codes follow the standard
// reserved ranges plus a daemon-specific block for domain errors.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// Standard JSON-RPC 2.0 error codes, plus the daemon's own extensions.
// Recoverable application errors (a lock already held, an extension
// with no matching tool, ...) are never one of these codes: they ride
// inside a successful result value instead, per the two-level error
// taxonomy. Only protocol-level failures get a code here.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeAgentNotReady means the handler needed the main agent session
	// and it has not finished initializing yet.
	CodeAgentNotReady = -32000

	// CodeShuttingDown means the daemon is mid-shutdown and is no
	// longer accepting new work.
	CodeShuttingDown = -32001

	// CodeRateLimited is a daemon-specific extension below the reserved
	// block above: the client exceeded its configured inbound request
	// rate.
	CodeRateLimited = -32002
)

// Notification is an outbound, un-replied-to server push: a bus
// broadcast or a direct message to one client.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Dispatcher handles one decoded RPC call and returns either a result
// (marshaled to json.RawMessage by the caller) or an Error. Handle must
// not block indefinitely — ctx is canceled when the owning connection
// closes. The concrete implementation (the method router, L13) is
// injected into Server at construction time so this package has no
// dependency on the method catalogue.
type Dispatcher interface {
	Handle(ctx context.Context, clientID, method string, params json.RawMessage) (result any, rpcErr *Error)
}
