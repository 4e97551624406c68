// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rpctransport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tau-assistant/tau-daemon/pkg/logging"
)

// Conn is one connected client's websocket session. It implements
// bus.Client so the notification bus can address it directly, and runs
// its own read loop dispatching inbound requests against the server's
// Dispatcher.
type Conn struct {
	id  string
	ws  *websocket.Conn
	log *logging.Logger

	limiter *rate.Limiter

	writeMu sync.Mutex
	closed  bool

	onClose func(id string)
}

func newConn(id string, ws *websocket.Conn, limiter *rate.Limiter, log *logging.Logger, onClose func(string)) *Conn {
	return &Conn{id: id, ws: ws, limiter: limiter, log: log, onClose: onClose}
}

// ID returns the connection's registry key.
func (c *Conn) ID() string { return c.id }

// Notify implements bus.Client: it frames method/params as a JSON-RPC
// notification and writes it to the socket. Marshal or write failures
// are logged, never panicked — a slow or dead client must not take
// down the broadcaster.
func (c *Conn) Notify(method string, params any) {
	raw, err := json.Marshal(params)
	if err != nil {
		if c.log != nil {
			c.log.Warn("rpctransport: marshaling notification params", "method", method, "error", err)
		}
		return
	}
	c.writeJSON(Notification{JSONRPC: "2.0", Method: method, Params: raw})
}

func (c *Conn) writeJSON(v any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return
	}
	if err := c.ws.WriteJSON(v); err != nil && c.log != nil {
		c.log.Warn("rpctransport: writing to client", "client", c.id, "error", err)
	}
}

func (c *Conn) writePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

// close marks the connection closed and releases the underlying
// socket. Safe to call more than once.
func (c *Conn) close() {
	c.writeMu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.writeMu.Unlock()
	if alreadyClosed {
		return
	}
	_ = c.ws.Close()
	if c.onClose != nil {
		c.onClose(c.id)
	}
}

// readLoop decodes one JSON-RPC request at a time and hands it to
// dispatcher, writing back a response unless the request was a
// notification. It returns once the socket closes or ctx is canceled.
func (c *Conn) readLoop(ctx context.Context, dispatcher Dispatcher, pingTimeout time.Duration) {
	defer c.close()

	c.ws.SetReadDeadline(time.Now().Add(pingTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pingTimeout))
		return nil
	})

	for {
		var req Request
		if err := c.ws.ReadJSON(&req); err != nil {
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			if !req.IsNotification() {
				c.writeJSON(Response{
					JSONRPC: "2.0",
					ID:      req.ID,
					Error:   &Error{Code: CodeRateLimited, Message: "rate limit exceeded"},
				})
			}
			continue
		}

		go c.handle(ctx, dispatcher, req)
	}
}

func (c *Conn) handle(ctx context.Context, dispatcher Dispatcher, req Request) {
	if req.JSONRPC != "" && req.JSONRPC != "2.0" {
		c.replyError(req, &Error{Code: CodeInvalidRequest, Message: "unsupported jsonrpc version"})
		return
	}
	if req.Method == "" {
		c.replyError(req, &Error{Code: CodeInvalidRequest, Message: "missing method"})
		return
	}

	result, rpcErr := dispatcher.Handle(ctx, c.id, req.Method, req.Params)
	if req.IsNotification() {
		return
	}
	if rpcErr != nil {
		c.replyError(req, rpcErr)
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		c.replyError(req, &Error{Code: CodeInternalError, Message: "marshaling result: " + err.Error()})
		return
	}
	c.writeJSON(Response{JSONRPC: "2.0", ID: req.ID, Result: raw})
}

func (c *Conn) replyError(req Request, rpcErr *Error) {
	if req.IsNotification() {
		if c.log != nil {
			c.log.Warn("rpctransport: notification failed", "method", req.Method, "error", rpcErr.Message)
		}
		return
	}
	c.writeJSON(Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr})
}
