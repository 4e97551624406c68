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
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tau-assistant/tau-daemon/internal/bus"
)

type echoDispatcher struct {
	calls chan string
}

func (d *echoDispatcher) Handle(ctx context.Context, clientID, method string, params json.RawMessage) (any, *Error) {
	if d.calls != nil {
		d.calls <- method
	}
	if method == "boom" {
		return nil, &Error{Code: CodeInternalError, Message: "boom"}
	}
	return map[string]string{"echo": method}, nil
}

func dialSocket(t *testing.T, socketPath string) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{
		NetDial: func(network, addr string) (net.Conn, error) {
			return net.Dial("unix", socketPath)
		},
		HandshakeTimeout: 5 * time.Second,
	}
	ws, _, err := dialer.Dial("ws://unix/", http.Header{})
	require.NoError(t, err)
	return ws
}

func TestServerRoundTripsRequestsAndResponses(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "tau-daemon.sock")

	b := bus.New()
	srv := New(Config{
		SocketPath:   socketPath,
		Dispatcher:   &echoDispatcher{},
		Bus:          b,
		PingInterval: 100 * time.Millisecond,
		PingTimeout:  2 * time.Second,
	})
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Shutdown(context.Background())

	ws := dialSocket(t, socketPath)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "daemon.health"}))

	var resp Response
	require.NoError(t, ws.ReadJSON(&resp))
	assert.Nil(t, resp.Error)
	assert.JSONEq(t, `{"echo":"daemon.health"}`, string(resp.Result))

	require.Eventually(t, func() bool {
		return srv.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestServerReturnsDispatcherErrors(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "tau-daemon.sock")

	srv := New(Config{SocketPath: socketPath, Dispatcher: &echoDispatcher{}})
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Shutdown(context.Background())

	ws := dialSocket(t, socketPath)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(Request{JSONRPC: "2.0", ID: json.RawMessage(`2`), Method: "boom"}))

	var resp Response
	require.NoError(t, ws.ReadJSON(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInternalError, resp.Error.Code)
}

func TestServerSkipsResponseForNotifications(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "tau-daemon.sock")

	calls := make(chan string, 1)
	srv := New(Config{SocketPath: socketPath, Dispatcher: &echoDispatcher{calls: calls}})
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Shutdown(context.Background())

	ws := dialSocket(t, socketPath)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(Request{JSONRPC: "2.0", Method: "fire_and_forget"}))

	select {
	case method := <-calls:
		assert.Equal(t, "fire_and_forget", method)
	case <-time.After(time.Second):
		t.Fatal("dispatcher was never invoked for the notification")
	}

	require.NoError(t, ws.WriteJSON(Request{JSONRPC: "2.0", ID: json.RawMessage(`3`), Method: "daemon.health"}))
	var resp Response
	require.NoError(t, ws.ReadJSON(&resp))
	assert.JSONEq(t, `{"echo":"daemon.health"}`, string(resp.Result))
}

func TestServerEnforcesRateLimit(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "tau-daemon.sock")

	srv := New(Config{
		SocketPath:         socketPath,
		Dispatcher:         &echoDispatcher{},
		RateLimitPerSecond: 1,
		RateBurst:          1,
	})
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Shutdown(context.Background())

	ws := dialSocket(t, socketPath)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "daemon.health"}))
	var first Response
	require.NoError(t, ws.ReadJSON(&first))
	assert.Nil(t, first.Error)

	require.NoError(t, ws.WriteJSON(Request{JSONRPC: "2.0", ID: json.RawMessage(`2`), Method: "daemon.health"}))
	var second Response
	require.NoError(t, ws.ReadJSON(&second))
	require.NotNil(t, second.Error)
	assert.Equal(t, CodeRateLimited, second.Error.Code)
}

func TestBusBroadcastDeliversToConnectedClient(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "tau-daemon.sock")

	b := bus.New()
	srv := New(Config{SocketPath: socketPath, Dispatcher: &echoDispatcher{}, Bus: b})
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Shutdown(context.Background())

	ws := dialSocket(t, socketPath)
	defer ws.Close()

	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	b.Broadcast("daemon.heartbeat", map[string]any{"pid": 123})

	var note Notification
	require.NoError(t, ws.ReadJSON(&note))
	assert.Equal(t, "daemon.heartbeat", note.Method)

	var params map[string]any
	require.NoError(t, json.Unmarshal(note.Params, &params))
	assert.Equal(t, float64(123), params["pid"])
	assert.Equal(t, float64(1), params["_seq"])
}

func TestShutdownNotifiesAndClosesClients(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "tau-daemon.sock")

	b := bus.New()
	srv := New(Config{SocketPath: socketPath, Dispatcher: &echoDispatcher{}, Bus: b})
	require.NoError(t, srv.Start(context.Background()))

	ws := dialSocket(t, socketPath)
	defer ws.Close()
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Shutdown(context.Background()))

	var note Notification
	require.NoError(t, ws.ReadJSON(&note))
	assert.Equal(t, "daemon.shutdown", note.Method)

	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
}
