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
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tau-assistant/tau-daemon/internal/bus"
	"github.com/tau-assistant/tau-daemon/internal/paths"
	"github.com/tau-assistant/tau-daemon/pkg/logging"
)

// Config configures a Server.
type Config struct {
	SocketPath string
	Dispatcher Dispatcher
	Bus        *bus.Bus
	Log        *logging.Logger

	// RateLimitPerSecond/RateBurst bound each client's sustained and
	// bursted inbound request rate. Zero disables limiting.
	RateLimitPerSecond float64
	RateBurst          int

	// PingInterval is how often the server pings an idle connection;
	// PingTimeout is how long it waits for the matching pong before
	// considering the connection dead.
	PingInterval time.Duration
	PingTimeout  time.Duration
}

// Server serves JSON-RPC 2.0 over gorilla/websocket connections
// accepted on a Unix-domain socket, via gin. One Server exists for the
// life of the daemon process.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	engine   *gin.Engine
	http     *http.Server
	listener net.Listener

	mu      sync.Mutex
	clients map[string]*Conn

	pingStop chan struct{}
	wg       sync.WaitGroup
}

// New builds a Server. Call Start to begin accepting connections.
func New(cfg Config) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 10 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 15 * time.Second
	}

	s := &Server{
		cfg:     cfg,
		clients: make(map[string]*Conn),
		upgrader: websocket.Upgrader{
			// Local IPC over a Unix socket has no meaningful Origin to
			// check — every caller is a process on this machine with
			// filesystem access to the socket path.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1 << 20,
			WriteBufferSize: 1 << 20,
		},
	}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.engine.GET("/", s.handleUpgrade)

	s.http = &http.Server{Handler: s.engine}
	return s
}

// Start binds the Unix socket, removing any stale file left behind by
// a prior daemon instance, and begins accepting connections in the
// background. It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	if err := paths.RemoveStaleSocket(s.cfg.SocketPath); err != nil {
		return fmt.Errorf("rpctransport: removing stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("rpctransport: listening on %s: %w", s.cfg.SocketPath, err)
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("rpctransport: setting socket permissions: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			if s.cfg.Log != nil {
				s.cfg.Log.Error("rpctransport: server stopped", "error", err)
			}
		}
	}()

	s.pingStop = make(chan struct{})
	s.wg.Add(1)
	go s.pingLoop()

	return nil
}

func (s *Server) handleUpgrade(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if s.cfg.Log != nil {
			s.cfg.Log.Warn("rpctransport: websocket upgrade failed", "error", err)
		}
		return
	}

	id := uuid.NewString()
	var limiter *rate.Limiter
	if s.cfg.RateLimitPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RateLimitPerSecond), s.cfg.RateBurst)
	}

	conn := newConn(id, ws, limiter, s.cfg.Log, s.removeClient)

	s.mu.Lock()
	s.clients[id] = conn
	s.mu.Unlock()

	if s.cfg.Bus != nil {
		s.cfg.Bus.Register(id, conn)
	}

	if s.cfg.Log != nil {
		s.cfg.Log.Info("rpctransport: client connected", "client", id)
	}

	conn.readLoop(c.Request.Context(), s.cfg.Dispatcher, s.cfg.PingTimeout)
}

func (s *Server) removeClient(id string) {
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()

	if s.cfg.Bus != nil {
		s.cfg.Bus.Unregister(id)
	}
	if s.cfg.Log != nil {
		s.cfg.Log.Info("rpctransport: client disconnected", "client", id)
	}
}

// ClientCount returns the number of currently connected clients,
// feeding heartbeat's connectedClients field.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) pingLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.pingStop:
			return
		case <-ticker.C:
			s.mu.Lock()
			conns := make([]*Conn, 0, len(s.clients))
			for _, c := range s.clients {
				conns = append(conns, c)
			}
			s.mu.Unlock()

			for _, c := range conns {
				if err := c.writePing(); err != nil && s.cfg.Log != nil {
					s.cfg.Log.Warn("rpctransport: ping failed", "client", c.ID(), "error", err)
				}
			}
		}
	}
}

// Shutdown broadcasts daemon.shutdown, closes every connection, stops
// the listener, and removes the socket file. It is the final transport
// action the daemon takes before exiting.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cfg.Bus != nil {
		s.cfg.Bus.Broadcast("daemon.shutdown", nil)
	}

	if s.pingStop != nil {
		close(s.pingStop)
	}

	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.clients))
	for _, c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}

	err := s.http.Shutdown(ctx)
	s.wg.Wait()

	if rmErr := paths.RemoveStaleSocket(s.cfg.SocketPath); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}
