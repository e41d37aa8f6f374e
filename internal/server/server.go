// Package server implements the server side: accepting connections,
// dispatching SEND/REQUEST frames to user callbacks, and the bounded
// Reply/Notify slots each connection is allotted.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qorix-group/message-passing/internal/diagnostics"
	"github.com/qorix-group/message-passing/internal/domain/model"
	"github.com/qorix-group/message-passing/internal/engine"
	"github.com/qorix-group/message-passing/internal/transport"
)

// ConnectFunc decides whether to accept an incoming connection. Returning an
// error (typically model.ErrAccessDenied) rejects it; userData is otherwise
// stashed on the Connection for the lifetime of the session. If userData
// implements ConnectionHandler, the session's frames and disconnect are
// dispatched to it instead of Config's callbacks.
type ConnectFunc func(conn *Connection) (userData any, err error)

// DisconnectFunc is invoked once a connection's session ends, for any
// reason (peer closed, RequestDisconnect, server shutdown).
type DisconnectFunc func(conn *Connection)

// MessageFunc handles a single SEND or REQUEST frame. For a REQUEST, the
// handler is expected to eventually call conn.Reply (possibly
// asynchronously, from another goroutine) before the error return; the
// return value only reports whether the frame itself was accepted.
type MessageFunc func(conn *Connection, payload []byte) error

// ConnectionHandler lets a session own its callbacks directly instead of
// going through the Server-wide ConnectFunc/MessageFunc table. Set it as
// userData in ConnectFunc's return value.
type ConnectionHandler interface {
	OnSend(conn *Connection, payload []byte) error
	OnRequest(conn *Connection, payload []byte) error
	OnDisconnect(conn *Connection)
}

// Config bundles the callback table a Server dispatches to.
type Config struct {
	Connect         ConnectFunc
	Disconnect      DisconnectFunc
	OnSend          MessageFunc
	OnSendWithReply MessageFunc

	// History, if set, receives a record of every disconnect this Server
	// processes, for the /debug/disconnects endpoint and postmortem
	// logging. Nil disables recording.
	History *diagnostics.DisconnectHistory
}

// Server accepts connections for a single service identifier and dispatches
// their frames through Config's callback table.
type Server struct {
	eng    *engine.Engine
	proto  model.ServiceProtocolConfig
	cfg    model.ServerConfig
	config Config
	logger *slog.Logger

	mu           sync.Mutex
	listener     transport.Listener
	cancelAccept context.CancelFunc
	connections  map[*Connection]struct{}
}

// New constructs a Server. Call StartListening to begin accepting.
func New(eng *engine.Engine, proto model.ServiceProtocolConfig, cfg model.ServerConfig, config Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	proto, err := proto.Normalize()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		eng:         eng,
		proto:       proto,
		cfg:         cfg,
		config:      config,
		logger:      logger,
		connections: make(map[*Connection]struct{}, cfg.PreAllocConnections),
	}, nil
}

// StartListening opens the listening socket and begins accepting
// connections in a background goroutine.
func (s *Server) StartListening() error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: already listening", model.ErrInvalid)
	}
	ctx, cancel := context.WithCancel(context.Background())
	ln, err := s.eng.Listen(ctx, transport.Addr{Identifier: s.proto.Identifier})
	if err != nil {
		cancel()
		s.mu.Unlock()
		return err
	}
	s.listener = ln
	s.cancelAccept = cancel
	s.mu.Unlock()

	go s.acceptLoop(ctx, ln)
	return nil
}

// StopListening closes the listener and every connection it ever accepted.
// It blocks until the dispatch goroutine has processed the cleanup of each
// connection.
func (s *Server) StopListening() {
	s.mu.Lock()
	ln := s.listener
	cancel := s.cancelAccept
	s.listener = nil
	s.cancelAccept = nil
	conns := make([]*Connection, 0, len(s.connections))
	for c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ln != nil {
		ln.Close()
	}
	var g errgroup.Group
	for _, c := range conns {
		c := c
		g.Go(func() error {
			c.requestDisconnect(model.StopReasonShutdown)
			return nil
		})
	}
	g.Wait()
}

func (s *Server) acceptLoop(ctx context.Context, ln transport.Listener) {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			return
		}
		s.onAccepted(conn)
	}
}

func (s *Server) onAccepted(rawConn transport.Conn) {
	identity, err := rawConn.PeerIdentity()
	if err != nil {
		s.logger.Debug("could not read peer identity", "error", err)
	}

	c := &Connection{
		server:       s,
		conn:         rawConn,
		identity:     identity,
		notifySlots:  make(chan struct{}, s.cfg.MaxQueuedNotifies),
	}
	for i := 0; i < s.cfg.MaxQueuedNotifies; i++ {
		c.notifySlots <- struct{}{}
	}

	var userData any
	if s.config.Connect != nil {
		userData, err = s.config.Connect(c)
		if err != nil {
			rawConn.Close()
			return
		}
	}
	c.userData = userData
	if h, ok := userData.(ConnectionHandler); ok {
		c.handler = h
	}

	s.mu.Lock()
	s.connections[c] = struct{}{}
	s.mu.Unlock()

	ep := &engine.Endpoint{
		Conn:         rawConn,
		MaxReceive:   s.proto.MaxSendSize,
		OnFrame:      c.handleFrame,
		OnDisconnect: c.handleDisconnect,
		Owner:        c,
	}
	c.ep = ep

	s.eng.EnqueueCommand(time.Time{}, func(time.Time) { s.eng.RegisterEndpoint(ep) }, nil)
}

// ConnectionCount reports how many sessions are currently accepted, for
// diagnostics.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}

func (s *Server) forget(c *Connection) {
	s.mu.Lock()
	delete(s.connections, c)
	s.mu.Unlock()
}
