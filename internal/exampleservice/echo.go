// Package exampleservice is a minimal server-side handler demonstrating the
// server package: it accepts every connection, uppercases SEND/REQUEST
// payloads, and fans REQUEST results back as a REPLY. It exists so cmd/ has
// something concrete to wire through fx and so the end-to-end tests have a
// realistic handler to drive.
package exampleservice

import (
	"bytes"
	"log/slog"

	"github.com/qorix-group/message-passing/internal/server"
)

// Echo implements server.ConnectionHandler. One Echo is created per
// accepted connection.
type Echo struct {
	logger *slog.Logger
}

// Connect is a server.ConnectFunc: it accepts every connection and hands
// back a fresh per-connection Echo as userData.
func Connect(logger *slog.Logger) server.ConnectFunc {
	return func(conn *server.Connection) (any, error) {
		identity := conn.ClientIdentity()
		logger.Info("client connected", "pid", identity.PID, "uid", identity.UID)
		return &Echo{logger: logger}, nil
	}
}

// OnSend uppercases the payload and fires it back as a notification.
func (e *Echo) OnSend(conn *server.Connection, payload []byte) error {
	return conn.Notify(bytes.ToUpper(payload))
}

// OnRequest uppercases the payload and replies with it.
func (e *Echo) OnRequest(conn *server.Connection, payload []byte) error {
	return conn.Reply(bytes.ToUpper(payload))
}

// OnDisconnect logs the session end; the server has already forgotten the
// connection by the time this runs.
func (e *Echo) OnDisconnect(conn *server.Connection) {
	identity := conn.ClientIdentity()
	e.logger.Info("client disconnected", "pid", identity.PID, "uid", identity.UID)
}
