// Package transport defines the byte-pipe abstraction the engine runs on
// top of. Exactly one concrete implementation ships today: unixtransport,
// backed by net.UnixConn. A QNX resource-manager implementation is named in
// the design but is not buildable from this environment; qnxtransport's
// Dial and Listen return model.ErrUnsupportedTransport so callers can fail
// fast instead of linking against code that can never run.
package transport

import (
	"context"
	"net"

	"github.com/qorix-group/message-passing/internal/domain/model"
)

// Addr identifies a service endpoint. Identifier is the same opaque,
// normalized string carried in model.ServiceProtocolConfig; a particular
// Transport decides how to turn it into a platform address (Unix domain
// sockets prefix it with an abstract-namespace marker; QNX would resolve it
// through the resource manager namespace).
type Addr struct {
	Identifier string
}

// Conn is a single bidirectional connection between a client and a server,
// already established.
type Conn interface {
	net.Conn

	// PeerIdentity returns the OS-reported credentials of the remote end of
	// this connection, when the underlying transport can provide them.
	PeerIdentity() (model.ClientIdentity, error)
}

// Listener accepts incoming connections for a single service identifier.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Close() error
	Addr() Addr
}

// Transport is the platform-specific factory for listeners and outbound
// connections. The engine holds exactly one Transport for its lifetime.
type Transport interface {
	// Dial opens a client connection to addr. It returns
	// model.ErrAccessDenied, model.ErrIoError, or a wrapped net error if the
	// server is not reachable.
	Dial(ctx context.Context, addr Addr) (Conn, error)

	// Listen starts accepting connections for addr.
	Listen(ctx context.Context, addr Addr) (Listener, error)
}
