// Package model holds the shared value types and sentinel errors used across
// the message-passing core: protocol configuration, connection state, client
// identity, and the error taxonomy surfaced to callers.
package model

import "errors"

// Sentinel errors surfaced by the public client/server APIs. Transport-level
// failures are wrapped around one of these with fmt.Errorf("...: %w", ...) so
// errors.Is keeps working after wrapping.
var (
	// ErrNoMemory is returned when a bounded slot pool is exhausted or a
	// payload exceeds the negotiated size limit.
	ErrNoMemory = errors.New("message passing: no memory")

	// ErrInvalid is returned when an API is called while the connection is
	// not in the state required for it (usually: not Ready).
	ErrInvalid = errors.New("message passing: invalid state")

	// ErrTryAgain is returned when a blocking API is invoked from the
	// engine's dispatch goroutine, where blocking would deadlock the reactor.
	ErrTryAgain = errors.New("message passing: try again")

	// ErrBrokenPipe is delivered to pending reply callbacks when the
	// connection is torn down while a request is outstanding.
	ErrBrokenPipe = errors.New("message passing: broken pipe")

	// ErrAccessDenied is surfaced when the OS refuses a connect attempt. A
	// server's ConnectFunc may return it to reject an incoming session; the
	// server then only closes the socket, and the client observes the
	// connection closed by its peer rather than this error.
	ErrAccessDenied = errors.New("message passing: access denied")

	// ErrIoError covers unexpected failures of transport reads, writes,
	// dials and accepts. A read cut short by the peer is reported as
	// ErrClosedByPeer instead, and frames with an unknown opcode are ignored
	// by client and server rather than reported with this error.
	ErrIoError = errors.New("message passing: io error")

	// ErrClosedByPeer is surfaced when the peer cleanly shut down the
	// transport.
	ErrClosedByPeer = errors.New("message passing: closed by peer")

	// ErrMessageTooLarge is returned by the wire codec when a received
	// frame's declared length exceeds the receive buffer capacity.
	ErrMessageTooLarge = errors.New("message passing: message too large")

	// ErrUnsupportedTransport is returned by transport constructors that are
	// documented but not implemented on the current platform (QNX).
	ErrUnsupportedTransport = errors.New("message passing: unsupported transport")
)
