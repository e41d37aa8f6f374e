package model

import (
	"fmt"
	"strings"
)

// MaxIdentifierLength is the largest identifier accepted by
// ServiceProtocolConfig, matching the 256-byte boundary from §8.3.
const MaxIdentifierLength = 256

// ServiceProtocolConfig is the part of the configuration shared between a
// client and the server it talks to.
type ServiceProtocolConfig struct {
	// Identifier is the opaque, case-sensitive service name. A leading '/'
	// is stripped. Must be non-empty and at most MaxIdentifierLength bytes.
	Identifier string

	// MaxSendSize bounds client-to-server payloads.
	MaxSendSize uint32

	// MaxReplySize bounds server-to-client REPLY payloads.
	MaxReplySize uint32

	// MaxNotifySize bounds server-to-client NOTIFY payloads.
	MaxNotifySize uint32
}

// Normalize strips a leading '/' from Identifier and validates the result.
func (c ServiceProtocolConfig) Normalize() (ServiceProtocolConfig, error) {
	c.Identifier = strings.TrimPrefix(c.Identifier, "/")
	if c.Identifier == "" {
		return c, fmt.Errorf("%w: identifier must not be empty", ErrInvalid)
	}
	if len(c.Identifier) > MaxIdentifierLength {
		return c, fmt.Errorf("%w: identifier exceeds %d bytes", ErrInvalid, MaxIdentifierLength)
	}
	return c, nil
}

// MaxReceiveSize is the larger of MaxReplySize and MaxNotifySize: the size a
// client connection must be prepared to receive.
func (c ServiceProtocolConfig) MaxReceiveSize() uint32 {
	if c.MaxReplySize > c.MaxNotifySize {
		return c.MaxReplySize
	}
	return c.MaxNotifySize
}

// ClientConfig configures a single client connection's queueing behavior.
type ClientConfig struct {
	// MaxAsyncReplies sizes the reply-callback slot pool (SendWithCallback /
	// SendWaitReply queued while a request is outstanding).
	MaxAsyncReplies int

	// MaxQueuedSends sizes the fire-and-forget slot pool.
	MaxQueuedSends int

	// FullyOrdered, when true, serializes SEND and REQUEST delivery through
	// a single queue instead of transmitting unordered SENDs directly.
	FullyOrdered bool

	// TrulyAsync, when true, makes Send/SendWithCallback always transmit on
	// the engine's dispatch goroutine. Requires MaxQueuedSends > 0.
	TrulyAsync bool

	// SyncFirstConnect, when true, runs the first connect attempt on the
	// caller's goroutine during Start instead of deferring it to the engine.
	SyncFirstConnect bool
}

// SlotCapacity is the total number of send slots this configuration
// allocates: queued sends plus outstanding/queued replies.
func (c ClientConfig) SlotCapacity() int {
	return c.MaxQueuedSends + c.MaxAsyncReplies
}

// Validate rejects configurations that can never make progress.
func (c ClientConfig) Validate() error {
	if c.TrulyAsync && c.MaxQueuedSends <= 0 {
		return fmt.Errorf("%w: truly-async clients require MaxQueuedSends > 0", ErrInvalid)
	}
	return nil
}

// ServerConfig configures a listening Server and the per-connection pools it
// hands out.
type ServerConfig struct {
	// MaxQueuedSends must be >= 1. Validate checks it; the server does not
	// size any queue from it.
	MaxQueuedSends int

	// PreAllocConnections is a sizing hint for the connection table; it does
	// not bound the number of concurrent sessions.
	PreAllocConnections int

	// MaxQueuedNotifies sizes the notify slot pool. Zero disables
	// notifications entirely for this server.
	MaxQueuedNotifies int
}

// Validate rejects configurations outside the documented bounds.
func (c ServerConfig) Validate() error {
	if c.MaxQueuedSends < 1 {
		return fmt.Errorf("%w: MaxQueuedSends must be >= 1", ErrInvalid)
	}
	if c.MaxQueuedNotifies < 0 {
		return fmt.Errorf("%w: MaxQueuedNotifies must be >= 0", ErrInvalid)
	}
	return nil
}
