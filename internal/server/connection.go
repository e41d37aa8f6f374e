package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/qorix-group/message-passing/internal/domain/model"
	"github.com/qorix-group/message-passing/internal/domain/wire"
	"github.com/qorix-group/message-passing/internal/engine"
	"github.com/qorix-group/message-passing/internal/transport"
)

// Connection is one accepted client session. A Connection is only ever
// touched on the engine's dispatch goroutine by Connection's own callbacks,
// but Reply, Notify, and RequestDisconnect are safe to call from any
// goroutine: they marshal their work onto the dispatch goroutine if needed.
type Connection struct {
	server   *Server
	conn     transport.Conn
	ep       *engine.Endpoint
	identity model.ClientIdentity
	userData any
	handler  ConnectionHandler

	writeMu sync.Mutex

	mu             sync.Mutex
	replyPending   bool
	disconnectOnce sync.Once

	notifySlots chan struct{}
}

// ClientIdentity returns the OS-reported identity of the connected peer.
func (c *Connection) ClientIdentity() model.ClientIdentity {
	return c.identity
}

// UserData returns the value ConnectFunc (or ConnectionHandler) returned
// when this session was accepted.
func (c *Connection) UserData() any {
	return c.userData
}

// Reply answers the single outstanding REQUEST on this connection. Calling
// it with no REQUEST outstanding, or calling it twice for the same REQUEST,
// returns model.ErrInvalid.
func (c *Connection) Reply(payload []byte) error {
	if uint32(len(payload)) > c.server.proto.MaxReplySize {
		return fmt.Errorf("%w: reply of %d bytes exceeds MaxReplySize", model.ErrNoMemory, len(payload))
	}
	c.mu.Lock()
	if !c.replyPending {
		c.mu.Unlock()
		return fmt.Errorf("%w: no request is outstanding on this connection", model.ErrInvalid)
	}
	c.replyPending = false
	c.mu.Unlock()

	return c.write(uint8(wire.OpReply), payload)
}

// Notify sends an unsolicited message to the client, consuming one of the
// connection's bounded notify slots. Returns model.ErrNoMemory if the pool
// is currently exhausted; the caller may retry once an earlier Notify's
// write has completed.
func (c *Connection) Notify(payload []byte) error {
	if uint32(len(payload)) > c.server.proto.MaxNotifySize {
		return fmt.Errorf("%w: notification of %d bytes exceeds MaxNotifySize", model.ErrNoMemory, len(payload))
	}
	select {
	case <-c.notifySlots:
	default:
		return fmt.Errorf("%w: notify slot pool exhausted", model.ErrNoMemory)
	}
	defer func() { c.notifySlots <- struct{}{} }()

	return c.write(uint8(wire.OpNotify), payload)
}

func (c *Connection) write(opcode uint8, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return engine.SendFrame(c.conn, opcode, payload)
}

// RequestDisconnect tears the session down from the server side. Safe to
// call from any goroutine and more than once.
func (c *Connection) RequestDisconnect() {
	c.requestDisconnect(model.StopReasonUserRequested)
}

func (c *Connection) requestDisconnect(reason model.StopReason) {
	if c.server.eng.IsOnCallbackThread() {
		if c.ep != nil {
			c.server.eng.UnregisterEndpoint(c.ep)
		}
		c.disconnect(reason, nil)
		return
	}

	c.server.eng.CleanUpOwner(c) // unregisters c.ep and drops any queued commands owned by c
	done := make(chan struct{})
	c.server.eng.EnqueueCommand(time.Time{}, func(time.Time) {
		c.disconnect(reason, nil)
		close(done)
	}, nil)
	<-done
}

func (c *Connection) handleFrame(frame wire.Frame) {
	switch wire.ClientOpcode(frame.Opcode) {
	case wire.OpSend:
		var err error
		if c.handler != nil {
			err = c.handler.OnSend(c, frame.Payload)
		} else if c.server.config.OnSend != nil {
			err = c.server.config.OnSend(c, frame.Payload)
		}
		if err != nil {
			c.server.logger.Debug("OnSend handler failed", "error", err)
		}
	case wire.OpRequest:
		c.mu.Lock()
		c.replyPending = true
		c.mu.Unlock()

		var err error
		if c.handler != nil {
			err = c.handler.OnRequest(c, frame.Payload)
		} else if c.server.config.OnSendWithReply != nil {
			err = c.server.config.OnSendWithReply(c, frame.Payload)
		}
		if err != nil {
			c.server.logger.Debug("OnRequest handler failed", "error", err)
		}
	}
}

func (c *Connection) handleDisconnect(err error) {
	reason := model.StopReasonIoError
	if errors.Is(err, model.ErrClosedByPeer) {
		reason = model.StopReasonClosedByPeer
	}
	c.disconnect(reason, err)
}

func (c *Connection) disconnect(reason model.StopReason, err error) {
	c.disconnectOnce.Do(func() {
		c.server.forget(c)
		c.conn.Close()
		if c.server.config.History != nil {
			c.server.config.History.Record(c.identity, reason, err)
		}
		if c.handler != nil {
			c.handler.OnDisconnect(c)
		} else if c.server.config.Disconnect != nil {
			c.server.config.Disconnect(c)
		}
	})
}
