// Package client implements the client side of a connection: dialing a
// server, retrying with backoff while establishing the channel, and the
// three send entry points (fire-and-forget, blocking request/reply, and
// async request/reply).
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/qorix-group/message-passing/internal/domain/future"
	"github.com/qorix-group/message-passing/internal/domain/model"
	"github.com/qorix-group/message-passing/internal/domain/wire"
	"github.com/qorix-group/message-passing/internal/engine"
	"github.com/qorix-group/message-passing/internal/transport"
)

// StateCallback is invoked whenever the connection's State changes. See
// Connection.Start for the threading contract.
type StateCallback func(model.State)

// NotifyCallback is invoked for every NOTIFY frame received from the
// server.
type NotifyCallback func(payload []byte)

// ReplyCallback is invoked exactly once for a SendWithCallback request, with
// either the reply payload or the error that ended the request (typically
// model.ErrBrokenPipe if the connection was lost first).
type ReplyCallback func(payload []byte, err error)

const (
	initialBackoff = 50 * time.Millisecond
	maxBackoff     = 5000 * time.Millisecond
)

func nextBackoff(d time.Duration) time.Duration {
	grown := d + (d+2)/3
	if grown > maxBackoff {
		return maxBackoff
	}
	return grown
}

// outboundEntry is one queued SEND or REQUEST, in submission order. deliver
// is nil for a fire-and-forget SEND and non-nil for a REQUEST; drainQueues
// tells the two apart by that alone, exactly as a single shared queue of
// tagged entries would in the original.
type outboundEntry struct {
	payload []byte
	deliver func(payload []byte, err error)
}

func (e *outboundEntry) isRequest() bool { return e.deliver != nil }

// Connection is a single client-side connection to one server identifier.
// The zero value is not usable; construct with New.
type Connection struct {
	eng   *engine.Engine
	addr  transport.Addr
	proto model.ServiceProtocolConfig
	cfg   model.ClientConfig

	onState  StateCallback
	onNotify NotifyCallback

	mu         sync.Mutex
	state      model.State
	stopReason model.StopReason
	conn       transport.Conn
	ep         *engine.Endpoint
	cancelDial context.CancelFunc
	backoff    time.Duration

	// entries is the single FIFO of not-yet-transmitted SEND and REQUEST
	// frames, in call order. requestInFlight and inFlightDeliver track the
	// one REQUEST that has been transmitted but not yet replied to; nothing
	// behind it in entries may be drained until the reply arrives.
	requestInFlight bool
	inFlightDeliver func(payload []byte, err error)
	entries         []*outboundEntry
	writeMu         sync.Mutex
}

// New constructs a Connection to the service identified by proto.Identifier,
// using proto for the negotiated size limits and cfg for queueing behavior.
// It starts in State Stopped; call Start to begin connecting.
func New(eng *engine.Engine, proto model.ServiceProtocolConfig, cfg model.ClientConfig) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	proto, err := proto.Normalize()
	if err != nil {
		return nil, err
	}
	return &Connection{
		eng:        eng,
		addr:       transport.Addr{Identifier: proto.Identifier},
		proto:      proto,
		cfg:        cfg,
		state:      model.StateStopped,
		stopReason: model.StopReasonInit,
	}, nil
}

// GetState returns the connection's current lifecycle state.
func (c *Connection) GetState() model.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// GetStopReason returns the reason latched when the connection last entered
// Stopping: StopReasonInit before the first Start, and StopReasonNone while
// the connection is Starting or Ready.
func (c *Connection) GetStopReason() model.StopReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopReason
}

// Start begins connecting. stateCallback is invoked synchronously with
// State Starting before Start returns, then again for every subsequent
// transition: on the dispatch goroutine for transitions the engine drives
// (Ready, a rejected connect, a lost transport), and on the calling
// goroutine for transitions caused by Stop or Restart. notifyCallback is invoked from
// the dispatch goroutine for every NOTIFY frame. Start is a no-op if the
// connection is not in State Stopped.
func (c *Connection) Start(stateCallback StateCallback, notifyCallback NotifyCallback) {
	c.mu.Lock()
	if c.state != model.StateStopped {
		c.mu.Unlock()
		return
	}
	c.onState = stateCallback
	c.onNotify = notifyCallback
	c.state = model.StateStarting
	c.stopReason = model.StopReasonNone
	c.backoff = initialBackoff
	c.mu.Unlock()

	if c.onState != nil {
		c.onState(model.StateStarting)
	}

	if c.cfg.SyncFirstConnect {
		conn, err := c.eng.Dial(context.Background(), c.addr)
		c.eng.EnqueueCommand(time.Time{}, func(time.Time) { c.handleDialResult(conn, err) }, c)
	} else {
		c.scheduleDial(0)
	}
}

// Stop tears the connection down. Any outstanding request is completed with
// model.ErrBrokenPipe. Safe to call from any state; a no-op once the
// connection is already Stopped.
func (c *Connection) Stop() {
	c.transitionToStopped(model.StopReasonUserRequested)
}

// Restart attempts to bring a Stopped connection back to Starting, reusing
// the callbacks passed to the original Start call. It is a no-op unless the
// connection is Stopped, and after a stop with StopReasonShutdown.
func (c *Connection) Restart() {
	c.mu.Lock()
	if c.state != model.StateStopped || c.stopReason == model.StopReasonShutdown {
		c.mu.Unlock()
		return
	}
	c.state = model.StateStarting
	c.stopReason = model.StopReasonNone
	c.backoff = initialBackoff
	onState := c.onState
	c.mu.Unlock()

	if onState != nil {
		onState(model.StateStarting)
	}
	c.scheduleDial(0)
}

func (c *Connection) scheduleDial(after time.Duration) {
	var at time.Time
	if after > 0 {
		at = time.Now().Add(after)
	}
	c.eng.EnqueueCommand(at, func(time.Time) { c.dialOnce() }, c)
}

func (c *Connection) dialOnce() {
	c.mu.Lock()
	if c.state != model.StateStarting {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel
	c.mu.Unlock()

	go func() {
		conn, err := c.eng.Dial(ctx, c.addr)
		c.eng.EnqueueCommand(time.Time{}, func(time.Time) { c.handleDialResult(conn, err) }, c)
	}()
}

func (c *Connection) handleDialResult(conn transport.Conn, err error) {
	c.mu.Lock()
	if c.state != model.StateStarting {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		if errors.Is(err, model.ErrAccessDenied) {
			c.transitionToStopped(model.StopReasonPermission)
			return
		}
		c.mu.Lock()
		backoff := c.backoff
		c.backoff = nextBackoff(c.backoff)
		c.mu.Unlock()
		c.scheduleDial(backoff)
		return
	}

	c.conn = conn
	ep := &engine.Endpoint{
		Conn:         conn,
		MaxReceive:   c.proto.MaxReceiveSize(),
		OnFrame:      c.handleFrame,
		OnDisconnect: c.handleDisconnect,
		Owner:        c,
	}
	c.ep = ep
	c.state = model.StateReady
	onState := c.onState
	c.mu.Unlock()

	c.eng.RegisterEndpoint(ep)
	if onState != nil {
		onState(model.StateReady)
	}
	c.drainQueues()
}

func (c *Connection) handleFrame(frame wire.Frame) {
	switch wire.ServerOpcode(frame.Opcode) {
	case wire.OpReply:
		c.mu.Lock()
		if !c.requestInFlight {
			c.mu.Unlock()
			return
		}
		deliver := c.inFlightDeliver
		c.inFlightDeliver = nil
		c.requestInFlight = false
		c.mu.Unlock()
		deliver(frame.Payload, nil)
		c.drainQueues()
	case wire.OpNotify:
		if c.onNotify != nil {
			c.onNotify(frame.Payload)
		}
	}
}

func (c *Connection) handleDisconnect(err error) {
	reason := model.StopReasonClosedByPeer
	if !errors.Is(err, model.ErrClosedByPeer) {
		reason = model.StopReasonIoError
	}
	c.transitionToStopped(reason)
}

func (c *Connection) transitionToStopped(reason model.StopReason) {
	c.mu.Lock()
	if c.state == model.StateStopped || c.state == model.StateStopping {
		c.mu.Unlock()
		return
	}
	c.state = model.StateStopping
	c.stopReason = reason
	cancel := c.cancelDial
	c.ep = nil
	c.conn = nil
	entries := c.entries
	c.entries = nil
	inFlightDeliver := c.inFlightDeliver
	c.inFlightDeliver = nil
	c.requestInFlight = false
	onState := c.onState
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// CleanUpOwner unregisters this connection's endpoint (if any) and drops
	// any queued dial-retry or drain commands still owned by c.
	c.eng.CleanUpOwner(c)

	if inFlightDeliver != nil {
		inFlightDeliver(nil, model.ErrBrokenPipe)
	}
	for _, e := range entries {
		if e.isRequest() {
			e.deliver(nil, model.ErrBrokenPipe)
		}
	}

	if onState != nil {
		onState(model.StateStopping)
	}

	c.mu.Lock()
	c.state = model.StateStopped
	c.mu.Unlock()
	if onState != nil {
		onState(model.StateStopped)
	}
}

// Send transmits payload to the server without waiting for any reply.
func (c *Connection) Send(payload []byte) error {
	if uint32(len(payload)) > c.proto.MaxSendSize {
		return fmt.Errorf("%w: payload of %d bytes exceeds MaxSendSize", model.ErrNoMemory, len(payload))
	}
	c.mu.Lock()
	state := c.state
	conn := c.conn
	c.mu.Unlock()
	if state != model.StateReady {
		return fmt.Errorf("%w: connection is %s, not Ready", model.ErrInvalid, state)
	}

	if !c.cfg.FullyOrdered && !c.cfg.TrulyAsync {
		return c.writeDirect(conn, wire.OpSend, payload)
	}
	return c.enqueueEntry(&outboundEntry{payload: payload}, "queued send pool exhausted")
}

func (c *Connection) writeDirect(conn transport.Conn, op wire.ClientOpcode, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return engine.SendFrame(conn, uint8(op), payload)
}

// enqueueEntry appends entry to the shared FIFO and schedules a drain. SEND
// and REQUEST entries share this one queue so that frames from the same
// caller are always transmitted in the order they were submitted, regardless
// of FullyOrdered.
func (c *Connection) enqueueEntry(entry *outboundEntry, exhaustedMsg string) error {
	c.mu.Lock()
	if len(c.entries) >= c.cfg.SlotCapacity() {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", model.ErrNoMemory, exhaustedMsg)
	}
	c.entries = append(c.entries, entry)
	c.mu.Unlock()
	c.eng.EnqueueCommand(time.Time{}, func(time.Time) { c.drainQueues() }, c)
	return nil
}

// SendWaitReply transmits payload as a request and blocks the calling
// goroutine until the reply arrives, returning model.ErrTryAgain instead of
// blocking if called from the engine's dispatch goroutine.
func (c *Connection) SendWaitReply(payload []byte) ([]byte, error) {
	if c.eng.IsOnCallbackThread() {
		return nil, model.ErrTryAgain
	}

	var mu sync.Mutex
	mu.Lock()
	fut := future.New[replyOutcome](&mu)

	if err := c.queueRequest(payload, func(p []byte, err error) {
		fut.UpdateValueMarkReady(replyOutcome{payload: p, err: err})
	}); err != nil {
		mu.Unlock()
		return nil, err
	}
	mu.Unlock()

	out := fut.Wait()
	return out.payload, out.err
}

type replyOutcome struct {
	payload []byte
	err     error
}

// SendWithCallback transmits payload as a request and invokes callback once:
// on the dispatch goroutine when the reply arrives or the write fails, or
// with model.ErrBrokenPipe on the goroutine that stops the connection first.
func (c *Connection) SendWithCallback(payload []byte, callback ReplyCallback) error {
	return c.queueRequest(payload, callback)
}

func (c *Connection) queueRequest(payload []byte, deliver func([]byte, error)) error {
	if uint32(len(payload)) > c.proto.MaxSendSize {
		return fmt.Errorf("%w: payload of %d bytes exceeds MaxSendSize", model.ErrNoMemory, len(payload))
	}
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != model.StateReady {
		return fmt.Errorf("%w: connection is %s", model.ErrInvalid, state)
	}
	return c.enqueueEntry(&outboundEntry{payload: payload, deliver: deliver}, "request slot pool exhausted")
}

// drainQueues runs on the dispatch goroutine and transmits entries strictly
// in FIFO order: a SEND entry is written and draining continues to the next
// entry, but a REQUEST entry is written and draining stops there, since only
// one request may be outstanding at a time. It resumes once the matching
// OpReply arrives.
func (c *Connection) drainQueues() {
	for {
		c.mu.Lock()
		if c.state != model.StateReady {
			c.mu.Unlock()
			return
		}
		if c.requestInFlight {
			c.mu.Unlock()
			return
		}
		if len(c.entries) == 0 {
			c.mu.Unlock()
			return
		}
		entry := c.entries[0]
		c.entries = c.entries[1:]
		conn := c.conn
		isRequest := entry.isRequest()
		if isRequest {
			c.requestInFlight = true
			c.inFlightDeliver = entry.deliver
		}
		c.mu.Unlock()

		if !isRequest {
			c.writeDirect(conn, wire.OpSend, entry.payload)
			continue
		}

		if err := c.writeDirect(conn, wire.OpRequest, entry.payload); err != nil {
			c.mu.Lock()
			c.requestInFlight = false
			c.inFlightDeliver = nil
			c.mu.Unlock()
			entry.deliver(nil, err)
			continue
		}
		return
	}
}
