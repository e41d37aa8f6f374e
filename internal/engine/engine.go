// Package engine implements the single-goroutine reactor that the client
// and server packages build on. Every registered connection gets its own
// feeder goroutine that does nothing but block on Read and forward decoded
// frames into the engine; exactly one goroutine (the dispatch goroutine)
// ever processes a frame, fires a timer callback, or touches engine state,
// so user code never has to reason about two callbacks racing each other.
package engine

import (
	"bytes"
	"context"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qorix-group/message-passing/internal/domain/future"
	"github.com/qorix-group/message-passing/internal/domain/queue"
	"github.com/qorix-group/message-passing/internal/domain/wire"
	"github.com/qorix-group/message-passing/internal/transport"
)

// FrameHandler is invoked on the dispatch goroutine for every frame read
// from an endpoint, in the order it arrived.
type FrameHandler func(frame wire.Frame)

// DisconnectHandler is invoked on the dispatch goroutine exactly once, when
// an endpoint's feeder goroutine observes a read error (including a clean
// close by the peer).
type DisconnectHandler func(err error)

// Endpoint is a live connection registered with the engine for reading.
// Engine owns exactly one feeder goroutine per registered Endpoint.
type Endpoint struct {
	engine       *Engine
	Conn         transport.Conn
	MaxReceive   uint32
	OnFrame      FrameHandler
	OnDisconnect DisconnectHandler
	Owner        any

	registered atomic.Bool
}

type frameEvent struct {
	ep    *Endpoint
	frame wire.Frame
	err   error
}

// Engine is the reactor shared by every client connection and server
// instance created against it. The zero value is not usable; construct with
// New.
type Engine struct {
	transport transport.Transport
	logger    *slog.Logger

	q          *queue.Queue
	events     chan frameEvent
	wake       chan struct{}
	stopCh     chan struct{}
	stoppedCh  chan struct{}
	dispatchID atomic.Uint64

	mu        sync.Mutex
	endpoints map[*Endpoint]struct{}
}

// New starts an Engine's dispatch goroutine on top of the given transport.
func New(t transport.Transport, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		transport: t,
		logger:    logger,
		q:         queue.New(),
		events:    make(chan frameEvent, 64),
		wake:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
		endpoints: make(map[*Endpoint]struct{}),
	}
	started := make(chan struct{})
	go e.run(started)
	<-started
	return e
}

// Stop halts the dispatch goroutine and closes every registered endpoint's
// connection. It blocks until the dispatch goroutine has exited. Queued
// timer callbacks are discarded without being invoked.
func (e *Engine) Stop() {
	close(e.stopCh)
	<-e.stoppedCh
}

func currentGoroutineID() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	// "goroutine 123 [running]:\n..."
	const prefix = "goroutine "
	buf = bytes.TrimPrefix(buf, []byte(prefix))
	end := bytes.IndexByte(buf, ' ')
	if end < 0 {
		return 0
	}
	id, _ := strconv.ParseUint(string(buf[:end]), 10, 64)
	return id
}

// IsOnCallbackThread reports whether the calling goroutine is the engine's
// dispatch goroutine. It is only used on slow paths (SendWaitReply,
// CleanUpOwner, the server's RequestDisconnect) to pick between an inline
// path and a queued, blocking one; it is never consulted per frame.
func (e *Engine) IsOnCallbackThread() bool {
	return currentGoroutineID() == e.dispatchID.Load()
}

func (e *Engine) run(started chan struct{}) {
	e.dispatchID.Store(currentGoroutineID())
	close(started)
	defer close(e.stoppedCh)

	for {
		next := e.q.ProcessQueue(time.Now())

		var timerC <-chan time.Time
		var timer *time.Timer
		if !next.IsZero() {
			d := time.Until(next)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case <-e.stopCh:
			stopTimer(timer)
			e.shutdownEndpoints()
			return
		case ev := <-e.events:
			stopTimer(timer)
			e.handleFrameEvent(ev)
		case <-e.wake:
			stopTimer(timer)
		case <-timerC:
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (e *Engine) shutdownEndpoints() {
	e.mu.Lock()
	eps := make([]*Endpoint, 0, len(e.endpoints))
	for ep := range e.endpoints {
		eps = append(eps, ep)
	}
	e.mu.Unlock()
	for _, ep := range eps {
		ep.Conn.Close()
	}
}

func (e *Engine) handleFrameEvent(ev frameEvent) {
	if !ev.ep.registered.Load() {
		return
	}
	if ev.err != nil {
		e.logger.Debug("endpoint disconnected", "error", ev.err)
		e.unregisterLocked(ev.ep)
		if ev.ep.OnDisconnect != nil {
			ev.ep.OnDisconnect(ev.err)
		}
		return
	}
	if ev.ep.OnFrame != nil {
		ev.ep.OnFrame(ev.frame)
	}
}

// RegisterEndpoint starts a feeder goroutine for ep.Conn and begins
// delivering frames to ep.OnFrame on the dispatch goroutine. Must be called
// from the dispatch goroutine.
func (e *Engine) RegisterEndpoint(ep *Endpoint) {
	ep.engine = e
	ep.registered.Store(true)
	e.mu.Lock()
	e.endpoints[ep] = struct{}{}
	e.mu.Unlock()
	go e.feed(ep)
}

func (e *Engine) feed(ep *Endpoint) {
	maxReceive := ep.MaxReceive
	if maxReceive == 0 {
		maxReceive = wire.MaxFrameSize
	}
	for {
		frame, err := wire.ReadFrame(ep.Conn, maxReceive)
		select {
		case e.events <- frameEvent{ep: ep, frame: frame, err: err}:
		case <-e.stopCh:
			return
		}
		if err != nil {
			return
		}
	}
}

// UnregisterEndpoint stops delivering frames for ep and closes its
// connection. Must be called from the dispatch goroutine. OnDisconnect is
// not invoked; the caller already knows it is tearing this endpoint down.
func (e *Engine) UnregisterEndpoint(ep *Endpoint) {
	e.unregisterLocked(ep)
	ep.Conn.Close()
}

func (e *Engine) unregisterLocked(ep *Endpoint) {
	ep.registered.Store(false)
	e.mu.Lock()
	delete(e.endpoints, ep)
	e.mu.Unlock()
}

// EnqueueCommand schedules callback for execution on the dispatch goroutine,
// immediately if until is the zero time, otherwise no earlier than until.
func (e *Engine) EnqueueCommand(until time.Time, callback func(time.Time), owner any) {
	if until.IsZero() {
		e.q.RegisterImmediateEntry(callback, owner)
	} else {
		e.q.RegisterTimedEntry(until, callback, owner)
	}
	e.poke()
}

func (e *Engine) poke() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// CleanUpOwner removes every queued command and registered endpoint
// belonging to owner. If called from the dispatch goroutine it runs inline;
// otherwise it blocks the caller until the dispatch goroutine has processed
// the cleanup, mirroring the synchronous teardown contract client and server
// destructors depend on.
func (e *Engine) CleanUpOwner(owner any) {
	if owner == nil {
		return
	}
	if e.IsOnCallbackThread() {
		e.cleanUpOwnerInline(owner)
		return
	}

	var mu sync.Mutex
	mu.Lock()
	fut := future.New[struct{}](&mu)
	e.q.RegisterImmediateEntry(func(time.Time) {
		e.cleanUpOwnerInline(owner)
		fut.UpdateValueMarkReady(struct{}{})
	}, owner)
	mu.Unlock()
	e.poke()
	fut.Wait()
}

func (e *Engine) cleanUpOwnerInline(owner any) {
	e.q.CleanUpOwner(owner)

	e.mu.Lock()
	var owned []*Endpoint
	for ep := range e.endpoints {
		if ep.Owner == owner {
			owned = append(owned, ep)
		}
	}
	e.mu.Unlock()
	for _, ep := range owned {
		e.UnregisterEndpoint(ep)
	}
}

// PendingCommands reports how many timer-queue entries are currently
// waiting to run, for diagnostics.
func (e *Engine) PendingCommands() int {
	return e.q.Len()
}

// Dial opens a new client connection through the engine's transport.
func (e *Engine) Dial(ctx context.Context, addr transport.Addr) (transport.Conn, error) {
	return e.transport.Dial(ctx, addr)
}

// Listen starts accepting connections through the engine's transport.
func (e *Engine) Listen(ctx context.Context, addr transport.Addr) (transport.Listener, error) {
	return e.transport.Listen(ctx, addr)
}

// SendFrame encodes and writes a complete frame to conn. It does not touch
// engine state and may be called from any goroutine, including the dispatch
// goroutine, since net.Conn writes are safe to interleave with reads.
func SendFrame(conn transport.Conn, opcode uint8, payload []byte) error {
	frame, err := wire.Encode(opcode, payload)
	if err != nil {
		return err
	}
	return wire.WriteFrame(conn, frame)
}
