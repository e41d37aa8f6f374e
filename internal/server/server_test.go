package server

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/qorix-group/message-passing/internal/client"
	"github.com/qorix-group/message-passing/internal/diagnostics"
	"github.com/qorix-group/message-passing/internal/domain/model"
	"github.com/qorix-group/message-passing/internal/engine"
	"github.com/qorix-group/message-passing/internal/transport/unixtransport"
)

func testProto(id string) model.ServiceProtocolConfig {
	return model.ServiceProtocolConfig{
		Identifier:    id,
		MaxSendSize:   4096,
		MaxReplySize:  4096,
		MaxNotifySize: 4096,
	}
}

func newPair(t *testing.T) (*engine.Engine, string) {
	t.Helper()
	eng := engine.New(unixtransport.New(), slog.Default())
	t.Cleanup(eng.Stop)
	return eng, "server-test-" + uuid.NewString()
}

func TestServerAcceptsAndRepliesToRequest(t *testing.T) {
	eng, id := newPair(t)

	srv, err := New(eng, testProto(id), model.ServerConfig{MaxQueuedSends: 4, MaxQueuedNotifies: 2}, Config{
		OnSendWithReply: func(conn *Connection, payload []byte) error {
			return conn.Reply(bytes.ToUpper(payload))
		},
	}, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.StartListening(); err != nil {
		t.Fatal(err)
	}
	defer srv.StopListening()

	cl, err := client.New(eng, testProto(id), model.ClientConfig{MaxAsyncReplies: 2, MaxQueuedSends: 2})
	if err != nil {
		t.Fatal(err)
	}
	ready := make(chan struct{})
	cl.Start(func(s model.State) {
		if s == model.StateReady {
			close(ready)
		}
	}, nil)
	defer cl.Stop()
	<-ready

	reply, err := cl.SendWaitReply([]byte("ping"))
	if err != nil {
		t.Fatal(err)
	}
	if string(reply) != "PING" {
		t.Errorf("reply = %q, want %q", reply, "PING")
	}
}

func TestServerConnectRejection(t *testing.T) {
	eng, id := newPair(t)

	srv, err := New(eng, testProto(id), model.ServerConfig{MaxQueuedSends: 4}, Config{
		Connect: func(conn *Connection) (any, error) {
			return nil, model.ErrAccessDenied
		},
	}, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.StartListening(); err != nil {
		t.Fatal(err)
	}
	defer srv.StopListening()

	cl, err := client.New(eng, testProto(id), model.ClientConfig{MaxAsyncReplies: 2, MaxQueuedSends: 2})
	if err != nil {
		t.Fatal(err)
	}
	states := make(chan model.State, 8)
	cl.Start(func(s model.State) { states <- s }, nil)
	defer cl.Stop()

	<-states // Starting

	for {
		select {
		case s := <-states:
			if s == model.StateStopped {
				if reason := cl.GetStopReason(); reason != model.StopReasonClosedByPeer && reason != model.StopReasonIoError {
					t.Errorf("stop reason = %v, want ClosedByPeer or IoError", reason)
				}
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("client never stopped after rejected connect")
		}
	}
}

func TestServerNotifySlotPoolExhaustion(t *testing.T) {
	eng, id := newPair(t)

	serverConn := make(chan *Connection, 1)
	srv, err := New(eng, testProto(id), model.ServerConfig{MaxQueuedSends: 4, MaxQueuedNotifies: 1}, Config{
		Connect: func(conn *Connection) (any, error) {
			serverConn <- conn
			return nil, nil
		},
	}, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.StartListening(); err != nil {
		t.Fatal(err)
	}
	defer srv.StopListening()

	cl, err := client.New(eng, testProto(id), model.ClientConfig{MaxAsyncReplies: 2, MaxQueuedSends: 2})
	if err != nil {
		t.Fatal(err)
	}
	ready := make(chan struct{})
	cl.Start(func(s model.State) {
		if s == model.StateReady {
			close(ready)
		}
	}, func([]byte) {})
	defer cl.Stop()
	<-ready

	conn := <-serverConn

	// Notify's slot is held only for the duration of its own write, which
	// completes essentially instantly over a loopback socket, so racing a
	// second call against a first real Notify can't reliably observe
	// exhaustion. Drain the single slot directly instead, which is exactly
	// what an in-flight Notify holds it as, and assert the pool's own
	// accounting rather than timing a write.
	<-conn.notifySlots

	if err := conn.Notify([]byte("two")); !errors.Is(err, model.ErrNoMemory) {
		t.Errorf("err = %v, want ErrNoMemory", err)
	}

	conn.notifySlots <- struct{}{}
	if err := conn.Notify([]byte("three")); err != nil {
		t.Errorf("Notify after slot freed: %v", err)
	}
}

func TestServerReplyWithoutOutstandingRequestFails(t *testing.T) {
	eng, id := newPair(t)

	connCh := make(chan *Connection, 1)
	srv, err := New(eng, testProto(id), model.ServerConfig{MaxQueuedSends: 4}, Config{
		Connect: func(conn *Connection) (any, error) {
			connCh <- conn
			return nil, nil
		},
	}, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.StartListening(); err != nil {
		t.Fatal(err)
	}
	defer srv.StopListening()

	cl, err := client.New(eng, testProto(id), model.ClientConfig{MaxAsyncReplies: 2, MaxQueuedSends: 2})
	if err != nil {
		t.Fatal(err)
	}
	ready := make(chan struct{})
	cl.Start(func(s model.State) {
		if s == model.StateReady {
			close(ready)
		}
	}, nil)
	defer cl.Stop()
	<-ready

	conn := <-connCh
	if err := conn.Reply([]byte("nope")); !errors.Is(err, model.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

func TestServerRecordsDisconnectHistory(t *testing.T) {
	eng, id := newPair(t)

	history, err := diagnostics.NewDisconnectHistory(4)
	if err != nil {
		t.Fatal(err)
	}
	connCh := make(chan *Connection, 1)
	srv, err := New(eng, testProto(id), model.ServerConfig{MaxQueuedSends: 4}, Config{
		Connect: func(conn *Connection) (any, error) {
			connCh <- conn
			return nil, nil
		},
		History: history,
	}, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.StartListening(); err != nil {
		t.Fatal(err)
	}
	defer srv.StopListening()

	cl, err := client.New(eng, testProto(id), model.ClientConfig{MaxAsyncReplies: 2, MaxQueuedSends: 2})
	if err != nil {
		t.Fatal(err)
	}
	ready := make(chan struct{})
	cl.Start(func(s model.State) {
		if s == model.StateReady {
			close(ready)
		}
	}, nil)
	<-ready

	conn := <-connCh
	conn.RequestDisconnect()

	deadline := time.After(2 * time.Second)
	for history.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("disconnect was never recorded")
		case <-time.After(10 * time.Millisecond):
		}
	}
	recent := history.Recent()
	if recent[len(recent)-1].Reason != model.StopReasonUserRequested {
		t.Errorf("reason = %v, want UserRequested", recent[len(recent)-1].Reason)
	}
}
