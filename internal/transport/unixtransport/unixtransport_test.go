package unixtransport

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/qorix-group/message-passing/internal/transport"
)

func TestDialListenRoundTrip(t *testing.T) {
	tr := New()
	addr := transport.Addr{Identifier: "message-passing-test-" + uuid.NewString()}

	ln, err := tr.Listen(context.Background(), addr)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan transport.Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		c, err := ln.Accept(context.Background())
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- c
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := tr.Dial(ctx, addr)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	var server transport.Conn
	select {
	case server = <-accepted:
	case err := <-acceptErr:
		t.Fatal(err)
	case <-time.After(2 * time.Second):
		t.Fatal("accept did not complete")
	}
	defer server.Close()

	const msg = "ping"
	if _, err := client.Write([]byte(msg)); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, len(msg))
	if _, err := server.Read(buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != msg {
		t.Errorf("got %q, want %q", buf, msg)
	}

	id, err := server.PeerIdentity()
	if err != nil {
		t.Fatal(err)
	}
	if id.PID == 0 {
		t.Error("PeerIdentity returned zero PID for a live connection")
	}
}

func TestAcceptRespectsContextCancellation(t *testing.T) {
	tr := New()
	addr := transport.Addr{Identifier: "message-passing-test-" + uuid.NewString()}
	ln, err := tr.Listen(context.Background(), addr)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := ln.Accept(ctx)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected Accept to return an error after cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Accept did not return after context cancellation")
	}
}
