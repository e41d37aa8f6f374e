// Package unixtransport implements transport.Transport over Unix domain
// stream sockets, using Linux's abstract namespace (a leading NUL byte) so
// that services need no filesystem path cleanup and cannot collide with an
// unrelated file.
package unixtransport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/qorix-group/message-passing/internal/domain/model"
	"github.com/qorix-group/message-passing/internal/transport"
)

// socketPath turns an identifier into an abstract-namespace socket path:
// the first byte is NUL, so the address is invisible in the filesystem and
// is automatically released when every referencing socket is closed.
func socketPath(identifier string) string {
	return "\x00" + identifier
}

// Transport is the POSIX unix-domain-socket implementation of
// transport.Transport.
type Transport struct{}

// New constructs a POSIX unix-domain-socket Transport.
func New() *Transport {
	return &Transport{}
}

func (t *Transport) Dial(ctx context.Context, addr transport.Addr) (transport.Conn, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "unix", socketPath(addr.Identifier))
	if err != nil {
		return nil, classifyDialErr(err)
	}
	uc, ok := raw.(*net.UnixConn)
	if !ok {
		raw.Close()
		return nil, fmt.Errorf("%w: dialer returned %T", model.ErrIoError, raw)
	}
	return &conn{UnixConn: uc}, nil
}

func classifyDialErr(err error) error {
	if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
		return fmt.Errorf("%w: %v", model.ErrAccessDenied, err)
	}
	return fmt.Errorf("%w: %v", model.ErrIoError, err)
}

func (t *Transport) Listen(ctx context.Context, addr transport.Addr) (transport.Listener, error) {
	raw, err := net.Listen("unix", socketPath(addr.Identifier))
	if err != nil {
		if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
			return nil, fmt.Errorf("%w: %v", model.ErrAccessDenied, err)
		}
		return nil, fmt.Errorf("%w: %v", model.ErrIoError, err)
	}
	ul, ok := raw.(*net.UnixListener)
	if !ok {
		raw.Close()
		return nil, fmt.Errorf("%w: listener returned %T", model.ErrIoError, raw)
	}
	return &listener{UnixListener: ul, addr: addr}, nil
}

type listener struct {
	*net.UnixListener
	addr transport.Addr
}

func (l *listener) Accept(ctx context.Context) (transport.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := l.UnixListener.Accept()
		ch <- result{c, err}
	}()
	select {
	case <-ctx.Done():
		l.UnixListener.Close()
		<-ch
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrIoError, r.err)
		}
		uc, ok := r.conn.(*net.UnixConn)
		if !ok {
			r.conn.Close()
			return nil, fmt.Errorf("%w: listener returned %T", model.ErrIoError, r.conn)
		}
		return &conn{UnixConn: uc}, nil
	}
}

func (l *listener) Close() error {
	return l.UnixListener.Close()
}

func (l *listener) Addr() transport.Addr {
	return l.addr
}

type conn struct {
	*net.UnixConn
}

// PeerIdentity retrieves the remote process's credentials via SO_PEERCRED,
// captured at accept time by the kernel from the connecting process.
func (c *conn) PeerIdentity() (model.ClientIdentity, error) {
	raw, err := c.UnixConn.SyscallConn()
	if err != nil {
		return model.ClientIdentity{}, fmt.Errorf("%w: %v", model.ErrIoError, err)
	}
	var ucred *unix.Ucred
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		ucred, sockErr = unix.GetsockoptUcred(int(fd), syscall.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil {
		return model.ClientIdentity{}, fmt.Errorf("%w: %v", model.ErrIoError, ctrlErr)
	}
	if sockErr != nil {
		return model.ClientIdentity{}, fmt.Errorf("%w: %v", model.ErrIoError, sockErr)
	}
	return model.ClientIdentity{
		PID: ucred.Pid,
		UID: ucred.Uid,
		GID: ucred.Gid,
	}, nil
}
