// Package qnxtransport names the QNX resource-manager transport arm. QNX
// message passing (MsgSend/MsgReceive/MsgReply against a /dev/name/local
// resource manager node) has no POSIX or Linux equivalent this module can
// build or exercise, so Dial and Listen always fail; the package exists so the
// transport.Transport interface has a documented second implementer instead
// of a POSIX-only abstraction pretending to be portable.
package qnxtransport

import (
	"context"

	"github.com/qorix-group/message-passing/internal/domain/model"
	"github.com/qorix-group/message-passing/internal/transport"
)

// Transport is an unimplemented placeholder. Every method returns
// model.ErrUnsupportedTransport.
type Transport struct{}

// New returns a Transport whose methods all fail with
// model.ErrUnsupportedTransport. It never returns an error itself, so
// callers can wire it unconditionally behind a build flag and only pay for
// the failure at first use.
func New() *Transport {
	return &Transport{}
}

func (t *Transport) Dial(ctx context.Context, addr transport.Addr) (transport.Conn, error) {
	return nil, model.ErrUnsupportedTransport
}

func (t *Transport) Listen(ctx context.Context, addr transport.Addr) (transport.Listener, error) {
	return nil, model.ErrUnsupportedTransport
}
