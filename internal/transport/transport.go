// Package transport implements the byte-stream request/response contract
// (spec section 4.4, 6): "a connection carries exactly one request and its
// response and is then closed (or may be pooled — callers MUST NOT rely on
// pooling)". Everything above this layer (envelope, pipelines) only deals
// in opaque byte slices; Transport never looks inside them.
package transport

import (
	"context"
	"net"

	"github.com/frebib/kipa/internal/model"
)

// InboundHandler processes one inbound request's payload bytes, with the
// peer IP inferred from the underlying connection (never trusted from the
// payload, per spec section 3/9), and returns the response bytes to write
// back on the same connection.
type InboundHandler func(ctx context.Context, peerIP net.IP, payload []byte) []byte

// Transport is the narrow contract the secure envelope and pipelines
// consume (spec section 2, item 4). A concrete Transport owns exactly one
// listening endpoint; Send opens a fresh connection to a remote endpoint,
// writes payload, and returns whatever bytes the other end writes back.
type Transport interface {
	// Send delivers payload to target and returns the response bytes, or a
	// typed External error (kerr.KindExternal) if the peer could not be
	// reached, timed out, or closed the connection before responding.
	Send(ctx context.Context, target model.Node, payload []byte) ([]byte, error)

	// Serve starts delivering inbound requests to a handler, once per
	// request. InMemory installs handler and returns at once; LibP2P
	// ignores handler (it uses the one given to NewLibP2P) and blocks until
	// Close is called.
	Serve(handler InboundHandler) error

	// LocalPort is this transport's listening port, used to fill the
	// sender port of outgoing requests (spec section 4.4b).
	LocalPort() uint16

	Close() error
}
