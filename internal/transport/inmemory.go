package transport

import (
	"context"
	"net"
	"sync"

	"github.com/frebib/kipa/internal/kerr"
	"github.com/frebib/kipa/internal/model"
)

// InMemoryNetwork is a shared registry of InMemory transports keyed by
// address, standing in for an actual IP network in unit and end-to-end
// tests (internal/e2e). It has no teacher analogue — the teacher always
// runs against a real libp2p host — so it is grounded only on the general
// Go idiom of a fake implementing a narrow interface for tests, which the
// codec and envelope test files also lean on.
type InMemoryNetwork struct {
	mu    sync.Mutex
	peers map[string]*InMemory
}

// NewInMemoryNetwork constructs an empty shared network.
func NewInMemoryNetwork() *InMemoryNetwork {
	return &InMemoryNetwork{peers: make(map[string]*InMemory)}
}

// InMemory is a Transport bound to one address on a shared
// InMemoryNetwork. Send looks up the target address directly in the
// network and calls its handler in-process; there is no real I/O.
type InMemory struct {
	net     *InMemoryNetwork
	addr    model.Address
	handler InboundHandler

	mu     sync.Mutex
	closed bool
}

// NewInMemory registers a new transport at addr on net. addr.IP is used as
// the "inferred peer IP" handed to the inbound handler on the other side.
func (n *InMemoryNetwork) NewInMemory(addr model.Address) *InMemory {
	t := &InMemory{net: n, addr: addr}
	n.mu.Lock()
	n.peers[addr.String()] = t
	n.mu.Unlock()
	return t
}

func (t *InMemory) Send(ctx context.Context, target model.Node, payload []byte) ([]byte, error) {
	t.net.mu.Lock()
	peer, ok := t.net.peers[target.Address.String()]
	t.net.mu.Unlock()
	if !ok {
		return nil, kerr.External(nil, "no peer listening at "+target.Address.String())
	}

	peer.mu.Lock()
	handler := peer.handler
	closed := peer.closed
	peer.mu.Unlock()
	if closed || handler == nil {
		return nil, kerr.External(nil, "peer "+target.Address.String()+" is not serving")
	}

	return handler(ctx, t.addr.IP, payload), nil
}

func (t *InMemory) Serve(handler InboundHandler) error {
	t.mu.Lock()
	t.handler = handler
	t.mu.Unlock()
	return nil
}

func (t *InMemory) LocalPort() uint16 { return t.addr.Port }

func (t *InMemory) Close() error {
	t.mu.Lock()
	t.closed = true
	t.handler = nil
	t.mu.Unlock()

	t.net.mu.Lock()
	delete(t.net.peers, t.addr.String())
	t.net.mu.Unlock()
	return nil
}

var _ Transport = (*InMemory)(nil)

// LoopbackAddress is a convenience constructor for test addresses.
func LoopbackAddress(port uint16) model.Address {
	return model.Address{IP: net.ParseIP("127.0.0.1"), Port: port}
}
