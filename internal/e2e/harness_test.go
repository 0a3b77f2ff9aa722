package e2e_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/frebib/kipa/internal/codec"
	"github.com/frebib/kipa/internal/cryptoprovider"
	"github.com/frebib/kipa/internal/envelope"
	"github.com/frebib/kipa/internal/model"
	"github.com/frebib/kipa/internal/neighbours"
	"github.com/frebib/kipa/internal/payload"
	"github.com/frebib/kipa/internal/pipeline"
	"github.com/frebib/kipa/internal/search"
	"github.com/frebib/kipa/internal/transport"
)

// countingTransport wraps a Transport and records the key of every node
// Send was called against, so a scenario can assert which peers a search
// actually probed without instrumenting the search engine itself.
type countingTransport struct {
	transport.Transport
	probed []string
}

func (c *countingTransport) Send(ctx context.Context, target model.Node, payload []byte) ([]byte, error) {
	c.probed = append(c.probed, target.Key.Fingerprint())
	return c.Transport.Send(ctx, target, payload)
}

// testNode bundles one daemon's full stack over a shared in-memory
// network, mirroring internal/pipeline's own "daemon" test helper but
// exposing the extra pieces (store, counting transport) these broader
// scenarios need to assert against.
type testNode struct {
	node     model.Node
	store    *neighbours.Store
	handler  *payload.Handler
	outgoing *pipeline.Outgoing
	incoming *pipeline.Incoming
	counting *countingTransport
}

func newTestNode(netw *transport.InMemoryNetwork, port uint16, mode envelope.Mode) *testNode {
	crypto, err := cryptoprovider.Generate()
	Expect(err).NotTo(HaveOccurred())

	addr := transport.LoopbackAddress(port)
	node := model.Node{Key: crypto.PublicKey(), Address: addr}

	raw := netw.NewInMemory(addr)
	counting := &countingTransport{Transport: raw}

	env := envelope.New(crypto)
	c := codec.JSON{}
	store := neighbours.New(crypto.PublicKey(), neighbours.DefaultConfig())
	engine := search.New(4, time.Second, 5*time.Second, zap.NewNop())
	out := pipeline.NewOutgoing(counting, env, c, mode, "kipa/1", zap.NewNop())
	handler := payload.New(node, store, engine, out, payload.DefaultConfig(), zap.NewNop())
	in := pipeline.NewIncoming(env, c, handler, store, out, "kipa/1", zap.NewNop())
	Expect(raw.Serve(in.Handle)).To(Succeed())

	return &testNode{node: node, store: store, handler: handler, outgoing: out, incoming: in, counting: counting}
}

func (n *testNode) probedFingerprints() []string {
	return n.counting.probed
}

func ctx() context.Context {
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	DeferCleanup(cancel)
	return c
}
