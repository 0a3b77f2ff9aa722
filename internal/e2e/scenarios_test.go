package e2e_test

import (
	"net"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frebib/kipa/internal/codec"
	"github.com/frebib/kipa/internal/cryptoprovider"
	"github.com/frebib/kipa/internal/envelope"
	"github.com/frebib/kipa/internal/model"
	"github.com/frebib/kipa/internal/transport"
)

// plainNode builds a Key+Address pair for a node that never runs a daemon
// of its own — several scenarios only need such a node to exist as
// someone else's neighbour-store entry, never to answer a probe itself.
func plainNode(port uint16) model.Node {
	crypto, err := cryptoprovider.Generate()
	Expect(err).NotTo(HaveOccurred())
	return model.Node{Key: crypto.PublicKey(), Address: transport.LoopbackAddress(port)}
}

var _ = Describe("local query with no peers", func() {
	It("answers from the empty store without touching the network", func() {
		netw := transport.NewInMemoryNetwork()
		a := newTestNode(netw, 5001, envelope.ModePrivate)
		asker := plainNode(5002)

		req := model.NewQueryRequest(1, "kipa/1", plainNode(5003).Key)
		resp := a.handler.Handle(ctx(), asker, req)

		Expect(resp.Kind).To(Equal(model.KindQuery))
		Expect(resp.Query.Nodes).To(BeEmpty())
		Expect(a.probedFingerprints()).To(BeEmpty())
	})
})

var _ = Describe("one-hop search", func() {
	It("reaches a target known only to a neighbour's neighbour", func() {
		netw := transport.NewInMemoryNetwork()
		a := newTestNode(netw, 5011, envelope.ModePrivate)
		b := newTestNode(netw, 5012, envelope.ModePrivate)
		target := plainNode(5013)

		a.store.Consider(b.node)
		b.store.Consider(target)

		found, err := a.handler.Search(ctx(), target.Key)
		Expect(err).NotTo(HaveOccurred())
		Expect(found).NotTo(BeNil())
		Expect(found.Key.Equal(target.Key)).To(BeTrue())

		// Search finishes the instant a probed neighbour's response
		// contains the target itself (spec section 4.6's on_found
		// short-circuit), so the target is reached via exactly one probe
		// to B rather than a further confirming probe to the target.
		Expect(a.probedFingerprints()).To(Equal([]string{b.node.Key.Fingerprint()}))
	})
})

var _ = Describe("closure termination", func() {
	It("never probes a farther neighbour once the closest one is the target", func() {
		netw := transport.NewInMemoryNetwork()
		a := newTestNode(netw, 5021, envelope.ModePrivate)
		b := newTestNode(netw, 5022, envelope.ModePrivate)
		c := newTestNode(netw, 5023, envelope.ModePrivate)

		a.store.Consider(b.node)
		a.store.Consider(c.node)

		found, err := a.handler.Search(ctx(), c.node.Key)
		Expect(err).NotTo(HaveOccurred())
		Expect(found).NotTo(BeNil())
		Expect(found.Key.Equal(c.node.Key)).To(BeTrue())
		Expect(a.probedFingerprints()).NotTo(ContainElement(b.node.Key.Fingerprint()))
	})
})

var _ = Describe("corrupted peer tolerated", func() {
	It("ignores a lying neighbour and still finds the target through another", func() {
		netw := transport.NewInMemoryNetwork()
		a := newTestNode(netw, 5031, envelope.ModePrivate)
		b := newTestNode(netw, 5032, envelope.ModePrivate)
		c := newTestNode(netw, 5033, envelope.ModePrivate)

		lie := plainNode(5034)
		target := plainNode(5035)
		b.store.Consider(lie)
		c.store.Consider(target)
		a.store.Consider(b.node)
		a.store.Consider(c.node)

		found, err := a.handler.Search(ctx(), target.Key)
		Expect(err).NotTo(HaveOccurred())
		Expect(found).NotTo(BeNil())
		Expect(found.Key.Equal(target.Key)).To(BeTrue())
	})
})

var _ = Describe("connect absorbs neighbours", func() {
	It("keeps the bootstrap node and anything discovered while searching for itself", func() {
		netw := transport.NewInMemoryNetwork()
		a := newTestNode(netw, 5041, envelope.ModePrivate)
		b := newTestNode(netw, 5042, envelope.ModePrivate)
		discovered := plainNode(5043)
		b.store.Consider(discovered)

		Expect(a.store.Size()).To(Equal(0))
		err := a.handler.Connect(ctx(), b.node)
		Expect(err).NotTo(HaveOccurred())

		fingerprints := map[string]bool{}
		for _, n := range a.store.List() {
			fingerprints[n.Key.Fingerprint()] = true
		}
		Expect(fingerprints[b.node.Key.Fingerprint()]).To(BeTrue())
		Expect(fingerprints[discovered.Key.Fingerprint()]).To(BeTrue())
	})
})

var _ = Describe("wire-mode interop", func() {
	It("replies in fast mode to a fast-mode request", func() {
		netw := transport.NewInMemoryNetwork()
		a := newTestNode(netw, 5051, envelope.ModeFast)
		b := newTestNode(netw, 5052, envelope.ModeFast)

		Expect(a.outgoing.Verify(ctx(), b.node)).To(Succeed())
	})

	It("replies in private mode to a private-mode request", func() {
		netw := transport.NewInMemoryNetwork()
		a := newTestNode(netw, 5061, envelope.ModePrivate)
		b := newTestNode(netw, 5062, envelope.ModePrivate)

		Expect(a.outgoing.Verify(ctx(), b.node)).To(Succeed())
	})

	It("answers an unrecognized mode with a signed ApiError.Parse", func() {
		netw := transport.NewInMemoryNetwork()
		b := newTestNode(netw, 5071, envelope.ModeFast)
		asker, err := cryptoprovider.Generate()
		Expect(err).NotTo(HaveOccurred())

		raw := []byte(`{"message_id":1,"mode":"quantum","sender":{"raw":"00","fingerprint":"f","port":1}}`)
		reply := b.incoming.Handle(ctx(), net.ParseIP("127.0.0.1"), raw)
		Expect(reply).NotTo(BeNil())

		decoded, err := envelope.New(asker).DecodeResponse(reply, b.node.Key)
		Expect(err).NotTo(HaveOccurred())

		respBody, err := codec.JSON{}.DecodeResponse(decoded.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(respBody.Error).NotTo(BeNil())
		Expect(respBody.Error.Kind).To(Equal(model.ErrorParse))
	})
})
