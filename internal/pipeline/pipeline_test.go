package pipeline_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

// daemon bundles one node's full stack over the in-memory network, for
// exercising the outgoing/incoming pipelines together the way cmd/kipad
// will wire them for real.
type daemon struct {
	node     model.Node
	crypto   cryptoprovider.Provider
	store    *neighbours.Store
	outgoing *pipeline.Outgoing
	incoming *pipeline.Incoming
}

func newDaemon(t *testing.T, net_ *transport.InMemoryNetwork, port uint16, mode envelope.Mode) *daemon {
	t.Helper()
	crypto, err := cryptoprovider.Generate()
	require.NoError(t, err)

	addr := transport.LoopbackAddress(port)
	node := model.Node{Key: crypto.PublicKey(), Address: addr}

	tr := net_.NewInMemory(addr)
	env := envelope.New(crypto)
	c := codec.JSON{}
	store := neighbours.New(crypto.PublicKey(), neighbours.DefaultConfig())
	engine := search.New(4, time.Second, 5*time.Second, zap.NewNop())
	out := pipeline.NewOutgoing(tr, env, c, mode, "kipa/1", zap.NewNop())
	handler := payload.New(node, store, engine, out, payload.DefaultConfig(), zap.NewNop())
	in := pipeline.NewIncoming(env, c, handler, store, out, "kipa/1", zap.NewNop())
	require.NoError(t, tr.Serve(in.Handle))

	return &daemon{node: node, crypto: crypto, store: store, outgoing: out, incoming: in}
}

func TestOutgoingQueryRoundTripsThroughIncomingPipeline(t *testing.T) {
	netw := transport.NewInMemoryNetwork()
	a := newDaemon(t, netw, 4001, envelope.ModePrivate)
	b := newDaemon(t, netw, 4002, envelope.ModePrivate)

	thirdCrypto, err := cryptoprovider.Generate()
	require.NoError(t, err)
	third := model.Node{Key: thirdCrypto.PublicKey(), Address: model.Address{IP: net.ParseIP("10.0.0.5"), Port: 9}}
	b.store.Consider(third)

	nodes, err := a.outgoing.Query(context.Background(), b.node, third.Key)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.True(t, nodes[0].Key.Equal(third.Key))
}

func TestIncomingPipelineConsidersSenderAndMarksVerifiedAsync(t *testing.T) {
	netw := transport.NewInMemoryNetwork()
	a := newDaemon(t, netw, 4011, envelope.ModeFast)
	b := newDaemon(t, netw, 4012, envelope.ModeFast)

	_, err := a.outgoing.Query(context.Background(), b.node, a.node.Key)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return b.store.Size() == 1
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return b.store.IsVerified(a.node.Key)
	}, time.Second, 10*time.Millisecond)
}

func TestFastModeRequestIsRepliedToInFastMode(t *testing.T) {
	netw := transport.NewInMemoryNetwork()
	a := newDaemon(t, netw, 4021, envelope.ModeFast)
	b := newDaemon(t, netw, 4022, envelope.ModeFast)

	err := a.outgoing.Verify(context.Background(), b.node)
	assert.NoError(t, err)
}

// TestUndecodableEnvelopeStillGetsASignedParseReply exercises
// Incoming.Handle's fallback for bytes that are not a valid envelope at
// all: it cannot know the sender or the mode, but spec section 4.3 still
// requires a valid, signed response rather than silence.
func TestUndecodableEnvelopeStillGetsASignedParseReply(t *testing.T) {
	netw := transport.NewInMemoryNetwork()
	b := newDaemon(t, netw, 4032, envelope.ModeFast)

	reply := b.incoming.Handle(context.Background(), net.ParseIP("127.0.0.1"), []byte("not an envelope"))
	require.NotNil(t, reply)

	aCrypto, err := cryptoprovider.Generate()
	require.NoError(t, err)
	aEnv := envelope.New(aCrypto)

	decoded, err := aEnv.DecodeResponse(reply, b.node.Key)
	require.NoError(t, err)

	var respBody model.ResponseBody
	respBody, err = codec.JSON{}.DecodeResponse(decoded.Body)
	require.NoError(t, err)
	require.NotNil(t, respBody.Error)
	assert.Equal(t, model.ErrorParse, respBody.Error.Kind)
}
