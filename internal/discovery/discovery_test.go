package discovery_test

import (
	"context"
	cryptorand "crypto/rand"
	"testing"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/frebib/kipa/internal/discovery"
	"github.com/frebib/kipa/internal/model"
)

// fakeBootstrapper records every candidate node it was asked to Connect,
// standing in for internal/daemon's real adapter over *payload.Handler.
type fakeBootstrapper struct {
	connected []model.Node
	err       error
}

func (f *fakeBootstrapper) Connect(_ context.Context, bootstrap model.Node) error {
	f.connected = append(f.connected, bootstrap)
	return f.err
}

func addrInfoFor(t *testing.T, tcpAddr string) (peer.AddrInfo, ed25519PeerPublicKey) {
	t.Helper()
	_, pub, err := crypto.GenerateEd25519Key(cryptorand.Reader)
	require.NoError(t, err)

	id, err := peer.IDFromPublicKey(pub)
	require.NoError(t, err)

	maddr, err := ma.NewMultiaddr(tcpAddr)
	require.NoError(t, err)

	return peer.AddrInfo{ID: id, Addrs: []ma.Multiaddr{maddr}}, ed25519PeerPublicKey{pub: pub}
}

// ed25519PeerPublicKey is a tiny holder so addrInfoFor can hand back the
// exact public key it generated, for comparing against the candidate
// key HandlePeerFound builds.
type ed25519PeerPublicKey struct {
	pub crypto.PubKey
}

func TestHandlePeerFoundConnectsWithRecoveredCandidateKey(t *testing.T) {
	info, pk := addrInfoFor(t, "/ip4/127.0.0.1/tcp/4001")
	edRaw, err := pk.pub.Raw()
	require.NoError(t, err)

	boot := &fakeBootstrapper{}
	n := discovery.NotifeeForTest(boot, zap.NewNop(), nil)
	n.HandlePeerFound(info)

	require.Len(t, boot.connected, 1)
	candidate := boot.connected[0]
	assert.Equal(t, "127.0.0.1", candidate.Address.IP.String())
	assert.Equal(t, uint16(4001), candidate.Address.Port)
	assert.Equal(t, edRaw, []byte(candidate.Key.Bytes()[:len(edRaw)]))
}

func TestHandlePeerFoundSkipsPeerWithNoUsableAddress(t *testing.T) {
	_, pub, err := crypto.GenerateEd25519Key(cryptorand.Reader)
	require.NoError(t, err)
	id, err := peer.IDFromPublicKey(pub)
	require.NoError(t, err)

	boot := &fakeBootstrapper{}
	n := discovery.NotifeeForTest(boot, zap.NewNop(), nil)
	n.HandlePeerFound(peer.AddrInfo{ID: id})

	assert.Empty(t, boot.connected)
}
