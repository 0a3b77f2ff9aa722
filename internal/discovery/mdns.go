// Package discovery implements the optional LAN bootstrap convenience
// spec.md's Design Notes gesture at ("an operator supplies at least one
// bootstrap peer out of band") but never requires: an mDNS service that
// advertises this daemon on the local network and feeds peers it finds
// through the same local Connect operation a CLI-issued bootstrap would
// use (spec section 4.6's Connect row). It is grounded directly on the
// teacher's own `go-node/node.go`, which wires
// `github.com/libp2p/go-libp2p/p2p/discovery/mdns` the identical way:
// `mdns.NewMdnsService(host, tag, notifee)` with a `HandlePeerFound`
// callback that immediately dials the discovered peer.
package discovery

import (
	"context"
	"net"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	mdns "github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	manet "github.com/multiformats/go-multiaddr/net"
	"go.uber.org/zap"

	"github.com/frebib/kipa/internal/cryptoprovider"
	"github.com/frebib/kipa/internal/model"
)

// ServiceTag names the mDNS service instance; any two daemons advertising
// the same tag on one LAN will discover each other.
const ServiceTag = "kipa"

// Bootstrapper is the local Connect operation a discovered peer is fed
// into — satisfied by internal/daemon, which runs it the same way a
// locally-issued Connect request would (spec section 4.6), never as a
// wire round trip to the discovered peer first.
type Bootstrapper interface {
	Connect(ctx context.Context, bootstrap model.Node) error
}

// MDNS advertises the local host and, for each peer it discovers, builds
// a best-effort candidate Node and hands it to Bootstrapper.Connect. The
// candidate's ed25519 half is recovered exactly from the peer's libp2p ID
// (cmd/kipad reuses the KIPA signing key as the libp2p host key, so the
// two always agree); its X25519 half is unknown and zero-filled, which is
// sufficient to verify a fast-mode reply but not to address private-mode
// traffic or to claim the candidate's fingerprint matches the peer's real
// advertised Key — see cryptoprovider.CandidateKeyFromEd25519 and
// DESIGN.md for the full reasoning and its limits.
type MDNS struct {
	svc  mdnsService
	log  *zap.Logger
	boot Bootstrapper
}

// mdnsService is the subset of mdns.Service this package depends on, kept
// narrow so tests can substitute a fake without standing up real UDP
// multicast sockets.
type mdnsService interface {
	Close() error
}

// Start begins advertising h on the local network and wires discovered
// peers to boot. probeTimeout bounds each discovered peer's Connect call
// so a single unreachable or slow LAN peer cannot stall discovery.
func Start(h host.Host, boot Bootstrapper, log *zap.Logger, probeTimeout func() context.Context) (*MDNS, error) {
	m := &MDNS{log: log, boot: boot}
	notifee := &notifee{m: m, probeTimeout: probeTimeout}
	svc := mdns.NewMdnsService(h, ServiceTag, notifee)
	m.svc = svc
	return m, nil
}

// Close stops advertising and discovering.
func (m *MDNS) Close() error {
	if m.svc == nil {
		return nil
	}
	return m.svc.Close()
}

type notifee struct {
	m            *MDNS
	probeTimeout func() context.Context
}

// HandlePeerFound is mdns.Notifee's single method (the exact shape the
// teacher's mdnsNotifeeImpl implements in go-node/node.go, there calling
// h.Connect directly; here routed through Bootstrapper.Connect instead so
// every discovered peer still passes through the neighbour store's
// Consider policy). No Verify probe is scheduled for a peer added this
// way; it stays tagged unverified.
func (n *notifee) HandlePeerFound(info peer.AddrInfo) {
	log := n.m.log
	addr, ok := firstTCPAddress(info)
	if !ok {
		log.Debug("mdns peer found with no usable address", zap.String("peer", info.ID.String()))
		return
	}

	pub, err := info.ID.ExtractPublicKey()
	if err != nil {
		log.Debug("mdns peer id does not embed a public key, skipping", zap.String("peer", info.ID.String()), zap.Error(err))
		return
	}
	edPub, err := pub.Raw()
	if err != nil {
		log.Debug("mdns peer public key has no raw form, skipping", zap.String("peer", info.ID.String()), zap.Error(err))
		return
	}

	candidate := model.Node{
		Key:     cryptoprovider.CandidateKeyFromEd25519(edPub),
		Address: addr,
	}

	log.Debug("mdns discovered peer, attempting bootstrap connect",
		zap.String("peer", info.ID.String()), zap.String("addr", addr.String()))

	ctx := context.Background()
	if n.probeTimeout != nil {
		ctx = n.probeTimeout()
	}
	if err := n.m.boot.Connect(ctx, candidate); err != nil {
		log.Debug("mdns bootstrap connect failed", zap.String("peer", info.ID.String()), zap.Error(err))
	}
}

// firstTCPAddress picks the first TCP multiaddr out of info and converts
// it to a model.Address, the shape the rest of the daemon works with.
func firstTCPAddress(info peer.AddrInfo) (model.Address, bool) {
	for _, a := range info.Addrs {
		netAddr, err := manet.ToNetAddr(a)
		if err != nil {
			continue
		}
		tcpAddr, ok := netAddr.(*net.TCPAddr)
		if !ok {
			continue
		}
		return model.Address{IP: tcpAddr.IP, Port: uint16(tcpAddr.Port)}, true
	}
	return model.Address{}, false
}
