package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/libp2p/go-libp2p"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/p2p/protocol/ping"
	tcp "github.com/libp2p/go-libp2p/p2p/transport/tcp"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"go.uber.org/zap"

	"github.com/frebib/kipa/internal/kerr"
	"github.com/frebib/kipa/internal/model"
)

// ProtocolID identifies the single libp2p protocol this daemon speaks: one
// request, one response, per stream.
const ProtocolID = "/kipa/query/1.0.0"

// dialTimeout bounds how long a single Send may spend establishing the
// underlying stream before giving up.
const dialTimeout = 10 * time.Second

// LibP2P is the production Transport, grounded on the teacher's
// go-node/node.go host construction. Unlike the teacher, which enables the
// full DefaultTransports set (TCP + QUIC + WebRTC) for its own mixnet,
// this daemon's Transport contract (spec section 6) only calls for a
// reliable stream between two known addresses, so the host is built with
// TCP-only listen addresses — see DESIGN.md for the full list of
// deliberately unwired teacher dependencies (quic-go, pion/*, webrtc/v3).
type LibP2P struct {
	host   host.Host
	pinger *ping.PingService
	log    *zap.Logger
	port   uint16

	done   <-chan struct{}
	cancel context.CancelFunc
}

// NewLibP2P starts a libp2p host bound to listenPort (0 picks a free port)
// using the identity's expanded ed25519 private key (the standard 64-byte
// seed+pubkey form, e.g. ed25519.PrivateKey) as the libp2p node identity,
// and installs the protocol stream handler routing to handler.
func NewLibP2P(listenPort uint16, edPriv64 []byte, handler InboundHandler, log *zap.Logger) (*LibP2P, error) {
	stdPriv, err := libp2pcrypto.UnmarshalEd25519PrivateKey(edPriv64)
	if err != nil {
		return nil, kerr.Configuration(err, "unmarshal ed25519 identity for libp2p host")
	}

	h, err := libp2p.New(
		libp2p.Identity(stdPriv),
		libp2p.DefaultSecurity,
		libp2p.DefaultMuxers,
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.ListenAddrStrings(
			fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", listenPort),
			fmt.Sprintf("/ip6/::/tcp/%d", listenPort),
		),
	)
	if err != nil {
		return nil, kerr.Configuration(err, "construct libp2p host")
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &LibP2P{
		host:   h,
		pinger: ping.NewPingService(h),
		log:    log,
		port:   resolveBoundPort(h),
		done:   ctx.Done(),
		cancel: cancel,
	}

	h.SetStreamHandler(ProtocolID, func(s network.Stream) {
		t.handleStream(s, handler)
	})

	return t, nil
}

func (t *LibP2P) handleStream(s network.Stream, handler InboundHandler) {
	defer s.Close()

	peerIP := peerIPOf(s)
	payload, err := readFrame(s)
	if err != nil {
		t.log.Debug("inbound frame read failed", zap.Error(err))
		return
	}

	resp := handler(context.Background(), peerIP, payload)
	if err := writeFrame(s, resp); err != nil {
		t.log.Debug("inbound frame write failed", zap.Error(err))
	}
}

// Send opens a fresh stream to target, writes payload, half-closes the
// write side (signalling "this is the whole request"), and reads back
// exactly one framed response — the "one request, one response, then
// closed" contract of spec section 6.
func (t *LibP2P) Send(ctx context.Context, target model.Node, payload []byte) ([]byte, error) {
	pid, err := peerIDFromKey(target.Key)
	if err != nil {
		return nil, kerr.Parse(err, "derive peer id from target key")
	}

	addr, err := multiaddrFor(target.Address)
	if err != nil {
		return nil, kerr.Parse(err, "build multiaddr for target address")
	}
	t.host.Peerstore().AddAddr(pid, addr, peerstore.TempAddrTTL)

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	s, err := t.host.NewStream(dialCtx, pid, ProtocolID)
	if err != nil {
		return nil, kerr.External(err, "open stream to peer")
	}
	defer s.Close()

	if err := writeFrame(s, payload); err != nil {
		return nil, kerr.External(err, "write request frame")
	}
	if err := s.CloseWrite(); err != nil {
		return nil, kerr.External(err, "close write side of stream")
	}

	resp, err := readFrame(s)
	if err != nil {
		return nil, kerr.External(err, "read response frame")
	}
	return resp, nil
}

// Serve blocks until Close is called. The stream handler that actually
// processes requests is installed once, in NewLibP2P, since libp2p drives
// its own accept loop internally.
func (t *LibP2P) Serve(handler InboundHandler) error {
	<-t.done
	return nil
}

func (t *LibP2P) LocalPort() uint16 { return t.port }

// Host exposes the underlying libp2p host so internal/discovery can attach
// an mDNS service to the same host this daemon already listens on,
// instead of standing up a second one. Nothing in internal/envelope,
// internal/pipeline, or internal/search ever needs this — it is wiring
// surface for cmd/kipad only.
func (t *LibP2P) Host() host.Host { return t.host }

func (t *LibP2P) Close() error {
	t.cancel()
	return t.host.Close()
}

func peerIDFromKey(k model.Key) (peer.ID, error) {
	raw := k.Bytes()
	if len(raw) < 32 {
		return "", kerr.Parse(nil, "key too short to contain an ed25519 public key")
	}
	pub, err := libp2pcrypto.UnmarshalEd25519PublicKey(raw[:32])
	if err != nil {
		return "", err
	}
	return peer.IDFromPublicKey(pub)
}

func multiaddrFor(addr model.Address) (ma.Multiaddr, error) {
	proto := "ip4"
	if addr.IP.To4() == nil {
		proto = "ip6"
	}
	return ma.NewMultiaddr(fmt.Sprintf("/%s/%s/tcp/%d", proto, addr.IP.String(), addr.Port))
}

func peerIPOf(s network.Stream) net.IP {
	remote := s.Conn().RemoteMultiaddr()
	ip, err := manet.ToIP(remote)
	if err != nil {
		return nil
	}
	return ip
}

func resolveBoundPort(h host.Host) uint16 {
	for _, addr := range h.Addrs() {
		if portStr, err := addr.ValueForProtocol(ma.P_TCP); err == nil {
			var p int
			fmt.Sscanf(portStr, "%d", &p)
			return uint16(p)
		}
	}
	return 0
}
