package discovery

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"
)

// NotifeeForTest exposes the unexported notifee type's HandlePeerFound
// method so discovery_test can exercise the candidate-key derivation
// directly against a fake peer.AddrInfo, without standing up a real mdns
// service or libp2p host — the same reasoning as transport's
// WriteFrameForTest/ReadFrameForTest.
func NotifeeForTest(boot Bootstrapper, log *zap.Logger, probeTimeout func() context.Context) interface {
	HandlePeerFound(peer.AddrInfo)
} {
	return &notifee{m: &MDNS{log: log, boot: boot}, probeTimeout: probeTimeout}
}
