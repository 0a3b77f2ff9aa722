// Package daemon wires the core KIPA engine (spec sections 3-9: key space,
// neighbour store, secure envelope, search engine, payload handler,
// pipelines) to its concrete collaborators — transport, persistence,
// discovery, local IPC, metrics — the way `go-node/main.go` wires a Node's
// peer store, DHT, beacon broadcaster and HTTP servers together. cmd/kipad
// is the only caller; nothing under internal/ imports this package.
package daemon

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/frebib/kipa/internal/codec"
	"github.com/frebib/kipa/internal/cryptoprovider"
	"github.com/frebib/kipa/internal/discovery"
	"github.com/frebib/kipa/internal/envelope"
	"github.com/frebib/kipa/internal/kerr"
	"github.com/frebib/kipa/internal/localipc"
	"github.com/frebib/kipa/internal/metrics"
	"github.com/frebib/kipa/internal/model"
	"github.com/frebib/kipa/internal/neighbours"
	"github.com/frebib/kipa/internal/payload"
	"github.com/frebib/kipa/internal/persistence"
	"github.com/frebib/kipa/internal/pipeline"
	"github.com/frebib/kipa/internal/search"
	"github.com/frebib/kipa/internal/transport"
)

// Config holds every tunable the daemon's constituent packages expose,
// collected in one place the way `go-node/config.go`'s Config struct
// collects that node's tunables. cmd/kipad owns turning flags/env vars into
// this struct; nothing here parses flags itself.
type Config struct {
	// ListenPort is the libp2p TCP listen port; 0 picks a free port.
	ListenPort uint16

	Neighbours neighbours.Config
	Payload    payload.Config

	// SearchMaxThreads, SearchProbeTimeout and SearchDeadline are the
	// search engine's concurrency and timing bounds (spec section 4.7
	// inputs).
	SearchMaxThreads   int
	SearchProbeTimeout time.Duration
	SearchDeadline     time.Duration

	// Mode is the wire mode this daemon uses for requests it originates
	// (spec section 9 Design Notes: a daemon picks one default mode per
	// process). Inbound requests are always answered in whichever mode
	// they arrived in, regardless of this setting.
	Mode envelope.Mode

	// LocalIPCPath is the Unix domain socket path internal/localipc binds
	// (spec section 6's local control surface).
	LocalIPCPath string

	// PersistencePath is the sqlite database path for neighbour state
	// (spec section 6 Persistence). Empty disables persistence.
	PersistencePath string

	// EnableDiscovery turns on LAN mDNS bootstrap (SUPPLEMENTED FEATURES
	// #5). Off by default for operators who only want manually supplied
	// bootstrap peers.
	EnableDiscovery bool

	// DiscoveryProbeTimeout bounds the Connect call triggered by each
	// mDNS-discovered peer.
	DiscoveryProbeTimeout time.Duration
}

// DefaultConfig returns reasonable defaults for a single-node development
// run; cmd/kipad overlays flags/env vars on top of this.
func DefaultConfig() Config {
	return Config{
		ListenPort:            0,
		Neighbours:            neighbours.DefaultConfig(),
		Payload:               payload.DefaultConfig(),
		SearchMaxThreads:      8,
		SearchProbeTimeout:    5 * time.Second,
		SearchDeadline:        30 * time.Second,
		Mode:                  envelope.ModePrivate,
		LocalIPCPath:          "/tmp/kipad.sock",
		PersistencePath:       "",
		EnableDiscovery:       false,
		DiscoveryProbeTimeout: 10 * time.Second,
	}
}

// Daemon owns every long-lived component of one running node. Its zero
// value is not usable; construct one with New.
type Daemon struct {
	cfg Config
	log *zap.Logger

	identity cryptoprovider.Provider
	store    *neighbours.Store
	persist  *persistence.Store
	engine   *search.Engine
	metrics  *metrics.Metrics

	transport *transport.LibP2P
	incoming  *pipeline.Incoming
	outgoing  *pipeline.Outgoing

	localIPC  *localipc.Server
	discovery *discovery.MDNS
}

// New constructs every component and wires them together, but does not yet
// bind any listener — call Start for that. identity is the local signing
// and key-agreement keypair, normally loaded or generated by cmd/kipad via
// internal/cryptoprovider/keyimport.go before this is called.
func New(identity cryptoprovider.Provider, cfg Config, log *zap.Logger) (*Daemon, error) {
	local := model.Node{Key: identity.PublicKey()}

	store := neighbours.New(identity.PublicKey(), cfg.Neighbours)

	var persist *persistence.Store
	if cfg.PersistencePath != "" {
		p, err := persistence.Open(cfg.PersistencePath, identity, log)
		if err != nil {
			return nil, err
		}
		persist = p
		store.Restore(persist.Load())
	}

	engine := search.New(cfg.SearchMaxThreads, cfg.SearchProbeTimeout, cfg.SearchDeadline, log)
	m := metrics.New()
	m.NeighbourGaugeFunc(store)

	c := codec.NewJSON()
	env := envelope.New(identity)

	// Transport needs an InboundHandler at construction time, but the
	// handler it must call (the incoming pipeline) cannot be built until
	// the outgoing pipeline — which needs the transport itself to send
	// probes — already exists. The forwarding closure below breaks the
	// cycle: incoming is filled in once, immediately after, before Serve
	// is ever called.
	var incoming *pipeline.Incoming
	t, err := transport.NewLibP2P(cfg.ListenPort, mustEd25519PrivateKey(identity), func(ctx context.Context, peerIP net.IP, body []byte) []byte {
		return incoming.Handle(ctx, peerIP, body)
	}, log)
	if err != nil {
		return nil, err
	}

	outgoing := pipeline.NewOutgoing(t, env, c, cfg.Mode, cfg.Payload.Version, log)

	handler := payload.New(local, store, engine, m.WrapQuerier(outgoing), cfg.Payload, log)
	wrappedHandler := m.WrapHandler(handler)
	incoming = pipeline.NewIncoming(env, c, wrappedHandler, store, outgoing, cfg.Payload.Version, log)

	localIPC, err := localipc.Listen(cfg.LocalIPCPath, localHandlerAdapter{h: handler}, c, cfg.Payload.Version, log)
	if err != nil {
		t.Close()
		return nil, kerr.Configuration(err, "bind local ipc socket")
	}

	d := &Daemon{
		cfg:       cfg,
		log:       log,
		identity:  identity,
		store:     store,
		persist:   persist,
		engine:    engine,
		metrics:   m,
		transport: t,
		incoming:  incoming,
		outgoing:  outgoing,
		localIPC:  localIPC,
	}

	if cfg.EnableDiscovery {
		mdns, err := discovery.Start(t.Host(), localHandlerAdapter{h: handler}, log, func() context.Context {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.DiscoveryProbeTimeout)
			go func() {
				<-ctx.Done()
				cancel()
			}()
			return ctx
		})
		if err != nil {
			d.log.Warn("mdns discovery failed to start, continuing without it", zap.Error(err))
		} else {
			d.discovery = mdns
		}
	}

	return d, nil
}

// Metrics exposes the Prometheus handler for cmd/kipad to mount on its
// localhost-only control listener.
func (d *Daemon) Metrics() *metrics.Metrics { return d.metrics }

// LocalKey returns this daemon's own public key, for cmd/kipad to log at
// startup.
func (d *Daemon) LocalKey() model.Key { return d.identity.PublicKey() }

// ListenPort returns the bound libp2p listen port, resolved after Start.
func (d *Daemon) ListenPort() uint16 { return d.transport.LocalPort() }

// Start begins serving the peer-facing transport and the local IPC socket.
// Both run until Shutdown is called; Start itself returns immediately.
func (d *Daemon) Start() {
	go func() {
		if err := d.transport.Serve(nil); err != nil {
			d.log.Error("transport serve exited", zap.Error(err))
		}
	}()
	go func() {
		if err := d.localIPC.Serve(); err != nil {
			d.log.Debug("local ipc serve exited", zap.Error(err))
		}
	}()
}

// Shutdown implements the graceful-shutdown contract of SUPPLEMENTED
// FEATURES #7: close the local IPC listener, stop discovery, save and close
// the neighbour persistence store, then close the transport. ctx is not
// read: no step is bounded by it, and in-flight searches are neither
// cancelled nor waited for (the search engine's own deadline bounds them,
// per spec section 4.7).
func (d *Daemon) Shutdown(ctx context.Context) error {
	_ = d.localIPC.Close()
	if d.discovery != nil {
		_ = d.discovery.Close()
	}

	if d.persist != nil {
		if err := d.persist.Save(d.store); err != nil {
			d.log.Warn("failed to persist neighbour state at shutdown", zap.Error(err))
		}
		_ = d.persist.Close()
	}

	return d.transport.Close()
}

func mustEd25519PrivateKey(p cryptoprovider.Provider) []byte {
	raw, ok := cryptoprovider.Ed25519PrivateKeyBytes(p)
	if !ok {
		panic("daemon: identity provider does not expose an ed25519 private key")
	}
	return raw
}

// localHandlerAdapter satisfies both localipc.Handler and
// discovery.Bootstrapper by delegating straight to the already-exported
// Search/Connect/ListNeighbours methods on *payload.Handler — there is no
// wire RequestBody involved on this path, unlike the network transport,
// since both callers (the local socket and mDNS discovery) already speak
// in plain Go types.
type localHandlerAdapter struct {
	h *payload.Handler
}

func (a localHandlerAdapter) Search(ctx context.Context, target model.Key) (*model.Node, error) {
	return a.h.Search(ctx, target)
}

func (a localHandlerAdapter) ListNeighbours(ctx context.Context) ([]model.Node, error) {
	return a.h.ListNeighbours(), nil
}

func (a localHandlerAdapter) Connect(ctx context.Context, bootstrap model.Node) error {
	return a.h.Connect(ctx, bootstrap)
}
