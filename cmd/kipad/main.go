// Command kipad runs one KIPA daemon: it owns an identity, a neighbour
// store, and the libp2p transport, search engine and secure envelope that
// connect them to the rest of the overlay, plus a local control socket and
// an operational metrics listener. It is the daemon binary only — a rich
// CLI front-end is a separate, not-yet-written client of
// internal/localipc, per spec.md's Non-goals.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/frebib/kipa/internal/cryptoprovider"
	"github.com/frebib/kipa/internal/daemon"
	"github.com/frebib/kipa/internal/envelope"
	"github.com/frebib/kipa/internal/neighbours"
	"github.com/frebib/kipa/internal/payload"
)

func main() {
	cfg := defaultConfig()

	flag.IntVar(&cfg.ListenPort, "listen-port", cfg.ListenPort, "libp2p TCP listen port (0 picks a free port)")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "localhost-only address for the Prometheus metrics endpoint")

	flag.StringVar(&cfg.IdentityPath, "identity", cfg.IdentityPath, "path to the sealed identity file")
	var identityPass string
	flag.StringVar(&identityPass, "identity-pass", "", fmt.Sprintf("passphrase for the identity file (or set %s)", identityPassEnvVar))
	flag.BoolVar(&cfg.NewIdentity, "new-identity", false, "generate and seal a fresh identity if none exists at --identity")

	flag.IntVar(&cfg.NeighbourMaxSize, "neighbour-max", cfg.NeighbourMaxSize, "maximum neighbour store size (N)")
	flag.Float64Var(&cfg.NeighbourAlpha, "alpha", cfg.NeighbourAlpha, "neighbour selection distance weight")
	flag.Float64Var(&cfg.NeighbourBeta, "beta", cfg.NeighbourBeta, "neighbour selection angular-spread weight")

	flag.IntVar(&cfg.KReturn, "k-return", cfg.KReturn, "neighbours returned per Query response")
	flag.IntVar(&cfg.KSeed, "k-seed", cfg.KSeed, "neighbours seeding a Search's initial frontier")
	flag.IntVar(&cfg.KClosure, "k-closure", cfg.KClosure, "k in the Search/Connect closure termination condition")

	flag.IntVar(&cfg.SearchMaxThreads, "search-threads", cfg.SearchMaxThreads, "max concurrent in-flight probes per search")
	flag.DurationVar(&cfg.SearchProbeTimeout, "probe-timeout", cfg.SearchProbeTimeout, "timeout for a single probe")
	flag.DurationVar(&cfg.SearchDeadline, "search-deadline", cfg.SearchDeadline, "overall deadline for one Search/Connect run")

	flag.StringVar(&cfg.Mode, "mode", cfg.Mode, "default wire mode for originated requests: fast or private")
	flag.StringVar(&cfg.Version, "protocol-version", cfg.Version, "message version string stamped on every response")

	flag.StringVar(&cfg.LocalIPCPath, "ipc-socket", cfg.LocalIPCPath, "Unix domain socket path for the local control surface")
	flag.StringVar(&cfg.PersistencePath, "db", cfg.PersistencePath, "sqlite database path for neighbour persistence (empty disables it)")

	flag.BoolVar(&cfg.EnableDiscovery, "discovery", cfg.EnableDiscovery, "enable LAN mDNS bootstrap discovery")
	flag.DurationVar(&cfg.DiscoveryProbeTimeout, "discovery-probe-timeout", cfg.DiscoveryProbeTimeout, "Connect timeout for each mDNS-discovered peer")

	flag.BoolVar(&cfg.Development, "development", false, "use zap's development logging encoder")
	flag.Parse()

	log := mustLogger(cfg.Development)
	defer log.Sync()

	if identityPass == "" {
		identityPass = os.Getenv(identityPassEnvVar)
	}
	if identityPass == "" {
		log.Fatal("identity passphrase missing: supply --identity-pass or set " + identityPassEnvVar)
	}

	identity, err := loadOrCreateIdentity(cfg, []byte(identityPass), log)
	if err != nil {
		log.Fatal("load identity", zap.Error(err))
	}
	log.Info("identity loaded", zap.String("fingerprint", identity.PublicKey().Fingerprint()))

	mode, err := envelope.ParseMode(cfg.Mode)
	if err != nil {
		log.Fatal("parse --mode", zap.Error(err))
	}

	dCfg := daemon.DefaultConfig()
	dCfg.ListenPort = uint16(cfg.ListenPort)
	dCfg.Neighbours = neighbours.Config{Alpha: cfg.NeighbourAlpha, Beta: cfg.NeighbourBeta, MaxSize: cfg.NeighbourMaxSize}
	dCfg.Payload = payload.Config{Version: cfg.Version, KReturn: cfg.KReturn, KSeed: cfg.KSeed, KClosure: cfg.KClosure}
	dCfg.SearchMaxThreads = cfg.SearchMaxThreads
	dCfg.SearchProbeTimeout = cfg.SearchProbeTimeout
	dCfg.SearchDeadline = cfg.SearchDeadline
	dCfg.Mode = mode
	dCfg.LocalIPCPath = cfg.LocalIPCPath
	dCfg.PersistencePath = cfg.PersistencePath
	dCfg.EnableDiscovery = cfg.EnableDiscovery
	dCfg.DiscoveryProbeTimeout = cfg.DiscoveryProbeTimeout

	d, err := daemon.New(identity, dCfg, log)
	if err != nil {
		log.Fatal("construct daemon", zap.Error(err))
	}

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           d.Metrics().Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server exited", zap.Error(err))
		}
	}()

	d.Start()
	log.Info("kipad started",
		zap.Uint16("listen_port", d.ListenPort()),
		zap.String("ipc_socket", cfg.LocalIPCPath),
		zap.String("mode", cfg.Mode))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	if err := d.Shutdown(shutdownCtx); err != nil {
		log.Error("daemon shutdown", zap.Error(err))
	}
}

func mustLogger(development bool) *zap.Logger {
	var log *zap.Logger
	var err error
	if development {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return log
}

// loadOrCreateIdentity opens the sealed identity at cfg.IdentityPath, or —
// if it does not exist and --new-identity was given — generates one and
// seals it there, mirroring the teacher's env.enc load-or-create flow in
// go-node/main.go ("environment not set. Run with --new-net...").
func loadOrCreateIdentity(cfg *config, passphrase []byte, log *zap.Logger) (cryptoprovider.Provider, error) {
	blob, err := os.ReadFile(cfg.IdentityPath)
	if err == nil {
		edSeed, xPriv, err := cryptoprovider.OpenIdentity(passphrase, blob)
		if err != nil {
			return nil, err
		}
		return cryptoprovider.FromSeeds(edSeed, xPriv)
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	if !cfg.NewIdentity {
		return nil, fmt.Errorf("no identity at %s: run with --new-identity to create one", cfg.IdentityPath)
	}

	identity, err := cryptoprovider.Generate()
	if err != nil {
		return nil, err
	}
	edSeed, xPriv, ok := cryptoprovider.SeedMaterial(identity)
	if !ok {
		return nil, fmt.Errorf("generated identity did not expose seed material")
	}
	sealed, err := cryptoprovider.SealIdentity(passphrase, edSeed, xPriv)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(cfg.IdentityPath, sealed, 0600); err != nil {
		return nil, err
	}
	log.Info("generated new identity", zap.String("path", cfg.IdentityPath))
	return identity, nil
}
