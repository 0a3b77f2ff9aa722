package main

import "time"

// config is cmd/kipad's flag/environment-variable surface, following the
// teacher's own `defaultConfig()` + `flag.*Var` shape
// (go-node/config.go, keysaver-server/config.go): sane defaults in code,
// overridable on the command line. It is translated into daemon.Config
// once flags are parsed; nothing below internal/daemon ever sees a flag.
type config struct {
	ListenPort  int
	MetricsAddr string

	IdentityPath string
	NewIdentity  bool

	NeighbourMaxSize int
	NeighbourAlpha   float64
	NeighbourBeta    float64

	KReturn  int
	KSeed    int
	KClosure int

	SearchMaxThreads   int
	SearchProbeTimeout time.Duration
	SearchDeadline     time.Duration

	Mode    string
	Version string

	LocalIPCPath    string
	PersistencePath string

	EnableDiscovery       bool
	DiscoveryProbeTimeout time.Duration

	Development bool
}

// identityPassEnvVar is the environment variable cmd/kipad falls back to
// when --identity-pass is not given, mirroring the teacher's
// MIXNETS_ENV_PASS convention for its own env.enc passphrase
// (go-node/main.go).
const identityPassEnvVar = "KIPA_IDENTITY_PASS"

func defaultConfig() *config {
	return &config{
		ListenPort:  0,
		MetricsAddr: "127.0.0.1:9090",

		IdentityPath: "kipad.identity",

		NeighbourMaxSize: 32,
		NeighbourAlpha:   1.0,
		NeighbourBeta:    0.25,

		KReturn:  8,
		KSeed:    3,
		KClosure: 1,

		SearchMaxThreads:   8,
		SearchProbeTimeout: 5 * time.Second,
		SearchDeadline:     30 * time.Second,

		Mode:    "private",
		Version: "kipa/1",

		LocalIPCPath:    "/tmp/kipad.sock",
		PersistencePath: "kipad.db",

		EnableDiscovery:       false,
		DiscoveryProbeTimeout: 10 * time.Second,
	}
}
