package dbsandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/giantswarm/dbsandbox/internal/core"
	"github.com/giantswarm/dbsandbox/internal/installer"
	"github.com/giantswarm/dbsandbox/internal/litestore"
	"github.com/giantswarm/dbsandbox/internal/mongoclient"
	"github.com/giantswarm/dbsandbox/internal/mongod"
	"github.com/giantswarm/dbsandbox/internal/netutil"
)

// Singleton state for Shared. singletonMu protects both fields so that
// resetForTesting is safe alongside Shared.
var (
	singletonMu   sync.Mutex
	singleton     Sandbox
	singletonOnce sync.Once
)

var _ Sandbox = (*sandboxWrapper)(nil)

// sandboxWrapper implements Sandbox on top of core.Sandbox. The core type is
// a named field rather than embedded so that type assertions cannot reach
// methods outside the Sandbox interface.
type sandboxWrapper struct {
	sb *core.Sandbox
}

func (w *sandboxWrapper) ID() string                        { return w.sb.ID() }
func (w *sandboxWrapper) Install(ctx context.Context) error { return w.sb.Install(ctx) }
func (w *sandboxWrapper) Start(ctx context.Context) error   { return w.sb.Start(ctx) }
func (w *sandboxWrapper) Stop(ctx context.Context) error    { return w.sb.Stop(ctx) }
func (w *sandboxWrapper) State() State                      { return w.sb.State() }
func (w *sandboxWrapper) IsRunning() bool                   { return w.sb.IsRunning() }
func (w *sandboxWrapper) Options() (ConnOptions, error)     { return w.sb.Options() }

//nolint:ireturn // Client is the public connection contract.
func (w *sandboxWrapper) Client(ctx context.Context) (Client, error) {
	return w.sb.Client(ctx)
}

//nolint:ireturn // Client is the public connection contract.
func (w *sandboxWrapper) NewClient(ctx context.Context) (Client, error) {
	return w.sb.NewClient(ctx)
}

func (w *sandboxWrapper) HasDocuments(ctx context.Context) (bool, error) {
	return w.sb.HasDocuments(ctx)
}

func (w *sandboxWrapper) PurgeDocuments(ctx context.Context) error {
	return w.sb.PurgeDocuments(ctx)
}

//nolint:ireturn // Lifecycle is returned as an interface for mocking.
func (w *sandboxWrapper) Lifecycle(ext DeadlineExtender) Lifecycle {
	return w.sb.Lifecycle(ext)
}

// NewSandbox returns an idle Sandbox. It performs no I/O; the server is
// installed and started by Start (or Lifecycle.BeforeAll).
//
// Panics if any option receives an invalid value. See the With* functions
// for constraints.
//
//nolint:ireturn // Sandbox is the public contract.
func NewSandbox(opts ...Option) Sandbox {
	sb, err := build(applyOptions(opts))
	if err != nil {
		panic(fmt.Sprintf("dbsandbox: %v", err))
	}
	return sb
}

// Shared returns the process-level singleton Sandbox. The first call creates
// it with opts; later calls return the same sandbox, ignore opts and log a
// warning.
//
//nolint:ireturn // Sandbox is the public contract.
func Shared(opts ...Option) Sandbox {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	created := false
	singletonOnce.Do(func() {
		singleton = NewSandbox(opts...)
		created = true
	})
	if !created && len(opts) > 0 {
		core.Logger().Warn("Shared called more than once; returning existing sandbox (options ignored)")
	}
	return singleton
}

// resetForTesting clears the singleton so that the next Shared call creates
// a fresh sandbox. It must only be called from tests.
func resetForTesting() {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	singleton = nil
	singletonOnce = sync.Once{}
}

// Install installs the server binary selected by opts without starting it.
// Useful to pre-warm CI caches.
func Install(ctx context.Context, opts ...Option) error {
	return NewSandbox(opts...).Install(ctx)
}

// build wires the collaborators for cfg.Engine into a core.Sandbox.
func build(cfg sandboxConfig) (*sandboxWrapper, error) {
	ports := cfg.Ports
	if ports == nil {
		ports = netutil.DefaultPortRegistry()
	}

	params := core.NewSandboxParams{
		ID:     uuid.NewString(),
		Config: cfg.Config,
		Ports:  ports,
	}

	switch cfg.Engine {
	case EngineLite:
		params.Installer = litestore.Installer{Root: cfg.Installer.InstallDir}
		params.Topology = litestore.Factory(core.Logger())
		params.Connector = litestore.Connector{}
	default:
		inst, err := installer.New(installer.Config{
			Version:     cfg.Installer.Version,
			InstallDir:  cfg.Installer.InstallDir,
			DownloadURL: cfg.Installer.DownloadURL,
			SHA256:      cfg.Installer.SHA256,
			Distro:      cfg.Installer.Distro,
			Logger:      core.Logger(),
		})
		if err != nil {
			return nil, err
		}
		params.Installer = inst
		params.Topology = mongodFactory(cfg.Config)
		params.Connector = mongoclient.Connector{}
	}

	return &sandboxWrapper{sb: core.NewSandbox(params)}, nil
}

// mongodFactory builds mongod topologies whose readiness and stop waits
// follow the sandbox timeouts.
func mongodFactory(cfg core.Config) core.TopologyFactory {
	return func(binaryPath string, tc core.TopologyConfig) (core.Topology, error) {
		t, err := mongod.New(mongod.Config{
			BinaryPath:   binaryPath,
			BindAddress:  tc.BindAddress,
			Port:         tc.Port,
			DataDir:      tc.DataDir,
			ReadyTimeout: cfg.StartTimeout,
			StopTimeout:  cfg.StopTimeout,
			Logger:       core.Logger(),
		})
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}
