package dbsandbox

import (
	"github.com/giantswarm/dbsandbox/internal/core"
	"github.com/giantswarm/dbsandbox/internal/netutil"
)

// sandboxConfig holds the configuration of a Sandbox. It embeds core.Config,
// which separates manager-owned fields from the installer pass-through, and
// adds the wiring choices that only matter at construction time.
type sandboxConfig struct {
	core.Config

	Engine Engine
	Ports  *netutil.PortRegistry
}

// defaultSandboxConfig returns a sandboxConfig with every default applied.
// NewSandbox and the test helpers both start from it.
func defaultSandboxConfig() sandboxConfig {
	return sandboxConfig{
		Config: core.Config{
			Host:          DefaultHost,
			BasePort:      DefaultBasePort,
			Database:      DefaultDatabase,
			MinimumUptime: DefaultMinimumUptime,
			StartTimeout:  DefaultStartTimeout,
			StopTimeout:   DefaultStopTimeout,
		},
		Engine: DefaultEngine,
	}
}

func applyOptions(opts []Option) sandboxConfig {
	cfg := defaultSandboxConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
