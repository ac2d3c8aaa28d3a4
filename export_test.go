package dbsandbox

import "time"

// ResetForTesting resets the singleton so that the next call to Shared
// creates a fresh sandbox. This is exported only for use in test packages
// (package dbsandbox_test).
func ResetForTesting() { resetForTesting() }

// ConfigSnapshot holds a copy of sandboxConfig fields for test assertions.
type ConfigSnapshot struct {
	Host          string
	BasePort      int
	Database      string
	MinimumUptime time.Duration
	StartTimeout  time.Duration
	StopTimeout   time.Duration
	Version       string
	InstallDir    string
	DownloadURL   string
	ArchiveSHA256 string
	Distro        string
	Engine        Engine
	Ports         *PortRegistry
}

// ApplyOptionsForTesting creates a default sandboxConfig, applies opts and
// returns a ConfigSnapshot of the result without constructing a sandbox.
func ApplyOptionsForTesting(opts ...Option) ConfigSnapshot {
	cfg := applyOptions(opts)
	return ConfigSnapshot{
		Host:          cfg.Host,
		BasePort:      cfg.BasePort,
		Database:      cfg.Database,
		MinimumUptime: cfg.MinimumUptime,
		StartTimeout:  cfg.StartTimeout,
		StopTimeout:   cfg.StopTimeout,
		Version:       cfg.Installer.Version,
		InstallDir:    cfg.Installer.InstallDir,
		DownloadURL:   cfg.Installer.DownloadURL,
		ArchiveSHA256: cfg.Installer.SHA256,
		Distro:        cfg.Installer.Distro,
		Engine:        cfg.Engine,
		Ports:         cfg.Ports,
	}
}
