package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/giantswarm/dbsandbox/internal/netutil"
)

// DefaultHost is the bind address used when Config.Host is empty.
const DefaultHost = "127.0.0.1"

// DefaultDatabase is the database name used when Config.Database is empty.
const DefaultDatabase = "dbsandbox"

// InstallerOptions are passed through to the installer untouched. The
// sandbox never reads them.
type InstallerOptions struct {
	// Version selects the server release. Empty means "latest".
	Version string
	// InstallDir is where archives are unpacked. It is also the shared root
	// from which per-port working directories are derived.
	InstallDir string
	// DownloadURL is a template for the archive URL. See installer.Config.
	DownloadURL string
	// SHA256 is the expected archive digest. Empty skips verification.
	SHA256 string
	// Distro overrides the detected Linux distribution tag.
	Distro string
}

// Config holds the manager-owned settings of a Sandbox. It is immutable after
// construction via NewSandbox.
type Config struct {
	// Host is the bind/listen address of the server. Default: DefaultHost.
	Host string

	// BasePort is where port probing starts. 0 means netutil.DefaultBasePort.
	BasePort int

	// Database is the logical database used by the data-plane helpers.
	// Default: DefaultDatabase.
	Database string

	// MinimumUptime is how long the Lifecycle guard keeps the server running
	// after BeforeAll succeeded before AfterAll may stop it. Default: 0.
	MinimumUptime time.Duration

	// StartTimeout bounds one start transition, including a possible
	// download. It does not bound callers joining the transition.
	StartTimeout time.Duration

	// StopTimeout bounds one stop transition.
	StopTimeout time.Duration

	Installer InstallerOptions
}

// Validate checks every Config invariant and reports all violations at once
// via errors.Join.
func (c Config) Validate() error {
	var errs []error

	if c.BasePort < 0 || c.BasePort > netutil.MaxPort {
		errs = append(errs, fmt.Errorf("base port must be within [0, %d], got %d", netutil.MaxPort, c.BasePort))
	}
	if c.MinimumUptime < 0 {
		errs = append(errs, fmt.Errorf("minimum uptime must not be negative, got %s", c.MinimumUptime))
	}
	if c.StartTimeout <= 0 {
		errs = append(errs, fmt.Errorf("start timeout must be greater than 0, got %s", c.StartTimeout))
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stop timeout must be greater than 0, got %s", c.StopTimeout))
	}
	if strings.ContainsAny(c.Host, " /") {
		errs = append(errs, fmt.Errorf("host must be a bare address, got %q", c.Host))
	}
	if err := validateDatabaseName(c.Database); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// validateDatabaseName applies MongoDB's naming restrictions. The empty
// string is allowed and resolves to DefaultDatabase.
func validateDatabaseName(name string) error {
	if name == "" {
		return nil
	}
	if len(name) > 63 {
		return fmt.Errorf("database name must be at most 63 bytes, got %d", len(name))
	}
	if i := strings.IndexAny(name, "/\\. \"$*<>:|?\x00"); i >= 0 {
		return fmt.Errorf("database name %q contains invalid character %q", name, name[i])
	}
	return nil
}

// host resolves the bind address: explicit config, then DefaultHost.
func (c Config) host() string {
	if c.Host != "" {
		return c.Host
	}
	return DefaultHost
}

// database resolves the database name: explicit config, then DefaultDatabase.
func (c Config) database() string {
	if c.Database != "" {
		return c.Database
	}
	return DefaultDatabase
}
