package dbsandbox

import (
	"errors"
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/giantswarm/dbsandbox/internal/core"
	"github.com/giantswarm/dbsandbox/internal/installer"
	"github.com/giantswarm/dbsandbox/internal/netutil"
)

// FileConfig is the YAML form of the sandbox options. Zero values mean
// "use the default". Durations use time.ParseDuration syntax.
//
//	engine: litestore
//	basePort: 37017
//	database: orders
//	minimumUptime: 2s
type FileConfig struct {
	Engine        string        `yaml:"engine"`
	Host          string        `yaml:"host"`
	BasePort      int           `yaml:"basePort"`
	Database      string        `yaml:"database"`
	MinimumUptime time.Duration `yaml:"minimumUptime"`
	StartTimeout  time.Duration `yaml:"startTimeout"`
	StopTimeout   time.Duration `yaml:"stopTimeout"`
	Version       string        `yaml:"version"`
	InstallDir    string        `yaml:"installDir"`
	DownloadURL   string        `yaml:"downloadURL"`
	ArchiveSHA256 string        `yaml:"archiveSHA256"`
	Distro        string        `yaml:"distro"`
}

// Validate reports every invalid field at once. A FileConfig that passes
// Validate converts to options that never panic.
func (c FileConfig) Validate() error {
	var errs []error
	if c.Engine != "" {
		if _, err := ParseEngine(c.Engine); err != nil {
			errs = append(errs, err)
		}
	}
	if c.BasePort < 0 || c.BasePort > netutil.MaxPort {
		errs = append(errs, fmt.Errorf("basePort must be within [1, %d], got %d", netutil.MaxPort, c.BasePort))
	}
	if c.MinimumUptime < 0 {
		errs = append(errs, fmt.Errorf("minimumUptime must not be negative, got %v", c.MinimumUptime))
	}
	if c.StartTimeout < 0 {
		errs = append(errs, fmt.Errorf("startTimeout must not be negative, got %v", c.StartTimeout))
	}
	if c.StopTimeout < 0 {
		errs = append(errs, fmt.Errorf("stopTimeout must not be negative, got %v", c.StopTimeout))
	}
	if c.Version != "" {
		if err := installer.ValidateVersion(c.Version); err != nil {
			errs = append(errs, err)
		}
	}
	// Host and database rules live on core.Config.
	names := core.Config{
		Host:         c.Host,
		Database:     c.Database,
		StartTimeout: DefaultStartTimeout,
		StopTimeout:  DefaultStopTimeout,
	}
	if err := names.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.ArchiveSHA256 != "" {
		if err := validateSHA256(c.ArchiveSHA256); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Options converts the set fields of c into options. Call Validate first.
func (c FileConfig) Options() []Option {
	var opts []Option
	if c.Engine != "" {
		e, _ := ParseEngine(c.Engine)
		opts = append(opts, WithEngine(e))
	}
	if c.Host != "" {
		opts = append(opts, WithHost(c.Host))
	}
	if c.BasePort != 0 {
		opts = append(opts, WithBasePort(c.BasePort))
	}
	if c.Database != "" {
		opts = append(opts, WithDatabase(c.Database))
	}
	if c.MinimumUptime != 0 {
		opts = append(opts, WithMinimumUptime(c.MinimumUptime))
	}
	if c.StartTimeout != 0 {
		opts = append(opts, WithStartTimeout(c.StartTimeout))
	}
	if c.StopTimeout != 0 {
		opts = append(opts, WithStopTimeout(c.StopTimeout))
	}
	if c.Version != "" {
		opts = append(opts, WithVersion(c.Version))
	}
	if c.InstallDir != "" {
		opts = append(opts, WithInstallDir(c.InstallDir))
	}
	if c.DownloadURL != "" {
		opts = append(opts, WithDownloadURL(c.DownloadURL))
	}
	if c.ArchiveSHA256 != "" {
		opts = append(opts, WithArchiveSHA256(c.ArchiveSHA256))
	}
	if c.Distro != "" {
		opts = append(opts, WithDistro(c.Distro))
	}
	return opts
}

// LoadConfigFile reads a YAML FileConfig from path and returns the options
// it sets. Unlike the With* functions it reports invalid values as errors.
func LoadConfigFile(path string) ([]Option, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load sandbox config from %q: %w", path, err)
	}

	var cfg FileConfig
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("parse sandbox config from %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sandbox config %q: %w", path, err)
	}

	return cfg.Options(), nil
}
