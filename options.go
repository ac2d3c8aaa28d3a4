package dbsandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/giantswarm/dbsandbox/internal/installer"
	"github.com/giantswarm/dbsandbox/internal/netutil"
)

// Engine selects the server implementation.
type Engine string

const (
	// EngineMongod downloads and runs a real mongod.
	EngineMongod Engine = "mongod"

	// EngineLite runs an embedded SQLite-backed store in process.
	EngineLite Engine = "litestore"
)

// ParseEngine returns the Engine named s.
func ParseEngine(s string) (Engine, error) {
	switch e := Engine(strings.ToLower(s)); e {
	case EngineMongod, EngineLite:
		return e, nil
	default:
		return "", fmt.Errorf("unknown engine %q (want %q or %q)", s, EngineMongod, EngineLite)
	}
}

// requirePositive panics if v <= 0 with a descriptive message.
func requirePositive[T int | time.Duration](name string, v T) {
	if v <= 0 {
		panic(fmt.Sprintf("dbsandbox: %s must be greater than 0, got %v", name, v))
	}
}

// requireNonEmpty panics if s is empty with a descriptive message.
func requireNonEmpty(name, s string) {
	if s == "" {
		panic(fmt.Sprintf("dbsandbox: %s must not be empty", name))
	}
}

// Option configures a Sandbox during construction via NewSandbox.
//
// Several With* functions panic on invalid input. Option values are
// normally constants, so an invalid value is a programmer error, and
// failing at initialization mirrors regexp.MustCompile. Use LoadConfigFile
// for values read at runtime; it returns errors instead.
type Option func(*sandboxConfig)

// WithHost sets the bind address of the server and the host of the
// connection URL.
//
// Default: 127.0.0.1.
//
// Panics if host is empty.
func WithHost(host string) Option {
	requireNonEmpty("host", host)
	return func(c *sandboxConfig) {
		c.Host = host
	}
}

// WithBasePort sets the port where probing for a free port starts. Ports
// that cannot be bound, including privileged ones, are skipped.
//
// Default: 27017.
//
// Panics if port is outside [1, 65535].
func WithBasePort(port int) Option {
	requirePositive("base port", port)
	if port > netutil.MaxPort {
		panic(fmt.Sprintf("dbsandbox: base port must be at most %d, got %d", netutil.MaxPort, port))
	}
	return func(c *sandboxConfig) {
		c.BasePort = port
	}
}

// WithDatabase sets the database that HasDocuments and PurgeDocuments
// operate on and that the connection URL names.
//
// Default: "dbsandbox".
//
// Panics if name is empty.
func WithDatabase(name string) Option {
	requireNonEmpty("database", name)
	return func(c *sandboxConfig) {
		c.Database = name
	}
}

// WithMinimumUptime sets how long Lifecycle.AfterAll keeps the server up
// after BeforeAll succeeded. Zero disables the wait.
//
// Panics if d < 0.
func WithMinimumUptime(d time.Duration) Option {
	if d < 0 {
		panic(fmt.Sprintf("dbsandbox: minimum uptime must not be negative, got %v", d))
	}
	return func(c *sandboxConfig) {
		c.MinimumUptime = d
	}
}

// WithStartTimeout bounds one start transition, download included.
//
// Default: 5 minutes.
//
// Panics if d <= 0.
func WithStartTimeout(d time.Duration) Option {
	requirePositive("start timeout", d)
	return func(c *sandboxConfig) {
		c.StartTimeout = d
	}
}

// WithStopTimeout bounds one stop transition.
//
// Default: 30 seconds.
//
// Panics if d <= 0.
func WithStopTimeout(d time.Duration) Option {
	requirePositive("stop timeout", d)
	return func(c *sandboxConfig) {
		c.StopTimeout = d
	}
}

// WithVersion selects the MongoDB release, e.g. "7.0.14". "latest" selects
// the newest release known to this package.
//
// Panics if version does not parse or is older than 4.4.
func WithVersion(version string) Option {
	requireNonEmpty("version", version)
	if err := installer.ValidateVersion(version); err != nil {
		panic(fmt.Sprintf("dbsandbox: %v", err))
	}
	return func(c *sandboxConfig) {
		c.Installer.Version = version
	}
}

// WithInstallDir sets where the server is unpacked. Per-instance data
// directories are created next to it as <dir>-server-<port>.
//
// Default: <os.TempDir()>/dbsandbox/mongodb-<version>.
//
// Panics if dir is empty.
func WithInstallDir(dir string) Option {
	requireNonEmpty("install directory", dir)
	return func(c *sandboxConfig) {
		c.Installer.InstallDir = dir
	}
}

// WithDownloadURL sets the archive source: an http(s) or file URL, or a
// local path. {version}, {dir}, {os}, {arch}, {distro} and {platform} are
// substituted; see WithDistro.
//
// Panics if url is empty.
func WithDownloadURL(url string) Option {
	requireNonEmpty("download URL", url)
	return func(c *sandboxConfig) {
		c.Installer.DownloadURL = url
	}
}

// WithArchiveSHA256 makes Install verify the downloaded archive against
// the given hex SHA-256 digest before unpacking it.
//
// Panics if sum is not 64 hex characters.
func WithArchiveSHA256(sum string) Option {
	if err := validateSHA256(sum); err != nil {
		panic(fmt.Sprintf("dbsandbox: %v", err))
	}
	return func(c *sandboxConfig) {
		c.Installer.SHA256 = sum
	}
}

// WithDistro sets the Linux distribution tag used in the default archive
// name, e.g. "ubuntu2204" or "rhel90". Without it the tag is detected
// from /etc/os-release and Install fails with ErrUnsupportedPlatform when
// the distribution has no published build.
//
// Panics if distro is empty.
func WithDistro(distro string) Option {
	requireNonEmpty("distro", distro)
	return func(c *sandboxConfig) {
		c.Installer.Distro = distro
	}
}

func validateSHA256(sum string) error {
	if len(sum) != hex.EncodedLen(sha256.Size) {
		return fmt.Errorf("archive SHA-256 must be %d hex characters, got %d", hex.EncodedLen(sha256.Size), len(sum))
	}
	if _, err := hex.DecodeString(sum); err != nil {
		return fmt.Errorf("archive SHA-256 is not hex: %w", err)
	}
	return nil
}

// WithEngine selects the server implementation.
//
// Default: EngineMongod.
//
// Panics on an unknown engine.
func WithEngine(e Engine) Option {
	if _, err := ParseEngine(string(e)); err != nil {
		panic(fmt.Sprintf("dbsandbox: %v", err))
	}
	return func(c *sandboxConfig) {
		c.Engine = e
	}
}

// WithPortRegistry sets the registry ports are reserved in. Sandboxes that
// share a registry never receive the same port.
//
// Default: the process-wide registry.
//
// Panics if r is nil.
func WithPortRegistry(r *PortRegistry) Option {
	if r == nil {
		panic("dbsandbox: port registry must not be nil")
	}
	return func(c *sandboxConfig) {
		c.Ports = r
	}
}
