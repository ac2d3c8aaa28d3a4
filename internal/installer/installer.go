package installer

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gofrs/flock"

	"github.com/giantswarm/dbsandbox/internal/fileutil"
	"github.com/giantswarm/dbsandbox/internal/sentinel"
)

const (
	// ErrNotInstalled is returned by BinaryPath before a successful Download.
	ErrNotInstalled = sentinel.Error("server binary is not installed")

	// ErrUnsupportedVersion is returned by New for versions that do not
	// parse or predate MinVersion.
	ErrUnsupportedVersion = sentinel.Error("unsupported server version")

	// ErrBinaryNotInArchive is returned when the downloaded archive has no
	// bin/mongod entry.
	ErrBinaryNotInArchive = sentinel.Error("archive does not contain bin/mongod")

	// ErrChecksumMismatch is returned by Download when the archive digest
	// differs from Config.SHA256.
	ErrChecksumMismatch = sentinel.Error("archive checksum mismatch")

	// ErrUnsupportedPlatform is returned when no default archive exists for
	// the host platform. Setting Config.Distro or Config.DownloadURL avoids
	// it.
	ErrUnsupportedPlatform = sentinel.Error("no server archive for this platform")
)

// DefaultVersion is downloaded when no version, or "latest", is configured.
const DefaultVersion = "7.0.14"

// MinVersion is the oldest release whose command-line flags the mongod
// topology relies on.
const MinVersion = "4.4.0"

// DefaultDownloadURL is the archive URL template. Substituted placeholders:
// {version}, {dir} (linux, osx), {os} (linux, macos), {arch}, {distro}
// (e.g. ubuntu2204) and {platform} (e.g. linux-x86_64-ubuntu2204).
const DefaultDownloadURL = "https://fastdl.mongodb.org/{dir}/mongodb-{platform}-{version}.tgz"

// BinaryName is the server executable unpacked from the archive.
const BinaryName = "mongod"

// lockRetryInterval is the delay between attempts to take the install lock.
const lockRetryInterval = 50 * time.Millisecond

// Config configures an Installer. The zero value is usable.
type Config struct {
	// Version selects the release. Empty or "latest" means DefaultVersion.
	Version string
	// InstallDir is the unpack target. Default:
	// <os.TempDir()>/dbsandbox/mongodb-<version|latest>.
	InstallDir string
	// DownloadURL is an archive URL template, or a local archive path.
	// Default: DefaultDownloadURL.
	DownloadURL string
	// SHA256 is the expected hex digest of the archive. Empty skips the
	// check.
	SHA256 string
	// Distro is the Linux distribution tag substituted for {distro}, e.g.
	// "ubuntu2204". Default: detected from /etc/os-release.
	Distro string
	// HTTPClient is used for downloads. Default: http.DefaultClient.
	HTTPClient *http.Client
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Installer installs one server release. It is safe for concurrent use.
type Installer struct {
	version     string
	installDir  string
	downloadURL string
	sha256      string
	distro      string
	client      *http.Client
	log         *slog.Logger

	// Host platform inputs, replaced in tests.
	goos, goarch string
	osRelease    string
}

// New validates cfg and returns an Installer. It performs no I/O.
func New(cfg Config) (*Installer, error) {
	label := cfg.Version
	if label == "" {
		label = "latest"
	}
	v, err := resolveVersion(cfg.Version)
	if err != nil {
		return nil, err
	}

	installDir := cfg.InstallDir
	if installDir == "" {
		installDir = DefaultInstallDir(label)
	}
	installDir, err = filepath.Abs(installDir)
	if err != nil {
		return nil, fmt.Errorf("resolve install dir: %w", err)
	}

	downloadURL := cfg.DownloadURL
	if downloadURL == "" {
		downloadURL = DefaultDownloadURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Installer{
		version:     v.Original(),
		installDir:  installDir,
		downloadURL: downloadURL,
		sha256:      strings.ToLower(cfg.SHA256),
		distro:      cfg.Distro,
		client:      client,
		log:         logger.With("version", v.Original()),
		goos:        runtime.GOOS,
		goarch:      runtime.GOARCH,
		osRelease:   osReleasePath,
	}, nil
}

// ValidateVersion checks a version selector without creating an Installer.
func ValidateVersion(version string) error {
	_, err := resolveVersion(version)
	return err
}

// resolveVersion maps "" and "latest" to DefaultVersion and rejects versions
// that do not parse or predate MinVersion.
func resolveVersion(version string) (*semver.Version, error) {
	resolved := version
	if resolved == "" || resolved == "latest" {
		resolved = DefaultVersion
	}
	v, err := semver.NewVersion(resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrUnsupportedVersion, version, err)
	}
	if v.LessThan(semver.MustParse(MinVersion)) {
		return nil, fmt.Errorf("%w: %s is older than %s", ErrUnsupportedVersion, v, MinVersion)
	}
	return v, nil
}

// DefaultInstallDir returns the install directory used for a version label.
func DefaultInstallDir(label string) string {
	return filepath.Join(os.TempDir(), "dbsandbox", "mongodb-"+label)
}

// Version returns the resolved release version.
func (i *Installer) Version() string {
	return i.version
}

// InstallDir returns the absolute install directory.
func (i *Installer) InstallDir() string {
	return i.installDir
}

// WorkingDirRoot returns the root from which per-port data directories are
// derived. It is the install directory itself.
func (i *Installer) WorkingDirRoot() string {
	return i.installDir
}

func (i *Installer) binaryPath() string {
	return filepath.Join(i.installDir, "bin", BinaryName)
}

// IsPresent reports whether the server binary is installed.
func (i *Installer) IsPresent(_ context.Context) (bool, error) {
	info, err := os.Stat(i.binaryPath())
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", i.binaryPath(), err)
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0, nil
}

// BinaryPath returns the installed server binary, or ErrNotInstalled.
func (i *Installer) BinaryPath(ctx context.Context) (string, error) {
	present, err := i.IsPresent(ctx)
	if err != nil {
		return "", err
	}
	if !present {
		return "", fmt.Errorf("%w: %s", ErrNotInstalled, i.binaryPath())
	}
	return i.binaryPath(), nil
}

// Download fetches the release archive and unpacks the server binary. It
// holds an exclusive file lock for the duration and returns early when
// another holder of the lock completed the install meanwhile.
func (i *Installer) Download(ctx context.Context) error {
	lockPath := i.installDir + ".lock"
	if err := fileutil.EnsureDirForFile(lockPath); err != nil {
		return err
	}
	fl, err := acquireFileLock(ctx, lockPath)
	if err != nil {
		return err
	}
	defer releaseFileLock(i.log, fl)

	if present, err := i.IsPresent(ctx); err != nil || present {
		return err
	}

	src, err := i.ArchiveURL()
	if err != nil {
		return err
	}
	start := time.Now()
	i.log.Info("downloading server archive", "source", src)

	body, err := i.open(ctx, src)
	if err != nil {
		return err
	}
	defer body.Close()

	var archive io.Reader = body
	if i.sha256 != "" {
		spooled, cleanup, err := i.spoolVerified(body)
		if err != nil {
			return fmt.Errorf("verify %s: %w", src, err)
		}
		defer cleanup()
		archive = spooled
	}

	if err := extractBinary(archive, i.binaryPath()); err != nil {
		return fmt.Errorf("unpack %s: %w", src, err)
	}
	i.log.Info("server installed", "path", i.binaryPath(), "elapsed", time.Since(start))
	return nil
}

// ArchiveURL returns the download source with placeholders substituted. It
// fails with ErrUnsupportedPlatform when the template names the platform
// and the host has no published build.
func (i *Installer) ArchiveURL() (string, error) {
	if !strings.Contains(i.downloadURL, "{") {
		return i.downloadURL, nil
	}
	needs := needsDistro(i.downloadURL)
	distro := i.distro
	if distro == "" && needs && i.goos == "linux" {
		detected, err := detectDistroFile(i.goarch, i.osRelease)
		if err != nil {
			return "", err
		}
		distro = detected
	}
	p, err := ResolvePlatform(i.goos, i.goarch, distro)
	if err != nil {
		return "", err
	}
	if needs && p.OS == "linux" && p.Distro == "" {
		return "", fmt.Errorf("%w: %s/%s needs a distribution; set one explicitly or configure a download URL",
			ErrUnsupportedPlatform, i.goos, i.goarch)
	}
	return strings.NewReplacer(
		"{version}", i.version,
		"{dir}", p.Dir,
		"{os}", p.OS,
		"{arch}", p.Arch,
		"{distro}", p.Distro,
		"{platform}", p.Name(),
	).Replace(i.downloadURL), nil
}

// needsDistro reports whether tmpl names the Linux distribution.
func needsDistro(tmpl string) bool {
	return strings.Contains(tmpl, "{distro}") || strings.Contains(tmpl, "{platform}")
}

// open returns a reader over the archive at src, which is an http(s) URL, a
// file URL or a local path.
func (i *Installer) open(ctx context.Context, src string) (io.ReadCloser, error) {
	u, err := url.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse download url: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := i.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", src, err)
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("download %s: unexpected status %s", src, resp.Status)
		}
		return resp.Body, nil
	case "file", "":
		p := u.Path
		if u.Scheme == "" {
			p = src
		}
		f, err := os.Open(p) //nolint:gosec // G304: configured archive path
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("download %s: unsupported scheme %q", src, u.Scheme)
	}
}

// spoolVerified copies r into a temporary file next to the install dir while
// hashing it, and returns the file rewound once the digest matches.
func (i *Installer) spoolVerified(r io.Reader) (io.Reader, func(), error) {
	if err := fileutil.EnsureDirForFile(i.installDir); err != nil {
		return nil, nil, err
	}
	f, err := os.CreateTemp(filepath.Dir(i.installDir), ".archive-*")
	if err != nil {
		return nil, nil, fmt.Errorf("create spool file: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, h), r); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("read archive: %w", err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != i.sha256 {
		cleanup()
		return nil, nil, fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, got, i.sha256)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("rewind spool file: %w", err)
	}
	return f, cleanup, nil
}

// extractBinary scans a gzipped tarball for <anything>/bin/mongod and writes
// it atomically to dst.
func extractBinary(r io.Reader, dst string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return ErrBinaryNotInArchive
		}
		if err != nil {
			return fmt.Errorf("tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := path.Clean(hdr.Name)
		if path.Base(name) != BinaryName || path.Base(path.Dir(name)) != "bin" {
			continue
		}
		return fileutil.WriteAtomic(dst, tr, 0o755)
	}
}

// acquireFileLock takes an exclusive lock on lockPath, retrying until ctx is
// done.
func acquireFileLock(ctx context.Context, lockPath string) (*flock.Flock, error) {
	fl := flock.New(lockPath)

	locked, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("acquiring file lock %s: %w", lockPath, err)
	}
	if !locked {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("acquiring file lock %s: %w", lockPath, ctx.Err())
		}
		return nil, fmt.Errorf("acquiring file lock %s: lock not acquired", lockPath)
	}
	return fl, nil
}

// releaseFileLock unlocks and closes fl. The lock file stays on disk so that
// a concurrent holder's lock is never invalidated.
func releaseFileLock(logger *slog.Logger, fl *flock.Flock) {
	if err := fl.Close(); err != nil {
		logger.Debug("failed to release file lock", "path", fl.Path(), "err", err)
	}
}
