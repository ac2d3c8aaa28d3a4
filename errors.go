package dbsandbox

import (
	"github.com/giantswarm/dbsandbox/internal/core"
	"github.com/giantswarm/dbsandbox/internal/installer"
	"github.com/giantswarm/dbsandbox/internal/netutil"
)

// Sentinel errors for inspection with errors.Is. They are constants, so
// they cannot be reassigned.
const (
	// ErrNotRunning is returned by Options, Client, NewClient, HasDocuments
	// and PurgeDocuments while the sandbox is not running.
	ErrNotRunning = core.ErrNotRunning

	// ErrUnsafeState is returned by Lifecycle.BeforeAll when the freshly
	// started store already holds documents.
	ErrUnsafeState = core.ErrUnsafeState

	// ErrAllocation is returned by Start when no free port could be found.
	ErrAllocation = netutil.ErrAllocation

	// ErrNotInstalled is returned when the server binary is missing after
	// the install step.
	ErrNotInstalled = installer.ErrNotInstalled

	// ErrUnsupportedVersion is returned for version selectors that do not
	// parse or are too old.
	ErrUnsupportedVersion = installer.ErrUnsupportedVersion

	// ErrBinaryNotInArchive is returned by Install when the downloaded
	// archive contains no server binary.
	ErrBinaryNotInArchive = installer.ErrBinaryNotInArchive

	// ErrChecksumMismatch is returned by Install when the archive does not
	// match the digest set with WithArchiveSHA256.
	ErrChecksumMismatch = installer.ErrChecksumMismatch

	// ErrUnsupportedPlatform is returned by Install when no default archive
	// exists for the host. WithDistro or WithDownloadURL avoids it.
	ErrUnsupportedPlatform = installer.ErrUnsupportedPlatform
)
