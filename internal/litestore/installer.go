package litestore

import (
	"context"
	"os"
	"path/filepath"

	"github.com/giantswarm/dbsandbox/internal/core"
)

var _ core.Installer = Installer{}

// Installer satisfies core.Installer for the embedded engine, which has
// nothing to download.
type Installer struct {
	// Root is the working directory root. Default:
	// <os.TempDir()>/dbsandbox/litestore.
	Root string
}

// IsPresent always reports true.
func (Installer) IsPresent(_ context.Context) (bool, error) {
	return true, nil
}

// Download is a no-op.
func (Installer) Download(_ context.Context) error {
	return nil
}

// BinaryPath returns a placeholder; the embedded engine runs in process.
func (Installer) BinaryPath(_ context.Context) (string, error) {
	return "litestore", nil
}

// WorkingDirRoot returns Root or its default.
func (i Installer) WorkingDirRoot() string {
	if i.Root != "" {
		return i.Root
	}
	return filepath.Join(os.TempDir(), "dbsandbox", "litestore")
}
