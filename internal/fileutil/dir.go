package fileutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/giantswarm/dbsandbox/internal/sentinel"
)

// ErrUnsafePath is returned by ResetDir for paths it refuses to remove.
const ErrUnsafePath = sentinel.Error("refusing to remove unsafe path")

// EnsureDir creates path and its parents with mode 0755. It is a no-op when
// the directory exists.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// EnsureDirForFile creates the parent directory of filePath.
func EnsureDirForFile(filePath string) error {
	if err := EnsureDir(filepath.Dir(filePath)); err != nil {
		return fmt.Errorf("ensure dir for %s: %w", filePath, err)
	}
	return nil
}

// ResetDir removes path with all its contents and recreates it empty.
// Relative paths and filesystem roots are rejected.
func ResetDir(path string) error {
	if err := RemoveDir(path); err != nil {
		return err
	}
	return EnsureDir(path)
}

// RemoveDir removes path with all its contents. A missing path is not an
// error. Relative paths and filesystem roots are rejected.
func RemoveDir(path string) error {
	clean := filepath.Clean(path)
	if !filepath.IsAbs(clean) || clean == filepath.Dir(clean) {
		return fmt.Errorf("%w: %q", ErrUnsafePath, path)
	}
	if err := os.RemoveAll(clean); err != nil {
		return fmt.Errorf("remove %s: %w", clean, err)
	}
	return nil
}

// Exists reports whether path exists. Errors other than not-exist are
// returned.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", path, err)
}
