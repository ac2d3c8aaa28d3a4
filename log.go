package dbsandbox

import (
	"log/slog"

	"github.com/giantswarm/dbsandbox/internal/core"
)

// SetLogger replaces the package-level logger. The logger should already
// carry any attributes the application wants; dbsandbox adds only the
// sandbox id and phase.
//
// If l is nil, the logger resets to slog.Default() with a "component"
// attribute. Call SetLogger(nil) after slog.SetDefault to pick up the new
// default.
//
// SetLogger is safe to call concurrently, but sandboxes created earlier keep
// the logger they were created with. Call it before NewSandbox, e.g. at the
// start of TestMain.
func SetLogger(l *slog.Logger) {
	core.SetLogger(l)
}
