package dbsandbox

import (
	"time"

	"github.com/giantswarm/dbsandbox/internal/core"
	"github.com/giantswarm/dbsandbox/internal/netutil"
)

// Default configuration values for NewSandbox. They are exported so callers
// can derive custom values from them (e.g. 2 * DefaultStartTimeout).
const (
	// DefaultHost is the bind address of the server.
	DefaultHost = core.DefaultHost

	// DefaultBasePort is where port probing starts.
	DefaultBasePort = netutil.DefaultBasePort

	// DefaultDatabase is the database the data-plane helpers operate on.
	DefaultDatabase = core.DefaultDatabase

	// DefaultMinimumUptime is how long AfterAll keeps the server running
	// after BeforeAll succeeded.
	DefaultMinimumUptime = time.Duration(0)

	// DefaultStartTimeout bounds one start transition. It covers a
	// first-time download of the server archive.
	DefaultStartTimeout = 5 * time.Minute

	// DefaultStopTimeout bounds one stop transition.
	DefaultStopTimeout = 30 * time.Second

	// DefaultEngine is the server implementation.
	DefaultEngine = EngineMongod
)
