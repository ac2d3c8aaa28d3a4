package dbsandbox

import (
	"context"

	"github.com/giantswarm/dbsandbox/internal/core"
)

// ConnOptions describes how to reach a running sandbox.
type ConnOptions = core.ConnOptions

// Client is a connection owned by a sandbox. Callers must not close it; the
// sandbox closes every client on Stop.
type Client = core.Client

// Collection is a handle on one collection.
type Collection = core.Collection

// DeadlineExtender is implemented by test drivers that can widen the timeout
// of the running phase. BeforeAll asks for DownloadAllowance.
type DeadlineExtender = core.DeadlineExtender

// State is the lifecycle state of a sandbox.
type State = core.RunState

// Sandbox states.
const (
	StateIdle     = core.StateIdle
	StateStarting = core.StateStarting
	StateRunning  = core.StateRunning
	StateStopping = core.StateStopping
)

// DownloadAllowance is the deadline extension BeforeAll requests.
const DownloadAllowance = core.DefaultDownloadAllowance

// Sandbox owns one disposable database server.
//
// Start and Stop are coalescing: concurrent calls share one transition and
// observe the same error. A caller's context bounds only its own wait; the
// transition itself is bounded by the start or stop timeout.
type Sandbox interface {
	// ID returns the identifier used in log lines.
	ID() string

	// Install downloads the server binary unless it is already present.
	Install(ctx context.Context) error

	// Start installs if needed, reserves a port and starts the server. It
	// is a no-op when running. On failure the sandbox is idle again and
	// the port is released.
	Start(ctx context.Context) error

	// Stop closes all clients, stops the server, removes its data
	// directory and releases the port. It is a no-op when idle. Every
	// cleanup step runs even if an earlier one fails; the first error is
	// returned.
	Stop(ctx context.Context) error

	// State returns the current lifecycle state.
	State() State

	// IsRunning reports whether State is StateRunning.
	IsRunning() bool

	// Options returns host, port, database and connection URL.
	// Returns ErrNotRunning unless running.
	Options() (ConnOptions, error)

	// Client returns the shared client, opening it on first use.
	Client(ctx context.Context) (Client, error)

	// NewClient opens and registers an additional client.
	NewClient(ctx context.Context) (Client, error)

	// HasDocuments reports whether any collection of the configured
	// database holds a document.
	HasDocuments(ctx context.Context) (bool, error)

	// PurgeDocuments deletes every document of the configured database.
	// It performs no safety check; Lifecycle does.
	PurgeDocuments(ctx context.Context) error

	// Lifecycle returns a new Lifecycle driving this sandbox. ext is used
	// by BeforeAll when it receives no extender; it may be nil.
	Lifecycle(ext DeadlineExtender) Lifecycle
}

// Lifecycle maps test-run checkpoints onto a Sandbox.
type Lifecycle interface {
	// BeforeAll starts the sandbox and verifies it holds no documents.
	// Returns ErrUnsafeState if it does; the lifecycle then stays unsafe
	// and AfterEach never purges.
	BeforeAll(ctx context.Context, ext DeadlineExtender) error

	// BeforeEach does nothing.
	BeforeEach(ctx context.Context) error

	// AfterEach purges every document once BeforeAll marked the lifecycle
	// safe.
	AfterEach(ctx context.Context) error

	// AfterAll waits until the minimum uptime has passed since BeforeAll,
	// then stops the sandbox.
	AfterAll(ctx context.Context) error

	// IsSafe reports whether BeforeAll verified an empty store.
	IsSafe() bool
}
