package core

import (
	"context"
	"path/filepath"
	"strconv"
)

// Installer makes a server binary available. Every method must be idempotent
// and safe to call when the installation is already complete.
type Installer interface {
	// IsPresent reports whether the binary is already installed.
	IsPresent(ctx context.Context) (bool, error)
	// Download fetches and installs the binary.
	Download(ctx context.Context) error
	// BinaryPath resolves the installed server binary.
	BinaryPath(ctx context.Context) (string, error)
	// WorkingDirRoot is the shared root from which per-instance data
	// directories are derived.
	WorkingDirRoot() string
}

// TopologyConfig describes one server process.
type TopologyConfig struct {
	BindAddress string
	Port        int
	DataDir     string
}

// Topology is a running (or runnable) server process.
type Topology interface {
	// Purge clears the data directory.
	Purge(ctx context.Context) error
	// Discover verifies and refreshes the runtime configuration.
	Discover(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// TopologyFactory constructs a Topology for the given server binary. It must
// not perform I/O; Sandbox calls Purge and Discover right after.
type TopologyFactory func(binaryPath string, cfg TopologyConfig) (Topology, error)

// Connector opens client connections from a connection string.
type Connector interface {
	Connect(ctx context.Context, connString string) (Client, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, connString string) (Client, error)

// Connect calls f.
//
//nolint:ireturn // Client is the collaborator contract.
func (f ConnectorFunc) Connect(ctx context.Context, connString string) (Client, error) {
	return f(ctx, connString)
}

// Client is one open connection to the server.
type Client interface {
	// Collections lists every collection of database.
	Collections(ctx context.Context, database string) ([]Collection, error)
	// InsertDocument stores doc in the named collection, creating the
	// collection if needed.
	InsertDocument(ctx context.Context, database, collection string, doc map[string]any) error
	Close(ctx context.Context) error
}

// Collection is a handle on one collection.
type Collection interface {
	Name() string
	CountDocuments(ctx context.Context) (int64, error)
	DeleteAll(ctx context.Context) error
}

// WorkingDir returns the data directory for a server bound to port. The port
// suffix keeps concurrently running sandboxes that share one install root
// from colliding.
func WorkingDir(root string, port int) string {
	return filepath.Clean(root) + "-server-" + strconv.Itoa(port)
}
