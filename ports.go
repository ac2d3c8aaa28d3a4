package dbsandbox

import "github.com/giantswarm/dbsandbox/internal/netutil"

// PortRegistry tracks ports reserved by sandboxes. Allocate probes upward
// from a base port for a free port that is not reserved and reserves it;
// Release returns it to the pool and reports whether it was reserved.
type PortRegistry = netutil.PortRegistry

// NewPortRegistry returns an empty registry. Ports are checked on the host
// of the sandbox allocating them.
func NewPortRegistry() *PortRegistry {
	return netutil.NewPortRegistry(nil, nil)
}

// DefaultPortRegistry returns the process-wide registry used by sandboxes
// unless WithPortRegistry says otherwise.
func DefaultPortRegistry() *PortRegistry {
	return netutil.DefaultPortRegistry()
}
