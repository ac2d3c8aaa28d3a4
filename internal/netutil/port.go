package netutil

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/giantswarm/dbsandbox/internal/sentinel"
)

// DefaultBasePort is the standard MongoDB port, where probing starts when the
// caller has no preference.
const DefaultBasePort = 27017

// MaxPort is the highest TCP port number.
const MaxPort = 65535

// ErrAllocation is wrapped by every Allocate failure.
const ErrAllocation = sentinel.Error("port allocation failed")

// Probe finds a free port on host at or above a starting port.
type Probe interface {
	FindFreePort(ctx context.Context, host string, from int) (int, error)
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context, host string, from int) (int, error)

// FindFreePort calls f.
func (f ProbeFunc) FindFreePort(ctx context.Context, host string, from int) (int, error) {
	return f(ctx, host, from)
}

// TCPProbe probes ports by binding a listener on the host and closing it
// again. An empty host binds all interfaces.
type TCPProbe struct{}

// FindFreePort returns the first port in [from, MaxPort] that accepts a
// listener on host. Ports that fail to bind (in use, privileged) are skipped.
func (TCPProbe) FindFreePort(ctx context.Context, host string, from int) (int, error) {
	if from < 1 {
		from = 1
	}
	var lc net.ListenConfig
	for port := from; port <= MaxPort; port++ {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("probe port %d: %w", port, err)
		}
		l, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			continue
		}
		_ = l.Close() // probe only; the port is bound again by the server
		return port, nil
	}
	return 0, fmt.Errorf("no free port in [%d, %d]", from, MaxPort)
}

// PortRegistry tracks ports handed out by this process. Reservations are
// per port number, whatever host they were checked on. The kernel cannot
// help here: a probe closes its listener immediately, so two concurrent
// probes can discover the same port. The registry makes the second caller
// skip past it.
//
// The registry does not stop other processes on the host from binding a
// reserved port.
type PortRegistry struct {
	mu    sync.Mutex
	ports map[int]struct{}
	probe Probe
	log   *slog.Logger
}

// NewPortRegistry creates an empty PortRegistry. A nil probe defaults to
// TCPProbe; a nil logger defaults to slog.Default().
func NewPortRegistry(probe Probe, logger *slog.Logger) *PortRegistry {
	if probe == nil {
		probe = TCPProbe{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PortRegistry{
		ports: make(map[int]struct{}),
		probe: probe,
		log:   logger,
	}
}

var defaultRegistry = sync.OnceValue(func() *PortRegistry {
	return NewPortRegistry(nil, nil)
})

// DefaultPortRegistry returns the process-wide registry shared by every
// sandbox that was not given its own.
func DefaultPortRegistry() *PortRegistry {
	return defaultRegistry()
}

// reserve registers port. It reports false if the port was already held.
func (r *PortRegistry) reserve(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ports[port]; ok {
		return false
	}
	r.ports[port] = struct{}{}
	return true
}

// IsReserved reports whether port is currently held.
func (r *PortRegistry) IsReserved(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ports[port]
	return ok
}

// Allocate probes host for the first free port at or above base and reserves
// it. host is the address the server will bind. A base of 0 or less means
// DefaultBasePort. When the probe lands on a port
// another caller already reserved, probing resumes one above it.
//
// The port is in the registry before Allocate returns, so the next concurrent
// caller already sees it. Probe failures are not retried; they are returned
// wrapped in ErrAllocation.
func (r *PortRegistry) Allocate(ctx context.Context, host string, base int) (int, error) {
	if base <= 0 {
		base = DefaultBasePort
	}

	from := base
	for from <= MaxPort {
		port, err := r.probe.FindFreePort(ctx, host, from)
		if err != nil {
			return 0, fmt.Errorf("%w: probe from %d: %w", ErrAllocation, from, err)
		}
		if r.reserve(port) {
			r.log.Debug("reserved port", "host", host, "port", port)
			return port, nil
		}
		r.log.Debug("reserved port collision, re-deriving", "port", port)
		from = max(from, port) + 1
	}
	return 0, fmt.Errorf("%w: exhausted ports from %d", ErrAllocation, base)
}

// Release removes port from the registry so it can be allocated again.
// It reports whether the port had been reserved; releasing twice is a
// no-op that returns false.
func (r *PortRegistry) Release(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ports[port]; !ok {
		return false
	}
	delete(r.ports, port)
	r.log.Debug("released port", "port", port)
	return true
}
