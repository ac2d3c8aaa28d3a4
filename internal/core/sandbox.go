package core

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/giantswarm/dbsandbox/internal/coalesce"
	"github.com/giantswarm/dbsandbox/internal/netutil"
	"github.com/giantswarm/dbsandbox/internal/sentinel"
	"golang.org/x/sync/errgroup"
)

// ErrNotRunning is returned by every data-plane and connection-option call
// made while the sandbox is not in StateRunning.
const ErrNotRunning = sentinel.Error("sandbox is not running")

// ConnOptions describes how to reach a running sandbox.
type ConnOptions struct {
	Host     string
	Port     int
	Database string
	// URL is the connection string, e.g. mongodb://127.0.0.1:27017/dbsandbox.
	URL string
}

// Sandbox owns one disposable database server. It is safe for concurrent use.
//
// Synchronization strategy:
//   - mu guards state, port, topology, clients and the two in-flight flights.
//     It is held only for bookkeeping, never across collaborator I/O.
//   - starting/stopping are non-nil exactly while that transition runs.
//     Concurrent callers wait on the same coalesce.Flight and observe the
//     same outcome. A caller arriving after the flight finished starts a
//     fresh transition.
//   - connMu serializes the lazy open in Client so that concurrent first
//     calls share one connection.
type Sandbox struct {
	cfg Config
	id  string

	installer   Installer
	newTopology TopologyFactory
	connector   Connector
	ports       *netutil.PortRegistry

	log *slog.Logger

	mu       sync.Mutex
	state    RunState
	port     int
	topology Topology
	clients  []Client
	starting *coalesce.Flight
	stopping *coalesce.Flight

	connMu sync.Mutex
}

// NewSandboxParams holds the parameters for NewSandbox. All fields are
// required.
type NewSandboxParams struct {
	ID        string
	Config    Config
	Installer Installer
	Topology  TopologyFactory
	Connector Connector
	Ports     *netutil.PortRegistry
}

// NewSandbox creates an idle Sandbox. It performs no I/O.
//
// Panics if any param is missing or Config fails validation. These are
// programmer errors that should be caught at initialization time.
func NewSandbox(params NewSandboxParams) *Sandbox {
	if params.ID == "" {
		panic("dbsandbox: sandbox id must not be empty")
	}
	if params.Installer == nil {
		panic("dbsandbox: sandbox installer must not be nil")
	}
	if params.Topology == nil {
		panic("dbsandbox: sandbox topology factory must not be nil")
	}
	if params.Connector == nil {
		panic("dbsandbox: sandbox connector must not be nil")
	}
	if params.Ports == nil {
		panic("dbsandbox: sandbox port registry must not be nil")
	}
	if err := params.Config.Validate(); err != nil {
		panic(fmt.Sprintf("dbsandbox: invalid sandbox config: %v", err))
	}
	return &Sandbox{
		cfg:         params.Config,
		id:          params.ID,
		installer:   params.Installer,
		newTopology: params.Topology,
		connector:   params.Connector,
		ports:       params.Ports,
		log:         Logger().With("id", params.ID),
	}
}

// ID returns the sandbox identifier used in log lines.
func (s *Sandbox) ID() string {
	return s.id
}

// Config returns the sandbox configuration.
func (s *Sandbox) Config() Config {
	return s.cfg
}

// MinimumUptime returns the configured minimum uptime.
func (s *Sandbox) MinimumUptime() time.Duration {
	return s.cfg.MinimumUptime
}

// State returns the current lifecycle state.
func (s *Sandbox) State() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether the sandbox is in StateRunning.
func (s *Sandbox) IsRunning() bool {
	return s.State() == StateRunning
}

// Port returns the reserved port, or 0 while idle.
func (s *Sandbox) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Options returns the connection options of the running sandbox.
// Returns ErrNotRunning otherwise.
func (s *Sandbox) Options() (ConnOptions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return ConnOptions{}, ErrNotRunning
	}
	return s.connOptionsLocked(), nil
}

func (s *Sandbox) connOptionsLocked() ConnOptions {
	host := s.cfg.host()
	db := s.cfg.database()
	u := url.URL{
		Scheme: "mongodb",
		Host:   net.JoinHostPort(host, strconv.Itoa(s.port)),
		Path:   "/" + db,
	}
	return ConnOptions{Host: host, Port: s.port, Database: db, URL: u.String()}
}

// Install ensures the server binary is installed, downloading it only when
// absent. Safe to call any number of times.
func (s *Sandbox) Install(ctx context.Context) error {
	present, err := s.installer.IsPresent(ctx)
	if err != nil {
		return fmt.Errorf("check installation: %w", err)
	}
	if present {
		return nil
	}
	s.log.Info("downloading server binary")
	if err := s.installer.Download(ctx); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	return nil
}

// Start brings the sandbox to StateRunning. It is a no-op when already
// running. When a start is already in flight the call joins it and returns
// its outcome. When a stop is in flight the call waits for it first.
//
// ctx bounds only how long this caller waits. The transition itself is
// detached from ctx and bounded by Config.StartTimeout, so a caller giving
// up does not fail the start for the others.
func (s *Sandbox) Start(ctx context.Context) error {
	for {
		s.mu.Lock()
		if f := s.starting; f != nil {
			s.mu.Unlock()
			s.log.Debug("joining in-flight start")
			return f.Wait(ctx)
		}
		if f := s.stopping; f != nil {
			s.mu.Unlock()
			if err := waitDone(ctx, f); err != nil {
				return err
			}
			continue
		}
		if s.state == StateRunning {
			s.mu.Unlock()
			return nil
		}

		f := coalesce.New()
		s.starting = f
		s.state = StateStarting
		s.mu.Unlock()

		err := s.runStart(ctx)
		f.Finish(err)
		return err
	}
}

// runStart performs one start transition and publishes its result. The
// in-flight marker is cleared in the same critical section that sets the
// final state.
func (s *Sandbox) runStart(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StartTimeout)
	defer cancel()

	startTime := time.Now()
	topo, port, err := s.doStart(ctx)

	s.mu.Lock()
	s.starting = nil
	if err != nil {
		s.state = StateIdle
		s.port = 0
		s.mu.Unlock()
		if port != 0 {
			s.ports.Release(port)
		}
		s.log.Warn("sandbox start failed", "error", err)
		return err
	}
	s.state = StateRunning
	s.topology = topo
	opts := s.connOptionsLocked()
	s.mu.Unlock()

	s.log.Info("sandbox started", "url", opts.URL, "elapsed", time.Since(startTime))
	return nil
}

// doStart runs the start steps in order: install, then port allocation and
// binary resolution in parallel, then topology derivation and launch. On
// failure it returns the reserved port (if any) so the caller can release it.
func (s *Sandbox) doStart(ctx context.Context) (Topology, int, error) {
	if err := s.Install(ctx); err != nil {
		return nil, 0, err
	}

	var port int
	var binPath string
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.ports.Allocate(gCtx, s.cfg.host(), s.cfg.BasePort)
		if err != nil {
			return fmt.Errorf("allocate port: %w", err)
		}
		port = p
		return nil
	})
	g.Go(func() error {
		b, err := s.installer.BinaryPath(gCtx)
		if err != nil {
			return fmt.Errorf("resolve binary path: %w", err)
		}
		binPath = b
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, port, err
	}

	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
	s.log.Debug("derived port", "port", port)

	topo, err := s.deriveTopology(ctx, binPath, port)
	if err != nil {
		return nil, port, err
	}

	if err := topo.Start(ctx); err != nil {
		if stopErr := topo.Stop(ctx); stopErr != nil {
			s.log.Warn("cleanup topology after start failure", "error", stopErr)
		}
		return nil, port, fmt.Errorf("start topology: %w", err)
	}
	return topo, port, nil
}

// deriveTopology builds the topology for port, then purges stale data and
// discovers its runtime configuration.
//
//nolint:ireturn // Topology is the collaborator contract.
func (s *Sandbox) deriveTopology(ctx context.Context, binPath string, port int) (Topology, error) {
	cfg := TopologyConfig{
		BindAddress: s.cfg.host(),
		Port:        port,
		DataDir:     WorkingDir(s.installer.WorkingDirRoot(), port),
	}
	topo, err := s.newTopology(binPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("create topology: %w", err)
	}
	if err := topo.Purge(ctx); err != nil {
		return nil, fmt.Errorf("purge topology: %w", err)
	}
	if err := topo.Discover(ctx); err != nil {
		return nil, fmt.Errorf("discover topology: %w", err)
	}
	return topo, nil
}

// Stop brings the sandbox back to StateIdle. It is a no-op when idle. When a
// stop is already in flight the call joins it. When a start is in flight the
// call waits for it first.
//
// Cleanup is best-effort: every step runs even if an earlier one failed,
// the sandbox always ends idle, and the first error encountered is returned.
// ctx bounds only this caller's wait, as in Start.
func (s *Sandbox) Stop(ctx context.Context) error {
	for {
		s.mu.Lock()
		if f := s.stopping; f != nil {
			s.mu.Unlock()
			s.log.Debug("joining in-flight stop")
			return f.Wait(ctx)
		}
		if f := s.starting; f != nil {
			s.mu.Unlock()
			if err := waitDone(ctx, f); err != nil {
				return err
			}
			continue
		}
		if s.state == StateIdle {
			s.mu.Unlock()
			return nil
		}

		f := coalesce.New()
		s.stopping = f
		s.state = StateStopping
		clients := s.clients
		topo := s.topology
		port := s.port
		s.mu.Unlock()

		err := s.runStop(ctx, clients, topo, port)
		f.Finish(err)
		return err
	}
}

func (s *Sandbox) runStop(ctx context.Context, clients []Client, topo Topology, port int) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StopTimeout)
	defer cancel()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// All clients must be closed before the server goes away. A plain
	// Group (no derived context) lets every close run even after one fails.
	var g errgroup.Group
	for _, c := range clients {
		g.Go(func() error {
			return c.Close(ctx)
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Warn("close client during stop", "error", err)
		keep(fmt.Errorf("close clients: %w", err))
	}

	if topo != nil {
		if err := topo.Stop(ctx); err != nil {
			s.log.Warn("stop topology", "error", err)
			keep(fmt.Errorf("stop topology: %w", err))
		}
		if err := topo.Purge(ctx); err != nil {
			s.log.Warn("purge topology", "error", err)
			keep(fmt.Errorf("purge topology: %w", err))
		}
	}

	if port != 0 && !s.ports.Release(port) {
		s.log.Warn("reserved port was not in registry", "port", port)
	}

	s.mu.Lock()
	s.stopping = nil
	s.state = StateIdle
	s.port = 0
	s.topology = nil
	s.clients = nil
	s.mu.Unlock()

	if firstErr != nil {
		return firstErr
	}
	s.log.Info("sandbox stopped")
	return nil
}

// waitDone blocks until f finishes or ctx is done. The flight's own outcome
// is irrelevant to the caller, which re-evaluates state afterwards.
func waitDone(ctx context.Context, f *coalesce.Flight) error {
	select {
	case <-f.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Client returns the first connection opened on this run, opening one if
// none exists. The connection is owned by the sandbox and closed by Stop.
//
//nolint:ireturn // Client is the collaborator contract.
func (s *Sandbox) Client(ctx context.Context) (Client, error) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil, ErrNotRunning
	}
	if len(s.clients) > 0 {
		c := s.clients[0]
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	return s.NewClient(ctx)
}

// NewClient always opens and registers a new connection. The connection is
// owned by the sandbox and closed by Stop; callers must not close it.
//
//nolint:ireturn // Client is the collaborator contract.
func (s *Sandbox) NewClient(ctx context.Context) (Client, error) {
	opts, err := s.Options()
	if err != nil {
		return nil, err
	}

	c, err := s.connector.Connect(ctx, opts.URL)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", opts.URL, err)
	}

	s.mu.Lock()
	// A stop may have begun while we were connecting; it has already taken
	// its snapshot of clients, so this one would leak.
	if s.state != StateRunning || s.port != opts.Port {
		s.mu.Unlock()
		if closeErr := c.Close(ctx); closeErr != nil {
			s.log.Warn("close client opened during stop", "error", closeErr)
		}
		return nil, ErrNotRunning
	}
	s.clients = append(s.clients, c)
	s.mu.Unlock()
	return c, nil
}

// collections lists the configured database's collections via the shared
// client.
func (s *Sandbox) collections(ctx context.Context) ([]Collection, error) {
	if !s.IsRunning() {
		return nil, ErrNotRunning
	}
	c, err := s.Client(ctx)
	if err != nil {
		return nil, err
	}
	colls, err := c.Collections(ctx, s.cfg.database())
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return colls, nil
}

// HasDocuments reports whether any collection of the configured database
// holds at least one document. Returns ErrNotRunning unless running.
func (s *Sandbox) HasDocuments(ctx context.Context) (bool, error) {
	colls, err := s.collections(ctx)
	if err != nil {
		return false, err
	}

	counts := make([]int64, len(colls))
	g, gCtx := errgroup.WithContext(ctx)
	for i, coll := range colls {
		g.Go(func() error {
			n, err := coll.CountDocuments(gCtx)
			if err != nil {
				return fmt.Errorf("count %s: %w", coll.Name(), err)
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}

	for _, n := range counts {
		if n != 0 {
			return true, nil
		}
	}
	return false, nil
}

// PurgeDocuments deletes every document from every collection of the
// configured database. Returns ErrNotRunning unless running. It performs no
// safety check of its own; see Lifecycle.
func (s *Sandbox) PurgeDocuments(ctx context.Context) error {
	colls, err := s.collections(ctx)
	if err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)
	for _, coll := range colls {
		g.Go(func() error {
			if err := coll.DeleteAll(gCtx); err != nil {
				return fmt.Errorf("purge %s: %w", coll.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.log.Debug("purged documents", "collections", len(colls))
	return nil
}
