package core

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/giantswarm/dbsandbox/internal/netutil"
)

// fakeInstaller counts calls. When gate is non-nil, IsPresent blocks until it
// is closed, which holds a start transition open.
type fakeInstaller struct {
	present     atomic.Bool
	gate        chan struct{}
	entered     chan struct{}
	enteredOnce sync.Once

	isPresentCalls atomic.Int32
	downloadCalls  atomic.Int32
	binaryCalls    atomic.Int32

	downloadErr error
	binaryErr   error
	root        string
}

func (f *fakeInstaller) IsPresent(ctx context.Context) (bool, error) {
	f.isPresentCalls.Add(1)
	if f.entered != nil {
		f.enteredOnce.Do(func() { close(f.entered) })
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return f.present.Load(), nil
}

func (f *fakeInstaller) Download(_ context.Context) error {
	f.downloadCalls.Add(1)
	if f.downloadErr != nil {
		return f.downloadErr
	}
	f.present.Store(true)
	return nil
}

func (f *fakeInstaller) BinaryPath(_ context.Context) (string, error) {
	f.binaryCalls.Add(1)
	if f.binaryErr != nil {
		return "", f.binaryErr
	}
	return "/opt/fake/bin/mongod", nil
}

func (f *fakeInstaller) WorkingDirRoot() string {
	if f.root != "" {
		return f.root
	}
	return "/tmp/dbsandbox/mongodb-latest"
}

// fakeServer is an in-memory document store shared by fake topologies and
// clients: database -> collection -> document count.
type fakeServer struct {
	mu  sync.Mutex
	dbs map[string]map[string]int64
}

func newFakeServer() *fakeServer {
	return &fakeServer{dbs: make(map[string]map[string]int64)}
}

func (s *fakeServer) seed(db, coll string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dbs[db] == nil {
		s.dbs[db] = make(map[string]int64)
	}
	s.dbs[db][coll] += n
}

// fakeTopologies records every topology created.
type fakeTopologies struct {
	mu      sync.Mutex
	created []*fakeTopology

	startErr error
	stopErr  error
}

func (f *fakeTopologies) factory(binaryPath string, cfg TopologyConfig) (Topology, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTopology{binaryPath: binaryPath, cfg: cfg, startErr: f.startErr, stopErr: f.stopErr}
	f.created = append(f.created, t)
	return t, nil
}

func (f *fakeTopologies) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeTopologies) last() *fakeTopology {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

type fakeTopology struct {
	binaryPath string
	cfg        TopologyConfig
	startErr   error
	stopErr    error

	mu    sync.Mutex
	calls []string
}

func (t *fakeTopology) record(call string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, call)
}

func (t *fakeTopology) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

func (t *fakeTopology) Purge(_ context.Context) error    { t.record("purge"); return nil }
func (t *fakeTopology) Discover(_ context.Context) error { t.record("discover"); return nil }

func (t *fakeTopology) Start(_ context.Context) error {
	t.record("start")
	return t.startErr
}

func (t *fakeTopology) Stop(_ context.Context) error {
	t.record("stop")
	return t.stopErr
}

// fakeConnector hands out clients backed by server.
type fakeConnector struct {
	server   *fakeServer
	connects atomic.Int32
	lastURL  atomic.Pointer[string]
	closeErr error

	mu      sync.Mutex
	clients []*fakeClient
}

func (c *fakeConnector) Connect(_ context.Context, connString string) (Client, error) {
	if _, err := url.Parse(connString); err != nil {
		return nil, err
	}
	c.connects.Add(1)
	c.lastURL.Store(&connString)
	fc := &fakeClient{server: c.server, closeErr: c.closeErr}
	c.mu.Lock()
	c.clients = append(c.clients, fc)
	c.mu.Unlock()
	return fc, nil
}

func (c *fakeConnector) all() []*fakeClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeClient(nil), c.clients...)
}

type fakeClient struct {
	server   *fakeServer
	closeErr error
	closed   atomic.Int32
}

func (c *fakeClient) Collections(_ context.Context, database string) ([]Collection, error) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	var out []Collection
	for name := range c.server.dbs[database] {
		out = append(out, &fakeCollection{server: c.server, db: database, name: name})
	}
	return out, nil
}

func (c *fakeClient) InsertDocument(_ context.Context, database, collection string, _ map[string]any) error {
	c.server.seed(database, collection, 1)
	return nil
}

func (c *fakeClient) Close(_ context.Context) error {
	c.closed.Add(1)
	return c.closeErr
}

type fakeCollection struct {
	server *fakeServer
	db     string
	name   string
}

func (c *fakeCollection) Name() string { return c.name }

func (c *fakeCollection) CountDocuments(_ context.Context) (int64, error) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	return c.server.dbs[c.db][c.name], nil
}

func (c *fakeCollection) DeleteAll(_ context.Context) error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.server.dbs[c.db][c.name] = 0
	return nil
}

// sequenceProbe treats every port as free on the host.
func sequenceProbe() netutil.Probe {
	return netutil.ProbeFunc(func(_ context.Context, _ string, from int) (int, error) {
		return from, nil
	})
}

func validConfig() Config {
	return Config{
		BasePort:     5,
		StartTimeout: 5 * time.Second,
		StopTimeout:  5 * time.Second,
	}
}

// harness bundles a sandbox with its fakes.
type harness struct {
	sb         *Sandbox
	installer  *fakeInstaller
	topologies *fakeTopologies
	connector  *fakeConnector
	server     *fakeServer
	ports      *netutil.PortRegistry
}

func newHarness(t *testing.T, modify func(h *harness, cfg *Config)) *harness {
	t.Helper()
	h := &harness{
		installer:  &fakeInstaller{},
		topologies: &fakeTopologies{},
		server:     newFakeServer(),
		ports:      netutil.NewPortRegistry(sequenceProbe(), nil),
	}
	h.connector = &fakeConnector{server: h.server}
	cfg := validConfig()
	if modify != nil {
		modify(h, &cfg)
	}
	h.sb = NewSandbox(NewSandboxParams{
		ID:        "test-sandbox",
		Config:    cfg,
		Installer: h.installer,
		Topology:  h.topologies.factory,
		Connector: h.connector,
		Ports:     h.ports,
	})
	return h
}

func (h *harness) mustStart(t *testing.T) {
	t.Helper()
	if err := h.sb.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

// requirePanicContains calls fn and verifies it panics with a message
// containing wantSubstr.
func requirePanicContains(t *testing.T, fn func(), wantSubstr string) {
	t.Helper()

	var recovered string
	func() {
		defer func() {
			if r := recover(); r != nil {
				recovered = errorString(r)
			}
		}()
		fn()
	}()

	if recovered == "" {
		t.Fatal("expected panic, got none")
	}
	if !strings.Contains(recovered, wantSubstr) {
		t.Errorf("panic message %q does not contain %q", recovered, wantSubstr)
	}
}

func errorString(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(r)
}
