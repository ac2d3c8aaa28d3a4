package core

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/dbsandbox/internal/netutil"
)

//nolint:gochecknoglobals // package-level test sentinels
var (
	errDownload  = errors.New("download failure")
	errStartTopo = errors.New("topology start failure")
	errStopTopo  = errors.New("topology stop failure")
	errClose     = errors.New("client close failure")
)

// TestNewSandboxPanics verifies that NewSandbox rejects missing collaborators
// and invalid configuration.
func TestNewSandboxPanics(t *testing.T) {
	t.Parallel()

	valid := func() NewSandboxParams {
		h := &fakeTopologies{}
		return NewSandboxParams{
			ID:        "x",
			Config:    validConfig(),
			Installer: &fakeInstaller{},
			Topology:  h.factory,
			Connector: &fakeConnector{server: newFakeServer()},
			Ports:     netutil.NewPortRegistry(sequenceProbe(), nil),
		}
	}

	tests := map[string]struct {
		modify  func(p *NewSandboxParams)
		wantMsg string
	}{
		"empty id": {
			modify:  func(p *NewSandboxParams) { p.ID = "" },
			wantMsg: "sandbox id must not be empty",
		},
		"nil installer": {
			modify:  func(p *NewSandboxParams) { p.Installer = nil },
			wantMsg: "sandbox installer must not be nil",
		},
		"nil topology factory": {
			modify:  func(p *NewSandboxParams) { p.Topology = nil },
			wantMsg: "sandbox topology factory must not be nil",
		},
		"nil connector": {
			modify:  func(p *NewSandboxParams) { p.Connector = nil },
			wantMsg: "sandbox connector must not be nil",
		},
		"nil ports": {
			modify:  func(p *NewSandboxParams) { p.Ports = nil },
			wantMsg: "sandbox port registry must not be nil",
		},
		"invalid config": {
			modify:  func(p *NewSandboxParams) { p.Config.StartTimeout = 0 },
			wantMsg: "invalid sandbox config",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			p := valid()
			tc.modify(&p)
			requirePanicContains(t, func() { NewSandbox(p) }, tc.wantMsg)
		})
	}
}

func TestNewSandboxIsIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	if got := h.sb.State(); got != StateIdle {
		t.Errorf("State() = %s, want %s", got, StateIdle)
	}
	if h.sb.IsRunning() {
		t.Error("IsRunning() = true for a new sandbox")
	}
	if got := h.sb.Port(); got != 0 {
		t.Errorf("Port() = %d, want 0", got)
	}
	if h.installer.isPresentCalls.Load() != 0 {
		t.Error("NewSandbox performed I/O")
	}
}

// TestStartSequence verifies the order of collaborator calls for one start
// and the resulting running state.
func TestStartSequence(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(h *harness, _ *Config) {
		h.installer.root = "/tmp/inst"
	})
	h.mustStart(t)

	if got := h.sb.State(); got != StateRunning {
		t.Fatalf("State() = %s, want %s", got, StateRunning)
	}
	if got := h.sb.Port(); got != 5 {
		t.Errorf("Port() = %d, want 5", got)
	}
	if !h.ports.IsReserved(5) {
		t.Error("port 5 not reserved while running")
	}
	if got := h.installer.downloadCalls.Load(); got != 1 {
		t.Errorf("Download calls = %d, want 1", got)
	}

	topo := h.topologies.last()
	if topo == nil {
		t.Fatal("no topology created")
	}
	if want := []string{"purge", "discover", "start"}; !slices.Equal(topo.Calls(), want) {
		t.Errorf("topology calls = %v, want %v", topo.Calls(), want)
	}
	if topo.binaryPath != "/opt/fake/bin/mongod" {
		t.Errorf("binary path = %q", topo.binaryPath)
	}
	wantCfg := TopologyConfig{BindAddress: DefaultHost, Port: 5, DataDir: "/tmp/inst-server-5"}
	if topo.cfg != wantCfg {
		t.Errorf("topology config = %+v, want %+v", topo.cfg, wantCfg)
	}
}

func TestStartAllocatesOnConfiguredHost(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		host string
		want string
	}{
		"default":        {want: DefaultHost},
		"all interfaces": {host: "0.0.0.0", want: "0.0.0.0"},
		"ipv6 loopback":  {host: "::1", want: "::1"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var mu sync.Mutex
			var hosts []string
			h := newHarness(t, func(h *harness, cfg *Config) {
				cfg.Host = tc.host
				h.ports = netutil.NewPortRegistry(netutil.ProbeFunc(func(_ context.Context, host string, from int) (int, error) {
					mu.Lock()
					defer mu.Unlock()
					hosts = append(hosts, host)
					return from, nil
				}), nil)
			})
			h.mustStart(t)

			mu.Lock()
			defer mu.Unlock()
			if want := []string{tc.want}; !slices.Equal(hosts, want) {
				t.Errorf("ports checked on %v, want %v", hosts, want)
			}
		})
	}
}

func TestStartWhenRunningIsNoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.mustStart(t)
	h.mustStart(t)

	if got := h.topologies.count(); got != 1 {
		t.Errorf("topologies created = %d, want 1", got)
	}
	if got := h.installer.isPresentCalls.Load(); got != 1 {
		t.Errorf("IsPresent calls = %d, want 1", got)
	}
}

// TestInstallOnlyWhenAbsent verifies that Install skips the download when the
// binary is already present.
func TestInstallOnlyWhenAbsent(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		present       bool
		wantDownloads int32
	}{
		"absent":  {present: false, wantDownloads: 1},
		"present": {present: true, wantDownloads: 0},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, nil)
			h.installer.present.Store(tc.present)

			if err := h.sb.Install(context.Background()); err != nil {
				t.Fatalf("Install: %v", err)
			}
			if got := h.installer.downloadCalls.Load(); got != tc.wantDownloads {
				t.Errorf("Download calls = %d, want %d", got, tc.wantDownloads)
			}
		})
	}
}

// TestConcurrentStartCoalesces verifies that concurrent Start calls share a
// single transition.
func TestConcurrentStartCoalesces(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(h *harness, _ *Config) {
		h.installer.gate = make(chan struct{})
		h.installer.entered = make(chan struct{})
	})

	const callers = 10
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	wg.Go(func() { errs <- h.sb.Start(context.Background()) })

	<-h.installer.entered
	if got := h.sb.State(); got != StateStarting {
		t.Fatalf("State() = %s, want %s", got, StateStarting)
	}
	for range callers - 1 {
		wg.Go(func() { errs <- h.sb.Start(context.Background()) })
	}
	// Give the joiners time to reach the in-flight start.
	time.Sleep(50 * time.Millisecond)
	close(h.installer.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Start: %v", err)
		}
	}
	if got := h.installer.isPresentCalls.Load(); got != 1 {
		t.Errorf("IsPresent calls = %d, want 1", got)
	}
	if got := h.topologies.count(); got != 1 {
		t.Errorf("topologies created = %d, want 1", got)
	}
	if got := h.sb.State(); got != StateRunning {
		t.Errorf("State() = %s, want %s", got, StateRunning)
	}
}

// TestConcurrentStartSharesFailure verifies that every coalesced caller
// observes the same start error.
func TestConcurrentStartSharesFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(h *harness, _ *Config) {
		h.installer.gate = make(chan struct{})
		h.installer.entered = make(chan struct{})
		h.installer.downloadErr = errDownload
	})

	const callers = 5
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	wg.Go(func() { errs <- h.sb.Start(context.Background()) })
	<-h.installer.entered
	for range callers - 1 {
		wg.Go(func() { errs <- h.sb.Start(context.Background()) })
	}
	time.Sleep(50 * time.Millisecond)
	close(h.installer.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if !errors.Is(err, errDownload) {
			t.Errorf("Start error = %v, want %v", err, errDownload)
		}
	}
	if got := h.sb.State(); got != StateIdle {
		t.Errorf("State() = %s, want %s", got, StateIdle)
	}
	if got := h.topologies.count(); got != 0 {
		t.Errorf("topologies created = %d, want 0", got)
	}
}

// TestStartFailureReleasesPort verifies that a failed topology start leaves
// the sandbox idle with its port back in the registry.
func TestStartFailureReleasesPort(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(h *harness, _ *Config) {
		h.topologies.startErr = errStartTopo
	})

	err := h.sb.Start(context.Background())
	if !errors.Is(err, errStartTopo) {
		t.Fatalf("Start error = %v, want %v", err, errStartTopo)
	}
	if got := h.sb.State(); got != StateIdle {
		t.Errorf("State() = %s, want %s", got, StateIdle)
	}
	if got := h.sb.Port(); got != 0 {
		t.Errorf("Port() = %d, want 0", got)
	}
	if h.ports.IsReserved(5) {
		t.Error("port 5 still reserved after failed start")
	}
	if want := []string{"purge", "discover", "start", "stop"}; !slices.Equal(h.topologies.last().Calls(), want) {
		t.Errorf("topology calls = %v, want %v", h.topologies.last().Calls(), want)
	}

	// A later start is a fresh attempt.
	h.topologies.mu.Lock()
	h.topologies.startErr = nil
	h.topologies.mu.Unlock()
	h.mustStart(t)
	if got := h.topologies.count(); got != 2 {
		t.Errorf("topologies created = %d, want 2", got)
	}
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	if err := h.sb.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := h.sb.State(); got != StateIdle {
		t.Errorf("State() = %s, want %s", got, StateIdle)
	}
	if got := h.topologies.count(); got != 0 {
		t.Errorf("topologies created = %d, want 0", got)
	}
}

// TestStopSequence verifies that Stop closes clients, stops and purges the
// topology, and releases the port.
func TestStopSequence(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.mustStart(t)
	ctx := context.Background()

	for range 3 {
		if _, err := h.sb.NewClient(ctx); err != nil {
			t.Fatalf("NewClient: %v", err)
		}
	}
	if err := h.sb.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	for i, c := range h.connector.all() {
		if got := c.closed.Load(); got != 1 {
			t.Errorf("client %d closed %d times, want 1", i, got)
		}
	}
	want := []string{"purge", "discover", "start", "stop", "purge"}
	if got := h.topologies.last().Calls(); !slices.Equal(got, want) {
		t.Errorf("topology calls = %v, want %v", got, want)
	}
	if h.ports.IsReserved(5) {
		t.Error("port 5 still reserved after stop")
	}
	if got := h.sb.State(); got != StateIdle {
		t.Errorf("State() = %s, want %s", got, StateIdle)
	}
}

// TestStopBestEffort verifies that a failing step does not prevent the
// remaining cleanup, and that the first error is returned.
func TestStopBestEffort(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		closeErr error
		stopErr  error
		wantErr  error
	}{
		"client close fails":  {closeErr: errClose, wantErr: errClose},
		"topology stop fails": {stopErr: errStopTopo, wantErr: errStopTopo},
		"both fail":           {closeErr: errClose, stopErr: errStopTopo, wantErr: errClose},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, func(h *harness, _ *Config) {
				h.connector.closeErr = tc.closeErr
				h.topologies.stopErr = tc.stopErr
			})
			h.mustStart(t)
			if _, err := h.sb.Client(context.Background()); err != nil {
				t.Fatalf("Client: %v", err)
			}

			err := h.sb.Stop(context.Background())
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Stop error = %v, want %v", err, tc.wantErr)
			}
			if got := h.sb.State(); got != StateIdle {
				t.Errorf("State() = %s, want %s", got, StateIdle)
			}
			if h.ports.IsReserved(5) {
				t.Error("port 5 still reserved after stop")
			}
			calls := h.topologies.last().Calls()
			if calls[len(calls)-1] != "purge" {
				t.Errorf("last topology call = %q, want purge", calls[len(calls)-1])
			}
		})
	}
}

// TestConcurrentStopCoalesces verifies that concurrent Stop calls share one
// transition.
func TestConcurrentStopCoalesces(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.mustStart(t)

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Go(func() { errs <- h.sb.Stop(context.Background()) })
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Stop: %v", err)
		}
	}
	stops := 0
	for _, c := range h.topologies.last().Calls() {
		if c == "stop" {
			stops++
		}
	}
	if stops != 1 {
		t.Errorf("topology stopped %d times, want 1", stops)
	}
}

// TestStopDuringStartWaits verifies that Stop issued while a start is in
// flight waits for it and then stops the started sandbox.
func TestStopDuringStartWaits(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(h *harness, _ *Config) {
		h.installer.gate = make(chan struct{})
		h.installer.entered = make(chan struct{})
	})

	var wg sync.WaitGroup
	var startErr, stopErr error
	wg.Go(func() { startErr = h.sb.Start(context.Background()) })
	<-h.installer.entered
	wg.Go(func() { stopErr = h.sb.Stop(context.Background()) })
	time.Sleep(20 * time.Millisecond)
	close(h.installer.gate)
	wg.Wait()

	if startErr != nil {
		t.Errorf("Start: %v", startErr)
	}
	if stopErr != nil {
		t.Errorf("Stop: %v", stopErr)
	}
	if got := h.sb.State(); got != StateIdle {
		t.Errorf("State() = %s, want %s", got, StateIdle)
	}
}

// TestStartCallerContextOnlyBoundsWait verifies that a caller abandoning its
// wait does not cancel the shared transition.
func TestStartCallerContextOnlyBoundsWait(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(h *harness, _ *Config) {
		h.installer.gate = make(chan struct{})
		h.installer.entered = make(chan struct{})
	})

	var wg sync.WaitGroup
	var firstErr error
	wg.Go(func() { firstErr = h.sb.Start(context.Background()) })
	<-h.installer.entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.sb.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("joined Start error = %v, want context.Canceled", err)
	}

	close(h.installer.gate)
	wg.Wait()
	if firstErr != nil {
		t.Errorf("initiating Start: %v", firstErr)
	}
	if !h.sb.IsRunning() {
		t.Error("sandbox not running after abandoned join")
	}
}

// TestNotRunningErrors verifies that data-plane calls fail while idle.
func TestNotRunningErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()

	tests := map[string]func() error{
		"Options": func() error {
			_, err := h.sb.Options()
			return err
		},
		"Client": func() error {
			_, err := h.sb.Client(ctx)
			return err
		},
		"NewClient": func() error {
			_, err := h.sb.NewClient(ctx)
			return err
		},
		"HasDocuments": func() error {
			_, err := h.sb.HasDocuments(ctx)
			return err
		},
		"PurgeDocuments": func() error {
			return h.sb.PurgeDocuments(ctx)
		},
	}

	for name, call := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			if err := call(); !errors.Is(err, ErrNotRunning) {
				t.Errorf("%s error = %v, want %v", name, err, ErrNotRunning)
			}
		})
	}
}

func TestOptions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(_ *harness, cfg *Config) {
		cfg.Database = "orders"
	})
	h.mustStart(t)

	got, err := h.sb.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	want := ConnOptions{
		Host:     DefaultHost,
		Port:     5,
		Database: "orders",
		URL:      "mongodb://127.0.0.1:5/orders",
	}
	if got != want {
		t.Errorf("Options() = %+v, want %+v", got, want)
	}
	if url := h.connector.lastURL.Load(); url != nil {
		t.Errorf("Options opened a connection to %s", *url)
	}
}

// TestClientReusesFirstConnection verifies that Client returns the same
// connection while NewClient always opens another.
func TestClientReusesFirstConnection(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.mustStart(t)
	ctx := context.Background()

	first, err := h.sb.Client(ctx)
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	again, err := h.sb.Client(ctx)
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	if first != again {
		t.Error("Client returned a different connection on second call")
	}
	extra, err := h.sb.NewClient(ctx)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if extra == first {
		t.Error("NewClient returned the shared connection")
	}
	if got := h.connector.connects.Load(); got != 2 {
		t.Errorf("connects = %d, want 2", got)
	}
	if got := *h.connector.lastURL.Load(); got != "mongodb://127.0.0.1:5/dbsandbox" {
		t.Errorf("connected to %q", got)
	}
}

// TestDocuments covers HasDocuments and PurgeDocuments on a running sandbox.
func TestDocuments(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		seed    map[string]int64
		otherDB bool
		want    bool
	}{
		"no collections":         {want: false},
		"empty collections":      {seed: map[string]int64{"a": 0, "b": 0}, want: false},
		"one non-empty":          {seed: map[string]int64{"a": 0, "b": 3}, want: true},
		"only in other database": {seed: map[string]int64{"a": 2}, otherDB: true, want: false},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, nil)
			h.mustStart(t)
			ctx := context.Background()

			db := DefaultDatabase
			if tc.otherDB {
				db = "elsewhere"
			}
			for coll, n := range tc.seed {
				h.server.seed(db, coll, n)
			}

			got, err := h.sb.HasDocuments(ctx)
			if err != nil {
				t.Fatalf("HasDocuments: %v", err)
			}
			if got != tc.want {
				t.Errorf("HasDocuments() = %v, want %v", got, tc.want)
			}

			if err := h.sb.PurgeDocuments(ctx); err != nil {
				t.Fatalf("PurgeDocuments: %v", err)
			}
			got, err = h.sb.HasDocuments(ctx)
			if err != nil {
				t.Fatalf("HasDocuments after purge: %v", err)
			}
			if got {
				t.Error("HasDocuments() = true after PurgeDocuments")
			}
		})
	}
}

// TestRestartAfterStop verifies a full start/stop/start cycle reserves the
// port again and connects afresh.
func TestRestartAfterStop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()

	h.mustStart(t)
	if _, err := h.sb.Client(ctx); err != nil {
		t.Fatalf("Client: %v", err)
	}
	if err := h.sb.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	h.mustStart(t)
	if _, err := h.sb.Client(ctx); err != nil {
		t.Fatalf("Client after restart: %v", err)
	}

	if got := h.connector.connects.Load(); got != 2 {
		t.Errorf("connects = %d, want 2", got)
	}
	if got := h.installer.downloadCalls.Load(); got != 1 {
		t.Errorf("Download calls = %d, want 1", got)
	}
	if !h.ports.IsReserved(5) {
		t.Error("port 5 not reserved after restart")
	}
}

func TestWorkingDir(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		root string
		port int
		want string
	}{
		"plain":          {root: "/tmp/db/mongodb-7.0.0", port: 27017, want: "/tmp/db/mongodb-7.0.0-server-27017"},
		"trailing slash": {root: "/tmp/db/mongodb-latest/", port: 5, want: "/tmp/db/mongodb-latest-server-5"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			if got := WorkingDir(tc.root, tc.port); got != tc.want {
				t.Errorf("WorkingDir(%q, %d) = %q, want %q", tc.root, tc.port, got, tc.want)
			}
		})
	}
}
