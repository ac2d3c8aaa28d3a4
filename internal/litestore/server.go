package litestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"sync"

	// Register the pure-Go SQLite driver (no CGO required).
	_ "modernc.org/sqlite"

	"github.com/giantswarm/dbsandbox/internal/core"
	"github.com/giantswarm/dbsandbox/internal/fileutil"
	"github.com/giantswarm/dbsandbox/internal/sentinel"
)

const (
	// ErrNotStarted is returned by operations on a store that is not started.
	ErrNotStarted = sentinel.Error("litestore is not started")

	// ErrAddressInUse is returned by Start when another store is registered
	// under the same address.
	ErrAddressInUse = sentinel.Error("litestore address already in use")
)

// DBFile is the SQLite file name inside the data directory.
const DBFile = "store.db"

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	db   TEXT NOT NULL,
	name TEXT NOT NULL,
	PRIMARY KEY (db, name)
);
CREATE TABLE IF NOT EXISTS documents (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	db   TEXT NOT NULL,
	coll TEXT NOT NULL,
	body TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS documents_by_coll ON documents (db, coll);
`

// registry maps host:port to started stores.
//
//nolint:gochecknoglobals // process-wide address space, like the port registry
var registry = struct {
	mu     sync.Mutex
	stores map[string]*Topology
}{stores: make(map[string]*Topology)}

func register(addr string, t *Topology) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, ok := registry.stores[addr]; ok {
		return fmt.Errorf("%w: %s", ErrAddressInUse, addr)
	}
	registry.stores[addr] = t
	return nil
}

func unregister(addr string, t *Topology) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.stores[addr] == t {
		delete(registry.stores, addr)
	}
}

func lookup(addr string) (*Topology, bool) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	t, ok := registry.stores[addr]
	return t, ok
}

// Topology is one embedded store. It is safe for concurrent use.
type Topology struct {
	cfg  core.TopologyConfig
	addr string
	log  *slog.Logger

	mu       sync.RWMutex
	db       *sql.DB
	listener net.Listener
}

var _ core.Topology = (*Topology)(nil)

// New returns an unstarted store for cfg.
func New(cfg core.TopologyConfig, logger *slog.Logger) (*Topology, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("litestore: data directory must not be empty")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("litestore: port must be positive, got %d", cfg.Port)
	}
	if cfg.BindAddress == "" {
		cfg.BindAddress = "127.0.0.1"
	}
	if logger == nil {
		logger = slog.Default()
	}
	addr := net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.Port))
	return &Topology{
		cfg:  cfg,
		addr: addr,
		log:  logger.With("engine", "litestore", "address", addr),
	}, nil
}

// Factory adapts New to core.TopologyFactory. The binary path is ignored.
func Factory(logger *slog.Logger) core.TopologyFactory {
	return func(_ string, cfg core.TopologyConfig) (core.Topology, error) {
		return New(cfg, logger)
	}
}

// Address returns host:port of the store.
func (t *Topology) Address() string {
	return t.addr
}

// Purge removes the data directory.
func (t *Topology) Purge(_ context.Context) error {
	if err := fileutil.RemoveDir(t.cfg.DataDir); err != nil {
		return fmt.Errorf("purge data dir: %w", err)
	}
	return nil
}

// Discover creates the data directory.
func (t *Topology) Discover(_ context.Context) error {
	if err := fileutil.EnsureDir(t.cfg.DataDir); err != nil {
		return fmt.Errorf("prepare data dir: %w", err)
	}
	return nil
}

// Start binds the port, opens the database and registers the store.
func (t *Topology) Start(ctx context.Context) (retErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.db != nil {
		return fmt.Errorf("litestore %s: already started", t.addr)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", t.addr, err)
	}
	defer func() {
		if retErr != nil {
			_ = ln.Close()
		}
	}()
	go acceptAndDrop(ln)

	path := filepath.Join(t.cfg.DataDir, DBFile)
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return fmt.Errorf("create schema: %w", err)
	}
	if err := register(t.addr, t); err != nil {
		_ = db.Close()
		return err
	}

	t.db = db
	t.listener = ln
	t.log.Debug("litestore started", "path", path)
	return nil
}

// acceptAndDrop accepts connections and closes them at once until ln closes.
// The store speaks no wire protocol; the listener only holds the port.
func acceptAndDrop(ln net.Listener) {
	for {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		_ = c.Close()
	}
}

// Stop unregisters the store, closes the database and frees the port. It is
// a no-op when not started.
func (t *Topology) Stop(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.db == nil {
		return nil
	}

	unregister(t.addr, t)
	err := t.db.Close()
	if lnErr := t.listener.Close(); err == nil {
		err = lnErr
	}
	t.db = nil
	t.listener = nil
	if err != nil {
		return fmt.Errorf("stop litestore %s: %w", t.addr, err)
	}
	t.log.Debug("litestore stopped")
	return nil
}

// withDB runs fn with the open database, holding a read lock so that Stop
// waits for in-flight statements.
func (t *Topology) withDB(fn func(db *sql.DB) error) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.db == nil {
		return fmt.Errorf("%w: %s", ErrNotStarted, t.addr)
	}
	return fn(t.db)
}
