package mongod

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/giantswarm/dbsandbox/internal/fileutil"
	"github.com/giantswarm/dbsandbox/internal/process"
	"github.com/giantswarm/dbsandbox/internal/sentinel"
)

// ErrBinaryNotExecutable is returned by Discover when the configured binary
// is missing or not executable.
const ErrBinaryNotExecutable = sentinel.Error("mongod binary is not executable")

const (
	// DefaultReadyTimeout bounds the wait for mongod to accept connections.
	DefaultReadyTimeout = 30 * time.Second

	// DefaultStopTimeout bounds a graceful shutdown.
	DefaultStopTimeout = 10 * time.Second

	readyPollInterval = 100 * time.Millisecond

	// logTailBytes is how much of the server log is attached to start errors.
	logTailBytes = 2048
)

// Config describes one mongod process.
type Config struct {
	BinaryPath  string
	BindAddress string
	Port        int
	DataDir     string

	// ExtraArgs are appended to the generated command line.
	ExtraArgs []string
	// Env is appended to the inherited environment.
	Env []string

	ReadyTimeout time.Duration
	StopTimeout  time.Duration
	Logger       *slog.Logger
}

// Topology is one mongod child process. It is safe for concurrent use.
type Topology struct {
	cfg Config
	log *slog.Logger

	mu   sync.Mutex
	proc *process.Process
}

// New returns an unstarted Topology. It performs no I/O.
func New(cfg Config) (*Topology, error) {
	var errs []error
	if cfg.BinaryPath == "" {
		errs = append(errs, errors.New("binary path must not be empty"))
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be within [1, 65535], got %d", cfg.Port))
	}
	if cfg.DataDir == "" {
		errs = append(errs, errors.New("data directory must not be empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("mongod config: %w", err)
	}

	if cfg.BindAddress == "" {
		cfg.BindAddress = "127.0.0.1"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Topology{
		cfg: cfg,
		log: logger.With("process", "mongod", "port", cfg.Port),
	}, nil
}

// Address returns host:port of the server.
func (t *Topology) Address() string {
	return net.JoinHostPort(t.cfg.BindAddress, strconv.Itoa(t.cfg.Port))
}

// Args returns the mongod command line, without the binary.
func (t *Topology) Args() []string {
	args := []string{
		"--bind_ip", t.cfg.BindAddress,
		"--port", strconv.Itoa(t.cfg.Port),
		"--dbpath", t.cfg.DataDir,
		"--quiet",
	}
	return append(args, t.cfg.ExtraArgs...)
}

// Purge removes the data directory and everything in it.
func (t *Topology) Purge(_ context.Context) error {
	if err := fileutil.RemoveDir(t.cfg.DataDir); err != nil {
		return fmt.Errorf("purge data dir: %w", err)
	}
	return nil
}

// Discover checks that the binary is executable and creates the data
// directory.
func (t *Topology) Discover(_ context.Context) error {
	info, err := os.Stat(t.cfg.BinaryPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBinaryNotExecutable, err)
	}
	if !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%w: %s", ErrBinaryNotExecutable, t.cfg.BinaryPath)
	}
	if err := fileutil.EnsureDir(t.cfg.DataDir); err != nil {
		return fmt.Errorf("prepare data dir: %w", err)
	}
	return nil
}

// Start launches mongod and blocks until it accepts connections, exits or
// ctx is done. On failure the process is stopped and the tail of its logs is
// included in the error.
func (t *Topology) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.proc != nil && t.proc.IsStarted() {
		return process.ErrAlreadyStarted
	}

	proc := process.New("mongod", t.log, t.cfg.StopTimeout)
	cmd := exec.Command(t.cfg.BinaryPath, t.Args()...) //nolint:gosec // G204: installed binary
	if len(t.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), t.cfg.Env...)
	}
	if err := proc.Start(cmd, t.cfg.DataDir); err != nil {
		return err
	}
	t.proc = proc

	err := process.WaitReady(ctx, process.WaitReadyConfig{
		Interval:      readyPollInterval,
		Timeout:       t.cfg.ReadyTimeout,
		Name:          "mongod",
		Address:       t.Address(),
		Logger:        t.log,
		ProcessExited: proc.Exited(),
	}, process.DialCheck(t.Address()))
	if err != nil {
		logs := t.proc.Logs()
		if stopErr := process.StopCloseAndNil(&t.proc, t.cfg.StopTimeout); stopErr != nil {
			t.log.Warn("stop mongod after failed start", "error", stopErr)
		}
		stdout, stderr := logs.Tail(logTailBytes)
		return fmt.Errorf("%w\nstdout: %s\nstderr: %s", err, stdout, stderr)
	}
	t.log.Debug("mongod ready", "address", t.Address())
	return nil
}

// Stop terminates mongod. It is a no-op when not started. The graceful stop
// timeout is capped by the deadline of ctx.
func (t *Topology) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	timeout := process.TimeoutFrom(ctx, t.cfg.StopTimeout)
	if err := process.StopCloseAndNil(&t.proc, timeout); err != nil {
		return fmt.Errorf("stop mongod: %w", err)
	}
	return nil
}

// IsRunning reports whether the process is started.
func (t *Topology) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.proc != nil && t.proc.IsStarted()
}
