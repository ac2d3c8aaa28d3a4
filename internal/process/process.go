package process

import (
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/giantswarm/dbsandbox/internal/sentinel"
)

// ErrAlreadyStarted is returned by Start when the process is running.
const ErrAlreadyStarted = sentinel.Error("process already started")

// ErrNilCmd is returned by Start when cmd is nil.
const ErrNilCmd = sentinel.Error("cmd must not be nil")

// ErrEmptyCmdPath is returned by Start when cmd.Path is empty.
const ErrEmptyCmdPath = sentinel.Error("cmd.Path must not be empty")

// ErrEmptyDir is returned by Start when the working directory is empty.
const ErrEmptyDir = sentinel.Error("working directory must not be empty")

// DefaultStopTimeout bounds Stop when Close has to stop a process that was
// never stopped explicitly.
const DefaultStopTimeout = 10 * time.Second

// Process is one supervised child process.
//
// Process is not safe for concurrent use; the owning topology serializes
// Start, Stop and Close. Exited may be read from any goroutine.
type Process struct {
	name        string
	log         *slog.Logger
	stopTimeout time.Duration

	cmd      *exec.Cmd
	waitDone <-chan error    // cmd.Wait result, consumed once by Stop
	exited   <-chan struct{} // closed when the process exits
	logs     LogFiles
}

// New returns an unstarted Process. name labels log files and errors, e.g.
// "mongod". A nil logger means slog.Default(); a zero stopTimeout means
// DefaultStopTimeout.
func New(name string, logger *slog.Logger, stopTimeout time.Duration) *Process {
	if name == "" {
		panic("dbsandbox: process name must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &Process{name: name, log: logger, stopTimeout: stopTimeout}
}

// Name returns the process label.
func (p *Process) Name() string {
	return p.name
}

// IsStarted reports whether the process was started and not yet stopped.
func (p *Process) IsStarted() bool {
	return p.cmd != nil
}

// Exited returns a channel closed when the process exits, or nil when the
// process is not started.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Logs returns the log files of the current or last run.
func (p *Process) Logs() LogFiles {
	return p.logs
}

// Start runs cmd in dir with stdout and stderr redirected to log files in
// dir. cmd must have Path and Args set.
//
// Exactly one goroutine calls cmd.Wait; its result feeds Stop and Exited.
func (p *Process) Start(cmd *exec.Cmd, dir string) error {
	if cmd == nil {
		return ErrNilCmd
	}
	if cmd.Path == "" {
		return ErrEmptyCmdPath
	}
	if dir == "" {
		return ErrEmptyDir
	}
	if p.cmd != nil {
		return ErrAlreadyStarted
	}

	cmd.Dir = dir
	configureSysProcAttr(cmd)

	logs, err := NewLogFiles(dir, p.name)
	if err != nil {
		return fmt.Errorf("create %s logs: %w", p.name, err)
	}
	cmd.Stdout = logs.stdout
	cmd.Stderr = logs.stderr
	if err := cmd.Start(); err != nil {
		logs.Close()
		return fmt.Errorf("start %s: %w", p.name, err)
	}

	done := make(chan error, 1)
	exited := make(chan struct{})
	go func() {
		done <- cmd.Wait()
		close(exited)
	}()

	p.cmd = cmd
	p.logs = logs
	p.waitDone = done
	p.exited = exited
	p.log.Debug("process started", "process", p.name, "pid", cmd.Process.Pid)
	return nil
}

// Stop terminates the process, escalating to SIGKILL after a grace period
// capped at timeout. Afterwards IsStarted reports false even if Stop failed.
// Stop on an unstarted process returns nil.
func (p *Process) Stop(timeout time.Duration) error {
	if p.cmd == nil || p.cmd.Process == nil {
		p.reset()
		return nil
	}
	pid := p.cmd.Process.Pid
	err := terminate(p.cmd, p.waitDone, timeout, p.name)
	if err != nil {
		p.log.Warn("process stop failed; process may be orphaned",
			"process", p.name, "pid", pid, "error", err)
	} else {
		p.log.Debug("process stopped", "process", p.name, "pid", pid)
	}
	p.reset()
	return err
}

func (p *Process) reset() {
	p.cmd = nil
	p.waitDone = nil
	p.exited = nil
}

// Close releases the log file handles, stopping the process first if Stop
// was never called.
func (p *Process) Close() {
	if p.cmd != nil {
		p.log.Warn("process closed without stop; stopping", "process", p.name)
		if err := p.Stop(p.stopTimeout); err != nil {
			p.log.Warn("stop during close failed", "process", p.name, "error", err)
		}
	}
	p.logs.Close()
}
