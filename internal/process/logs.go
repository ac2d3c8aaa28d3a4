package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LogFiles holds the stdout and stderr capture files of a process.
type LogFiles struct {
	stdout *os.File
	stderr *os.File

	dir        string
	stdoutName string // e.g. "mongod-stdout.log"
	stderrName string
}

// NewLogFiles creates <name>-stdout.log and <name>-stderr.log in dir,
// truncating earlier runs.
func NewLogFiles(dir, name string) (LogFiles, error) {
	l := LogFiles{
		dir:        dir,
		stdoutName: name + "-stdout.log",
		stderrName: name + "-stderr.log",
	}
	stdout, err := os.Create(l.StdoutPath())
	if err != nil {
		return LogFiles{}, fmt.Errorf("create stdout log: %w", err)
	}
	stderr, err := os.Create(l.StderrPath())
	if err != nil {
		_ = stdout.Close()
		return LogFiles{}, fmt.Errorf("create stderr log: %w", err)
	}
	l.stdout = stdout
	l.stderr = stderr
	return l, nil
}

// StdoutPath returns the stdout log path.
func (l LogFiles) StdoutPath() string {
	return filepath.Join(l.dir, l.stdoutName)
}

// StderrPath returns the stderr log path.
func (l LogFiles) StderrPath() string {
	return filepath.Join(l.dir, l.stderrName)
}

// Tail returns up to maxBytes from the end of the stdout and stderr logs,
// for attaching to startup errors. Missing files yield empty strings.
func (l LogFiles) Tail(maxBytes int64) (stdout, stderr string) {
	if l.dir == "" {
		return "", ""
	}
	return tailFile(l.StdoutPath(), maxBytes), tailFile(l.StderrPath(), maxBytes)
}

func tailFile(path string, maxBytes int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	offset := max(info.Size()-maxBytes, 0)
	buf := make([]byte, info.Size()-offset)
	n, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	return string(buf[:n])
}

// Close closes both handles. It is safe to call more than once.
func (l *LogFiles) Close() {
	if l.stdout != nil {
		_ = l.stdout.Close()
		l.stdout = nil
	}
	if l.stderr != nil {
		_ = l.stderr.Close()
		l.stderr = nil
	}
}
