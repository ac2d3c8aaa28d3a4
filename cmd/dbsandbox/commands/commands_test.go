package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// syncBuffer is a bytes.Buffer safe for one writer and one polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func execute(ctx context.Context, args ...string) (stdout, stderr *syncBuffer, err error) {
	stdout, stderr = &syncBuffer{}, &syncBuffer{}
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return stdout, stderr, cmd.ExecuteContext(ctx)
}

func TestInstallLitestore(t *testing.T) {
	t.Parallel()

	stdout, _, err := execute(context.Background(),
		"install", "--engine", "litestore", "--install-dir", filepath.Join(t.TempDir(), "lite"))
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if got := strings.TrimSpace(stdout.String()); got != "installed" {
		t.Errorf("stdout = %q, want %q", got, "installed")
	}
}

func TestInvalidFlags(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		args    []string
		wantErr string
	}{
		"unknown engine": {
			args:    []string{"install", "--engine", "redis"},
			wantErr: `unknown engine "redis"`,
		},
		"old version": {
			args:    []string{"install", "--mongo-version", "3.6.0"},
			wantErr: "unsupported server version",
		},
		"port out of range": {
			args:    []string{"run", "--base-port", "70000"},
			wantErr: "basePort must be within",
		},
		"bad log level": {
			args:    []string{"--log-level", "loud", "install"},
			wantErr: "invalid --log-level",
		},
		"missing config": {
			args:    []string{"install", "--config", "/nonexistent/sandbox.yaml"},
			wantErr: "load sandbox config",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, _, err := execute(context.Background(), tc.args...)
			if err == nil {
				t.Fatalf("%v succeeded, want error", tc.args)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestRunLitestoreUntilCanceled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "sandbox.yaml")
	cfgBody := "engine: litestore\nbasePort: 44017\ndatabase: orders\n"
	if err := os.WriteFile(cfgPath, []byte(cfgBody), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stdout := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		cmd := NewRootCommand()
		cmd.SetArgs([]string{"run", "--config", cfgPath, "--install-dir", filepath.Join(dir, "lite")})
		cmd.SetOut(stdout)
		cmd.SetErr(&syncBuffer{})
		done <- cmd.ExecuteContext(ctx)
	}()

	err := wait.PollUntilContextTimeout(ctx, 10*time.Millisecond, 10*time.Second, true,
		func(context.Context) (bool, error) {
			return strings.Contains(stdout.String(), "mongodb://"), nil
		})
	if err != nil {
		t.Fatalf("no connection URL printed: %v (stdout %q)", err, stdout.String())
	}
	if url := strings.TrimSpace(stdout.String()); !strings.HasSuffix(url, "/orders") {
		t.Errorf("URL = %q, want database orders", url)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
