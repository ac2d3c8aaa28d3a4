// Package sandboxtest drives a dbsandbox.Lifecycle from the standard testing
// package: Main wraps a TestMain in BeforeAll and AfterAll, Case wraps one
// test in BeforeEach and AfterEach.
package sandboxtest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/giantswarm/dbsandbox"
)

// LogLevelEnv names the environment variable SetupLogging reads.
const LogLevelEnv = "DBSANDBOX_LOG_LEVEL"

// DefaultCheckpointTimeout bounds BeforeEach and AfterEach. BeforeAll and
// AfterAll are bounded by the sandbox start and stop timeouts instead.
const DefaultCheckpointTimeout = time.Minute

// Runner is the part of *testing.M that Main uses.
type Runner interface {
	Run() int
}

// SetupLogging configures slog from DBSANDBOX_LOG_LEVEL (default INFO) and
// hands the result to dbsandbox. It only affects test binaries.
func SetupLogging() {
	levelStr := os.Getenv(LogLevelEnv)
	if levelStr == "" {
		levelStr = "INFO"
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		level = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))

	dbsandbox.SetLogger(slog.Default().With("component", "dbsandbox"))
}

// Main runs m between lc.BeforeAll and lc.AfterAll and returns the exit
// code for os.Exit. A failed BeforeAll skips the tests and still calls
// AfterAll so that the port and data directory are released. SIGINT or
// SIGTERM during the run stops the sandbox before the process exits.
//
//	func TestMain(m *testing.M) {
//	    os.Exit(sandboxtest.Main(m, sb.Lifecycle(nil)))
//	}
func Main(m Runner, lc dbsandbox.Lifecycle) int {
	return run(m, lc, os.Stderr, func() func() { return stopOnSignal(lc, os.Stderr) })
}

// run drives the checkpoints around m. armSignals, when set, installs an
// interrupt handler after BeforeAll and returns the function that removes
// it; the handler is removed before the final AfterAll.
func run(m Runner, lc dbsandbox.Lifecycle, stderr io.Writer, armSignals func() func()) int {
	ctx := context.Background()

	if err := lc.BeforeAll(ctx, nil); err != nil {
		fmt.Fprintf(stderr, "dbsandbox: before all: %v\n", err)
		if stopErr := lc.AfterAll(ctx); stopErr != nil {
			fmt.Fprintf(stderr, "dbsandbox: after all: %v\n", stopErr)
		}
		return 1
	}

	disarm := func() {}
	if armSignals != nil {
		disarm = armSignals()
	}

	code := m.Run()
	disarm()

	if err := lc.AfterAll(ctx); err != nil {
		fmt.Fprintf(stderr, "dbsandbox: after all: %v\n", err)
		if code == 0 {
			code = 1
		}
	}
	return code
}

// stopOnSignal stops the sandbox and exits on the first SIGINT or SIGTERM.
// The returned function disarms the handler.
func stopOnSignal(lc dbsandbox.Lifecycle, stderr io.Writer) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	return watchSignals(lc, stderr, sigCh, func() { signal.Stop(sigCh) }, os.Exit)
}

// watchSignals calls lc.AfterAll and exit(1) when sigCh delivers. release
// unsubscribes sigCh. The returned function disarms the watcher and waits
// for it, so no AfterAll from the handler runs after it returns.
func watchSignals(lc dbsandbox.Lifecycle, stderr io.Writer, sigCh <-chan os.Signal, release func(), exit func(int)) func() {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		select {
		case sig := <-sigCh:
			release() // Restore default handler so a second signal force-kills
			fmt.Fprintf(stderr, "\nReceived %s, stopping sandbox...\n", sig)
			if err := lc.AfterAll(context.Background()); err != nil {
				fmt.Fprintf(stderr, "dbsandbox: after all: %v\n", err)
			}
			exit(1)
		case <-done:
		}
	}()
	return func() {
		release()
		close(done)
		<-finished
	}
}

// Case runs lc.BeforeEach now and registers lc.AfterEach as a cleanup of t,
// so the documents a test wrote are purged when it finishes.
func Case(t testing.TB, lc dbsandbox.Lifecycle) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), DefaultCheckpointTimeout)
	defer cancel()
	if err := lc.BeforeEach(ctx); err != nil {
		t.Fatalf("dbsandbox: before each: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultCheckpointTimeout)
		defer cancel()
		if err := lc.AfterEach(ctx); err != nil {
			t.Errorf("dbsandbox: after each: %v", err)
		}
	})
}
