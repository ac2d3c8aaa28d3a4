//go:build integration

// Package testutil provides shared helpers for integration test packages.
package testutil

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/giantswarm/dbsandbox"
	"github.com/giantswarm/dbsandbox/sandboxtest"
)

// EngineEnv selects the engine under test. Unset means litestore, which
// needs no download; set it to "mongod" to run against a real server.
const EngineEnv = "DBSANDBOX_TEST_ENGINE"

// nameCounter is an atomic counter used by UniqueName.
var nameCounter atomic.Int64

// UniqueName returns a collection name that is unique across all parallel
// tests of one binary.
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, nameCounter.Add(1))
}

// Engine returns the engine named by DBSANDBOX_TEST_ENGINE, exiting the
// process on an unknown value. It is used in TestMain where *testing.T is
// not available.
func Engine() dbsandbox.Engine {
	name := os.Getenv(EngineEnv)
	if name == "" {
		return dbsandbox.EngineLite
	}
	e, err := dbsandbox.ParseEngine(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", EngineEnv, err)
		os.Exit(1)
	}
	return e
}

// SandboxOptions returns the engine, base port and start timeout shared by
// all integration sandboxes. The litestore engine is rooted in dir; mongod
// keeps its default install directory so the download is cached across
// runs.
func SandboxOptions(dir string, basePort int) []dbsandbox.Option {
	opts := []dbsandbox.Option{
		dbsandbox.WithEngine(Engine()),
		dbsandbox.WithBasePort(basePort),
		dbsandbox.WithStartTimeout(5 * time.Minute),
	}
	if Engine() == dbsandbox.EngineLite {
		opts = append(opts, dbsandbox.WithInstallDir(filepath.Join(dir, "lite")))
	}
	return opts
}

// SetupAndRun handles the standard TestMain boilerplate: flag parsing,
// logging setup, temp dir creation, sandbox creation and the lifecycle run.
// basePort keeps packages that run concurrently off each other's ports. The
// created sandbox and lifecycle are assigned to *sb and *lc. This function
// calls os.Exit and never returns.
//
//nolint:gocritic // ptrToRefParam: pointer-to-interface needed to assign back to the caller's variables.
func SetupAndRun(
	m *testing.M,
	sb *dbsandbox.Sandbox,
	lc *dbsandbox.Lifecycle,
	prefix string,
	basePort int,
	opts ...dbsandbox.Option,
) {
	flag.Parse()
	sandboxtest.SetupLogging()

	tmpDir, err := os.MkdirTemp("", prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
		os.Exit(1)
	}

	created := dbsandbox.NewSandbox(append(SandboxOptions(tmpDir, basePort), opts...)...)
	*sb = created
	*lc = created.Lifecycle(nil)

	code := sandboxtest.Main(m, *lc)
	_ = os.RemoveAll(tmpDir)
	os.Exit(code)
}

// Insert stores one document in the sandbox database and fails the test on
// error.
func Insert(ctx context.Context, t *testing.T, sb dbsandbox.Sandbox, collection string, doc map[string]any) {
	t.Helper()

	opts, err := sb.Options()
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	client, err := sb.Client(ctx)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if err := client.InsertDocument(ctx, opts.Database, collection, doc); err != nil {
		t.Fatalf("insert into %s: %v", collection, err)
	}
}

// RequireEmpty fails the test if the sandbox database holds any document.
func RequireEmpty(ctx context.Context, t *testing.T, sb dbsandbox.Sandbox) {
	t.Helper()

	has, err := sb.HasDocuments(ctx)
	if err != nil {
		t.Fatalf("has documents: %v", err)
	}
	if has {
		t.Fatal("database is not empty")
	}
}
