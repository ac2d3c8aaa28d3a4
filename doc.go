// Package dbsandbox runs a disposable MongoDB server as a shared test
// fixture.
//
// A Sandbox installs the server on first use, reserves a free port, starts
// the server in its own data directory and hands out client connections.
// Concurrent Start or Stop calls share a single transition. A Lifecycle maps
// the four checkpoints of a test run onto a sandbox: it refuses to run
// against a store that already contains documents, purges documents after
// every test case, and keeps the server up for a minimum time before
// stopping it.
//
// # Basic Usage
//
//	var (
//	    sb = dbsandbox.NewSandbox(dbsandbox.WithDatabase("orders"))
//	    lc = sb.Lifecycle(nil)
//	)
//
//	func TestMain(m *testing.M) {
//	    os.Exit(sandboxtest.Main(m, lc))
//	}
//
//	func TestCreateOrder(t *testing.T) {
//	    sandboxtest.Case(t, lc)
//	    opts, err := sb.Options()
//	    // connect to opts.URL ...
//	}
//
// # Engines
//
// EngineMongod (default) downloads and runs a real mongod. EngineLite runs an
// embedded SQLite-backed store in process; it needs no download and speaks
// no wire protocol, so clients must come from Sandbox.Client.
package dbsandbox
