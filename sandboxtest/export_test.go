package sandboxtest

import (
	"io"
	"os"

	"github.com/giantswarm/dbsandbox"
)

// RunForTesting is Main without signal handling and with a custom stderr.
func RunForTesting(m Runner, lc dbsandbox.Lifecycle, stderr io.Writer) int {
	return run(m, lc, stderr, nil)
}

// RunWithSignalsForTesting is Main with a custom signal handler installer.
func RunWithSignalsForTesting(m Runner, lc dbsandbox.Lifecycle, stderr io.Writer, armSignals func() func()) int {
	return run(m, lc, stderr, armSignals)
}

// WatchSignalsForTesting exposes the interrupt handler with an injected
// signal channel and exit function.
func WatchSignalsForTesting(lc dbsandbox.Lifecycle, stderr io.Writer, sigCh <-chan os.Signal, exit func(int)) func() {
	return watchSignals(lc, stderr, sigCh, func() {}, exit)
}
