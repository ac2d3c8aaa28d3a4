// Package process supervises external server processes.
//
// A Process starts a command with its stdout and stderr captured in log
// files under the working directory, and stops it with SIGTERM followed by
// SIGKILL once a grace period expires. WaitReady polls a readiness check
// until it passes, the process exits, or a timeout elapses.
package process
