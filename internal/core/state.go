package core

import "fmt"

// RunState is the lifecycle state of a Sandbox.
type RunState int

const (
	StateIdle     RunState = iota // Zero value; no port, no process
	StateStarting                 // Start transition in flight
	StateRunning                  // Data-plane helpers allowed
	StateStopping                 // Stop transition in flight
)

// String returns the name of the state.
func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	default:
		return fmt.Sprintf("RunState(%d)", int(s))
	}
}
