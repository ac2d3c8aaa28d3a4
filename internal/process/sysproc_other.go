//go:build !linux

package process

import "os/exec"

// configureSysProcAttr is a no-op: parent-death signals are Linux-only.
func configureSysProcAttr(_ *exec.Cmd) {}
