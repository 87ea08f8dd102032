//go:build !linux

package engine

import (
	"os"
	"os/exec"
)

func setProcAttr(cmd *exec.Cmd) {}

// limitMemory is a no-op where RLIMIT_AS cannot be set on another process.
func limitMemory(pid int, limit int64) error {
	return errUnsupported
}

func killGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func signalName(state *os.ProcessState) string {
	return ""
}
