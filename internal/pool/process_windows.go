//go:build windows

package pool

import (
	"os"
	"os/exec"
	"time"
)

// configureProcAttr is a no-op on Windows (Setpgid is not supported).
func configureProcAttr(_ *exec.Cmd) {}

// terminateGroup on Windows falls back to killing the single process.
func terminateGroup(pid int, _ time.Duration) {
	if pid <= 0 {
		return
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	_ = proc.Kill()
}
