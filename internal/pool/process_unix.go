//go:build !windows

package pool

import (
	"os/exec"
	"syscall"
	"time"
)

// configureProcAttr gives the worker its own process group so it can be
// signaled together with anything it spawns.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateGroup sends SIGTERM to the process group, then escalates to
// SIGKILL after the grace window. ESRCH (already gone) is ignored.
func terminateGroup(pid int, grace time.Duration) {
	if pid <= 0 {
		return
	}
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		return // process already exited
	}
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		return
	}
	time.AfterFunc(grace, func() {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	})
}
