//go:build !windows

package cmd

import (
	"os"
	"os/exec"
	"syscall"
)

// setDaemonAttrs starts the detached serve child in a new session so it
// outlives the shell that ran `autotest serve start`.
func setDaemonAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// shutdownSignals stop a foreground serve, run, scan --watch, flow or mcp.
func shutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// sigTERM asks a running serve to drain runs and flows.
func sigTERM() syscall.Signal { return syscall.SIGTERM }

// sigKILL ends a serve that did not exit within the stop grace period.
func sigKILL() syscall.Signal { return syscall.SIGKILL }
