//go:build windows

package cmd

import (
	"os"
	"os/exec"
	"syscall"
)

// setDaemonAttrs puts the detached serve child in its own process group so a
// console Ctrl+C does not reach it.
func setDaemonAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// shutdownSignals stop a foreground serve, run, scan --watch, flow or mcp.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// sigTERM is sent first by `serve stop`. Windows has no graceful equivalent,
// so the grace period usually ends in sigKILL.
func sigTERM() syscall.Signal { return syscall.SIGTERM }

// sigKILL ends a serve that did not exit within the stop grace period.
func sigKILL() syscall.Signal { return syscall.SIGKILL }
