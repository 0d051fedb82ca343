//go:build windows

package daemon

import (
	"fmt"
	"os"
	"syscall"
)

// alive reports whether pid can be signalled. FindProcess always succeeds on
// Windows, so a zero signal is used as the probe.
func alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// signal delivers sig; only os.Kill is reliable on Windows.
func signal(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	return proc.Signal(sig)
}
