//go:build !windows

package daemon

import "syscall"

// alive probes pid with signal 0.
func alive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func signal(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}
