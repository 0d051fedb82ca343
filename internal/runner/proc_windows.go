//go:build windows

package runner

import "os/exec"

// setProcAttrs is a no-op on Windows (no process groups via Setpgid).
func setProcAttrs(_ *exec.Cmd) {}

func terminateGroup(cmd *exec.Cmd) error { return cmd.Process.Kill() }

func killGroup(cmd *exec.Cmd) error { return cmd.Process.Kill() }
