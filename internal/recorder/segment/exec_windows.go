//go:build windows

package segment

import "os/exec"

// setProcessGroup is a no-op on Windows; job objects would be needed for
// full process-tree containment but the encoder child doesn't spawn
// grandchildren worth tracking.
func setProcessGroup(cmd *exec.Cmd) {}

// killProcess force-terminates the encoder child directly.
func killProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
