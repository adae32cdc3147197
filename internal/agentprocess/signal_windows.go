//go:build windows

package agentprocess

import "os/exec"

func setSysProcAttr(cmd *exec.Cmd) {
	// No-op on Windows - Setpgid is not available.
}
