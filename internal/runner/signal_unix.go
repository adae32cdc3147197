//go:build !windows

package runner

import (
	"os"
	"syscall"
)

func signalTERM() os.Signal { return syscall.SIGTERM }
