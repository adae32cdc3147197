//go:build windows

package runner

import "os"

func signalTERM() os.Signal { return os.Interrupt }
