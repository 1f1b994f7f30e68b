//go:build unix

package commands

import (
	"os"
	"syscall"
)

// suspendSignals ask for a save without stopping the process.
func suspendSignals() []os.Signal { return []os.Signal{syscall.SIGHUP, syscall.SIGUSR1} }
