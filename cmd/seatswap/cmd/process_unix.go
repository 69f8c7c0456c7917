//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

// shutdownSignals cancel the loop; a second one kills the process.
func shutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// alive signals proc with 0 to check that it exists.
func alive(proc *os.Process) bool {
	return proc.Signal(syscall.Signal(0)) == nil
}

// requestStop asks proc to finish its current cycle and exit.
func requestStop(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}
