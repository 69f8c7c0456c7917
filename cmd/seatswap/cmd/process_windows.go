//go:build windows

package cmd

import (
	"os"

	"golang.org/x/sys/windows"
)

// stillActive is the exit code GetExitCodeProcess reports for a running process.
const stillActive = 259

// shutdownSignals cancel the loop. Only Ctrl+C is delivered on Windows.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

func alive(proc *os.Process) bool {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(proc.Pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == stillActive
}

// requestStop terminates proc. There is no SIGTERM to deliver, so a swap in
// flight is cut short; the next start re-reads the enrollment.
func requestStop(proc *os.Process) error {
	return proc.Kill()
}
