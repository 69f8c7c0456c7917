package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running loop",
	Long: `Stop a running seatswap by reading its PID file and sending SIGTERM.

A swap in progress is finished or rolled back before the process exits.
If it is still running after --timeout it is killed; run "seatswap check"
afterwards to verify the enrollment.

The PID file is located at ~/.seatswap/seatswap.pid.`,
	RunE: runStop,
}

var stopTimeout time.Duration

func init() {
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 30*time.Second, "How long to wait before killing the process")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := pidFilePath()
	pid := readPIDFile(pidPath)
	if pid == 0 {
		return fmt.Errorf("no PID file at %s; is seatswap running?", pidPath)
	}
	defer os.Remove(pidPath)

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("invalid PID %d: %w", pid, err)
	}
	if !alive(proc) {
		return fmt.Errorf("seatswap process %d is not running (stale PID file removed)", pid)
	}

	out := cmd.ErrOrStderr()
	fmt.Fprintf(out, "Stopping seatswap (PID %d)...\n", pid)
	killed, err := stopProcess(proc, stopTimeout, out)
	if err != nil {
		return err
	}
	if killed {
		fmt.Fprintln(out, `Killed. Run "seatswap check" to verify the enrollment.`)
		return nil
	}
	fmt.Fprintln(out, "Stopped.")
	return nil
}

// stopProcess requests a graceful stop and waits up to timeout for proc to
// exit, then kills it. killed reports whether the kill was needed.
func stopProcess(proc *os.Process, timeout time.Duration, out io.Writer) (killed bool, err error) {
	if err := requestStop(proc); err != nil {
		return false, fmt.Errorf("failed to stop seatswap: %w", err)
	}

	const poll = 200 * time.Millisecond
	for waited := time.Duration(0); waited < timeout; waited += poll {
		time.Sleep(poll)
		if !alive(proc) {
			return false, nil
		}
	}

	fmt.Fprintf(out, "seatswap did not stop within %s, killing it...\n", timeout)
	_ = proc.Kill()
	return true, nil
}
