package cli

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the Aven daemon",
	Long:  `Stop the running Aven daemon gracefully. Falls back to SIGKILL if the daemon does not exit in time.`,
	RunE:  runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	pidFile := getPIDFilePath()
	pid, err := readPID(pidFile)
	if err != nil {
		return fmt.Errorf("daemon is not running (no PID file at %s)", pidFile)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		os.Remove(pidFile)
		return fmt.Errorf("daemon is not running (stale PID %d)", pid)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidFile)
		return fmt.Errorf("daemon is not running (stale PID %d)", pid)
	}

	fmt.Printf("Stopping daemon (PID %d)...\n", pid)

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if err := process.Signal(syscall.Signal(0)); err != nil {
			fmt.Println("Daemon stopped.")
			os.Remove(pidFile)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	fmt.Println("Daemon did not stop in time, killing it.")
	if err := process.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill daemon: %w", err)
	}
	os.Remove(pidFile)
	return nil
}
