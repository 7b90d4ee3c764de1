package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var stopWait bool

func init() {
	stopCmd.Flags().BoolVar(&stopWait, "wait", false, "block until in-flight generations have drained and the daemon exits")
	rootCmd.AddCommand(stopCmd, restartCmd)
}

// findDaemon locates the running daemon through its PID file. A stale
// file left by a crashed daemon is removed so the next serve starts
// cleanly.
func findDaemon() (*os.Process, int, error) {
	cfg := loadConfig()
	pidPath := filepath.Join(cfg.DataDir, "pixelprompt.pid")

	data, err := os.ReadFile(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("pixelprompt is not running (no PID file in %s)", cfg.DataDir)
		}
		return nil, 0, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, 0, fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(pidPath)
		return nil, 0, fmt.Errorf("pixelprompt is not running (removed stale PID file for %d)", pid)
	}
	return proc, pid, nil
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the pixelprompt daemon",
	Long: `Sends SIGTERM to the daemon. In-flight generation tasks run to
completion and write their results before it exits; sessions stay on
disk, so polling clients keep seeing the last recorded state.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		proc, pid, err := findDaemon()
		if err != nil {
			return err
		}
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("send SIGTERM: %w", err)
		}
		if !stopWait {
			fmt.Printf("Stopping pixelprompt (PID %d).\n", pid)
			return nil
		}

		// Worst case is a full generation cycle: task timeout plus one
		// retry, so give the drain a generous window.
		deadline := time.Now().Add(30 * time.Second)
		for time.Now().Before(deadline) {
			if err := proc.Signal(syscall.Signal(0)); err != nil {
				fmt.Printf("pixelprompt (PID %d) stopped.\n", pid)
				return nil
			}
			time.Sleep(200 * time.Millisecond)
		}
		return fmt.Errorf("pixelprompt (PID %d) still draining after 30s; generations may be mid-flight", pid)
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the pixelprompt daemon",
	Long: `Sends SIGHUP. The daemon re-execs itself and reloads its config,
picking up changed model slots, API keys, and rate limits without
losing stored sessions.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		proc, pid, err := findDaemon()
		if err != nil {
			return err
		}
		if err := proc.Signal(syscall.SIGHUP); err != nil {
			return fmt.Errorf("send SIGHUP: %w", err)
		}
		fmt.Printf("Restarting pixelprompt (PID %d); config will be reloaded.\n", pid)
		return nil
	},
}
