package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/avenhq/aven/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status and configuration summary",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	pidFile := getPIDFilePath()

	fmt.Printf("Aven %s\n\n", GetVersion())

	if isRunning(pidFile) {
		pid, _ := readPID(pidFile)
		fmt.Printf("Daemon:    running (PID %d)\n", pid)
		if started, err := processStartTime(pidFile); err == nil {
			fmt.Printf("Uptime:    %s\n", formatDuration(time.Since(started)))
		}
	} else {
		fmt.Println("Daemon:    stopped")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Printf("\nConfig:    failed to load (%v)\n", err)
		return nil
	}

	fmt.Println()
	fmt.Printf("Provider:  %s (fallback: local %s)\n", cfg.Providers.Primary, cfg.Providers.LocalModel)
	fmt.Printf("Model:     %s\n", cfg.Agent.Model)
	fmt.Printf("Rounds:    %d per turn\n", cfg.Agent.MaxRounds)
	fmt.Printf("Server:    %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("Heartbeat: tick %ds, threshold %ds\n", cfg.Heartbeat.TickIntervalSec, cfg.Heartbeat.MissedThresholdSec)
	fmt.Printf("Data dir:  %s\n", cfg.DataDir)

	if cfg.Telegram.Enabled {
		fmt.Println("Telegram:  enabled")
	} else {
		fmt.Println("Telegram:  disabled")
	}

	if len(cfg.Autonomy.Windows) == 0 {
		fmt.Println("Autonomy:  no windows configured (all actions gated by risk)")
	} else {
		fmt.Printf("Autonomy:  %d window(s)\n", len(cfg.Autonomy.Windows))
	}
	return nil
}
