package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/shepherdbot/shepherd/internal/config"
	"github.com/shepherdbot/shepherd/internal/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage the shepherd daemon",
	Long:  `Start, stop, and inspect the shepherd background daemon.`,
}

var (
	foregroundFlag bool
	portFlag       int
)

func init() {
	serverCmd.AddCommand(serverStartCmd)
	serverCmd.AddCommand(serverStopCmd)
	serverCmd.AddCommand(serverStatusCmd)

	serverStartCmd.Flags().BoolVar(&foregroundFlag, "foreground", false, "Run in foreground (don't daemonize)")
	serverStartCmd.Flags().IntVar(&portFlag, "port", 0, "Status endpoint port (default from config)")
}

var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the shepherd daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			slog.Warn("failed to load config, using defaults", "error", err)
			defaultCfg := config.DefaultConfig()
			cfg = &defaultCfg
		}

		port := portFlag
		if port == 0 {
			port = cfg.Server.Port
		}
		return server.StartDaemon(port, cfg.Server.LogDir, foregroundFlag)
	},
}

var serverStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the shepherd daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := server.StopDaemon(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "daemon stopped")
		return nil
	},
}

var serverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		running, pid, uptime, err := server.DaemonStatus()
		if err != nil {
			return err
		}

		if running {
			fmt.Fprintf(cmd.OutOrStdout(), "daemon is running (PID %d, uptime %s)\n", pid, uptime.Round(time.Second))
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "daemon is not running")
		}
		return nil
	},
}
