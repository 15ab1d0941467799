package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fentz26/petfeeder/internal/config"
	"github.com/fentz26/petfeeder/internal/controlplane"
	"github.com/fentz26/petfeeder/internal/update"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "feeder",
	Short: "Pet feeder scheduler and command queue",
	Long: `feeder runs the feeding scheduler and command queue daemon, relays
queued commands to a feeder over serial, and talks to a running daemon
from the command line.`,
	SilenceUsage: true,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	configPath string
	apiAddr    string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.petfeeder/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "", "Daemon API address (default from config)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(feedCmd, pauseCmd, resumeCmd)
	rootCmd.AddCommand(commandCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func configFile() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

func loadConfig() (*config.Config, error) {
	return config.Load(configFile())
}

// apiBase resolves the daemon address: flag, then config, then default.
func apiBase() string {
	if apiAddr != "" {
		return apiAddr
	}
	if cfg, err := loadConfig(); err == nil && cfg.API.Addr != "" {
		return cfg.API.Addr
	}
	return config.DefaultAPIAddr
}

func newClient() *controlplane.Client {
	return controlplane.NewClient(apiBase())
}

var versionCheck bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the feeder version",
	RunE:  runVersion,
}

func init() {
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "Check GitHub for a newer release")
}

func runVersion(cmd *cobra.Command, args []string) error {
	fmt.Printf("feeder version %s\n", update.Version)
	fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go version: %s\n", runtime.Version())

	if !versionCheck {
		return nil
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	res, err := update.NewChecker(config.DefaultDataDir()).Check(ctx, false)
	if err != nil {
		return err
	}
	if res.HasUpdate {
		fmt.Printf("\nA newer release is available: %s\n  %s\n", res.Latest, res.URL)
	} else {
		fmt.Println("\nUp to date")
	}
	return nil
}
