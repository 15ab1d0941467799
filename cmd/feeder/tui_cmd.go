package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/fentz26/petfeeder/internal/controlplane"
	"github.com/fentz26/petfeeder/internal/tui"
	"github.com/spf13/cobra"
)

var (
	tuiDevice  string
	tuiNoStart bool
	tuiRefresh time.Duration
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive command monitor",
	RunE:  runTUI,
}

func init() {
	tuiCmd.Flags().StringVar(&tuiDevice, "device", "", "Only show this device")
	tuiCmd.Flags().BoolVar(&tuiNoStart, "no-start", false, "Do not start a daemon when none is running")
	tuiCmd.Flags().DurationVar(&tuiRefresh, "refresh", tui.DefaultRefresh, "Refresh interval")
}

func runTUI(cmd *cobra.Command, args []string) error {
	client := newClient()

	// 1. Check if Daemon is running
	if !isDaemonRunning(cmd.Context(), client) {
		if tuiNoStart {
			return fmt.Errorf("daemon not reachable at %s", apiBase())
		}
		fmt.Println("Feeder daemon not running. Starting background service...")
		if err := startDaemon(cmd.Context(), client); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
	}

	// 2. Launch TUI
	opts := tui.Options{DeviceID: tuiDevice, Refresh: tuiRefresh}
	if mgr, err := authManager(); err == nil && mgr.IsAuthenticated() {
		opts.Account = mgr.Session().Account.ID
	}
	if err := tui.New(client, opts).Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func isDaemonRunning(ctx context.Context, client *controlplane.Client) bool {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	_, err := client.Health(ctx)
	return err == nil
}

func startDaemon(ctx context.Context, client *controlplane.Client) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	// Start "feeder daemon" in background
	args := []string{"daemon"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	cmd := exec.Command(exe, args...)
	// Detach process so it survives TUI exit
	configureDaemonProc(cmd)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}

	fmt.Print("   Waiting for daemon...")
	for i := 0; i < 20; i++ {
		if isDaemonRunning(ctx, client) {
			fmt.Println(" Done.")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("daemon started but API not reachable at %s", apiBase())
}
