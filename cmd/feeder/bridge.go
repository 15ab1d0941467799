package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fentz26/petfeeder/internal/audit"
	"github.com/fentz26/petfeeder/internal/auth"
	"github.com/fentz26/petfeeder/internal/bridge"
	"github.com/fentz26/petfeeder/internal/config"
	"github.com/fentz26/petfeeder/internal/device"
	"github.com/fentz26/petfeeder/internal/logx"
	"github.com/fentz26/petfeeder/internal/metrics"
	"github.com/fentz26/petfeeder/internal/queue"
	"github.com/fentz26/petfeeder/internal/store"
	"github.com/spf13/cobra"
)

// simulatorCycle is how long the simulated motor takes per portion.
const simulatorCycle = 500 * time.Millisecond

var (
	bridgeDevice   string
	bridgePort     string
	bridgeSimulate bool
	bridgeList     bool
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Relay queued commands to a feeder over serial",
	Long: `Runs the device bridge for one feeder: it delivers PENDING commands for
the device over the serial link and writes EXECUTED or FAILED back.`,
	RunE: runBridge,
}

func init() {
	bridgeCmd.Flags().StringVar(&bridgeDevice, "device", "", "Device id to serve (default from config)")
	bridgeCmd.Flags().StringVar(&bridgePort, "port", "", "Serial port (default from config)")
	bridgeCmd.Flags().BoolVar(&bridgeSimulate, "simulate", false, "Use a simulated feeder instead of a serial port")
	bridgeCmd.Flags().BoolVar(&bridgeList, "list-ports", false, "List serial ports and exit")
}

func runBridge(cmd *cobra.Command, args []string) error {
	if bridgeList {
		ports, err := device.Ports()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found")
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return nil
	}

	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ResolveSecrets(); err != nil {
		return err
	}
	if bridgeDevice != "" {
		cfg.Bridge.DeviceID = bridgeDevice
	}
	if bridgePort != "" {
		cfg.Bridge.Serial.Port = bridgePort
	}
	if bridgeSimulate {
		cfg.Bridge.Simulate = true
	}
	if err := cfg.Bridge.Validate(); err != nil {
		return err
	}

	log, logCloser := logx.New(cfg.Log)
	defer logCloser.Close()
	log = log.With(logx.String("device_id", cfg.Bridge.DeviceID))

	st, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	conn, err := connectNATS(bridgeNATS(cfg), false, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	changes := buildChangeFeed(cfg, conn, log)
	notifier, err := buildNotifier(cfg, log)
	if err != nil {
		return err
	}
	m := metrics.NewNop()
	q := queue.New(st, auth.Static(cfg.AccountID), queue.Options{
		Changes:  changes,
		Audit:    audit.NewPDRWriter(st),
		Metrics:  m,
		Notifier: notifier,
		Log:      log,
	})

	feeder, err := openFeeder(cfg.Bridge, log)
	if err != nil {
		return err
	}
	defer feeder.Close()

	log.Info("bridge starting", logx.String("link", feeder.Name()))
	err = bridge.New(cfg.Bridge, q, feeder, changes, m, log).Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// bridgeNATS points a bridge at the daemon's embedded server when that is
// how the config is set up.
func bridgeNATS(cfg *config.Config) *config.Config {
	if cfg.NATS.Embedded && cfg.NATS.URL == "" && needsNATS(cfg) {
		c := *cfg
		c.NATS.URL = fmt.Sprintf("nats://127.0.0.1:%d", cfg.NATS.Port)
		return &c
	}
	return cfg
}

func openFeeder(cfg bridge.Config, log logx.Logger) (device.Feeder, error) {
	if cfg.Simulate {
		link, _ := device.NewSimulatedLink(simulatorCycle, cfg.Serial.AckTimeout)
		log.Warn("using simulated feeder")
		return link, nil
	}
	return device.OpenSerial(cfg.Serial)
}
