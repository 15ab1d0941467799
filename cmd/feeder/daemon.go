package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/fentz26/petfeeder/internal/audit"
	"github.com/fentz26/petfeeder/internal/bridge"
	"github.com/fentz26/petfeeder/internal/config"
	"github.com/fentz26/petfeeder/internal/controlplane"
	"github.com/fentz26/petfeeder/internal/janitor"
	"github.com/fentz26/petfeeder/internal/leader"
	"github.com/fentz26/petfeeder/internal/logx"
	"github.com/fentz26/petfeeder/internal/metrics"
	"github.com/fentz26/petfeeder/internal/queue"
	"github.com/fentz26/petfeeder/internal/scheduler"
	"github.com/fentz26/petfeeder/internal/store"
	"github.com/fentz26/petfeeder/internal/update"
	"github.com/spf13/cobra"
)

var (
	listenAddr string
	withBridge bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the feeder daemon",
	Long: `Starts the daemon: the scheduler loop (leader-gated), the queue janitor
and the HTTP control plane. With --bridge it also relays commands to the
feeder configured in the bridge section.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (default from config)")
	daemonCmd.Flags().BoolVar(&withBridge, "bridge", false, "Also run the device bridge in this process")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	boot, err := config.Load(configFile())
	if err != nil {
		return err
	}
	log, logCloser := logx.New(boot.Log)
	defer logCloser.Close()

	mgr := config.NewManager(configFile(), log)
	cfg, err := mgr.Load()
	if err != nil {
		return err
	}
	accounts, accountID, err := accountProvider(ctx, cfg)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.API.Addr = listenAddr
	}
	if withBridge {
		if err := cfg.Bridge.Validate(); err != nil {
			return err
		}
	}

	log.Info("starting feeder daemon",
		logx.String("version", update.Version),
		logx.String("config", mgr.Path()),
		logx.String("account_id", accountID),
		logx.String("store", cfg.Store.Driver),
		logx.String("leader", cfg.Leader.Backend))

	// Initialize store
	st, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	conn, err := connectNATS(cfg, true, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Initialize components
	m := metrics.NewPrometheus("petfeeder")
	changes := buildChangeFeed(cfg, conn, log)
	notifier, err := buildNotifier(cfg, log)
	if err != nil {
		return err
	}
	pdr := audit.NewPDRWriter(st)

	q := queue.New(st, accounts, queue.Options{
		Changes:  changes,
		Audit:    pdr,
		Metrics:  m,
		Notifier: notifier,
		Log:      log,
	})

	led, err := buildLedger(ctx, cfg, st, accountID)
	if err != nil {
		return err
	}
	locker, err := buildLocker(ctx, cfg, st, conn)
	if err != nil {
		return err
	}
	gate := leader.NewGate(locker, log, m)

	eval, err := scheduler.NewEvaluator(accounts, st, q, led, &cfg.Scheduler, scheduler.Options{
		Log:      log,
		Metrics:  m,
		Notifier: notifier,
	})
	if err != nil {
		return err
	}
	sched := scheduler.New(gate, eval, &cfg.Scheduler, log)
	sched.Start()
	defer sched.Stop()

	jan := janitor.New(cfg.Janitor, st, q, log, nil)
	if err := jan.Start(ctx); err != nil {
		return err
	}
	defer jan.Stop()

	if withBridge {
		feeder, err := openFeeder(cfg.Bridge, log)
		if err != nil {
			return err
		}
		defer feeder.Close()
		br := bridge.New(cfg.Bridge, q, feeder, changes, m, log)
		go func() {
			if err := br.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("bridge stopped", logx.Err(err))
				cancel()
			}
		}()
	}

	// Create service and server
	service := controlplane.NewService(st, q, accounts, controlplane.Options{
		Changes:   changes,
		Scheduler: sched,
		Audit:     pdr,
	})
	server := controlplane.NewServer(service, cfg.API.Addr, controlplane.ServerOptions{
		Metrics: m.Handler(),
		Version: update.Version,
		Log:     log,
	})

	go watchConfig(ctx, mgr, sched, log)

	serverErr := make(chan error, 1)
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		log.Debug("notified systemd ready")
	}
	go watchdog(ctx, log)

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err := <-serverErr:
		if err != nil {
			log.Error("server error", logx.Err(err))
			return err
		}
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info("shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown error", logx.Err(err))
	}

	log.Info("shutdown complete")
	return nil
}

// watchConfig applies scheduler changes from the config file until ctx ends.
// Other sections need a restart.
func watchConfig(ctx context.Context, mgr *config.Manager, sched *scheduler.Scheduler, log logx.Logger) {
	updates := mgr.Subscribe(1)
	defer mgr.Unsubscribe(updates)

	go func() {
		if err := mgr.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-updates:
			if err := sched.Apply(&cfg.Scheduler); err != nil {
				log.Warn("config reload rejected", logx.Err(err))
				continue
			}
			log.Info("scheduler config reloaded",
				logx.Duration("interval", cfg.Scheduler.Interval),
				logx.Duration("catch_up_window", cfg.Scheduler.CatchUpWindow))
		}
	}
}

// watchdog pings systemd at half the configured WatchdogSec.
func watchdog(ctx context.Context, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				log.Warn("systemd watchdog ping failed", logx.Err(err))
			}
		}
	}
}
