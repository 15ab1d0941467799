// Package bridge relays queued commands from the store to one feeder and
// writes the outcome back.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fentz26/petfeeder/internal/changefeed"
	"github.com/fentz26/petfeeder/internal/device"
	"github.com/fentz26/petfeeder/internal/errs"
	"github.com/fentz26/petfeeder/internal/logx"
	"github.com/fentz26/petfeeder/internal/metrics"
	"github.com/fentz26/petfeeder/internal/models"
	"golang.org/x/time/rate"
)

// Config defines the bridge configuration.
type Config struct {
	DeviceID string `yaml:"device_id"`
	// PollInterval is how often pending commands are rescanned. Without a
	// change stream it is the only trigger.
	PollInterval time.Duration `yaml:"poll_interval"`
	// MinGap is the minimum time between two dispense cycles.
	MinGap   time.Duration       `yaml:"min_gap"`
	Serial   device.SerialConfig `yaml:"serial"`
	Simulate bool                `yaml:"simulate"`
}

// DefaultConfig returns the default bridge configuration.
func DefaultConfig() *Config {
	return &Config{
		PollInterval: 5 * time.Second,
		MinGap:       2 * time.Second,
		Serial: device.SerialConfig{
			BaudRate:   device.DefaultBaudRate,
			AckTimeout: device.DefaultAckTimeout,
			Settle:     2 * time.Second,
		},
	}
}

// Validate rejects settings the bridge cannot run with.
func (c *Config) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("bridge device_id is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("bridge poll interval must be positive, got %s", c.PollInterval)
	}
	if !c.Simulate && c.Serial.Port == "" {
		return fmt.Errorf("bridge serial port is required unless simulate is set")
	}
	return nil
}

// Queue is the part of the command queue the bridge drives.
type Queue interface {
	ListPending(ctx context.Context, deviceID string) ([]models.Command, error)
	UpdateStatus(ctx context.Context, id string, status models.CommandStatus, errMsg string) (*models.Command, error)
}

// Bridge moves one device's commands through DELIVERED to a terminal status.
type Bridge struct {
	cfg     Config
	queue   Queue
	feeder  device.Feeder
	changes changefeed.Subscriber
	limiter *rate.Limiter
	metrics metrics.Collector
	log     logx.Logger

	paused atomic.Bool
	kick   chan struct{}

	mu       sync.Mutex
	executed int
	failed   int
	lastErr  string
}

// New creates a bridge. changes may be nil, in which case only polling
// discovers new commands.
func New(cfg Config, q Queue, feeder device.Feeder, changes changefeed.Subscriber, m metrics.Collector, log logx.Logger) *Bridge {
	if m == nil {
		m = metrics.NewNop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	limit := rate.Inf
	if cfg.MinGap > 0 {
		limit = rate.Every(cfg.MinGap)
	}
	return &Bridge{
		cfg:     cfg,
		queue:   q,
		feeder:  feeder,
		changes: changes,
		limiter: rate.NewLimiter(limit, 1),
		metrics: m,
		log:     log.With(logx.String("component", "bridge"), logx.String("device_id", cfg.DeviceID), logx.String("port", feeder.Name())),
		kick:    make(chan struct{}, 1),
	}
}

// Paused reports whether feeds are held back.
func (b *Bridge) Paused() bool { return b.paused.Load() }

// Kick asks for a rescan without waiting for the poll interval.
func (b *Bridge) Kick() {
	select {
	case b.kick <- struct{}{}:
	default:
	}
}

// Run relays commands until ctx is done. It returns early only when the
// device link is gone.
func (b *Bridge) Run(ctx context.Context) error {
	changes := b.subscribe(ctx)
	b.log.Info("bridge started", logx.Bool("change_stream", changes != nil))

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := b.drain(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			b.log.Info("bridge stopped")
			return nil
		case <-ticker.C:
			if changes == nil {
				changes = b.subscribe(ctx)
			}
		case <-b.kick:
		case _, ok := <-changes:
			if !ok {
				b.log.Warn("change stream closed, polling until it is back")
				changes = nil
			}
		}
	}
}

func (b *Bridge) subscribe(ctx context.Context) <-chan changefeed.Change {
	if b.changes == nil || ctx.Err() != nil {
		return nil
	}
	ch, err := b.changes.Subscribe(ctx, changefeed.Filter{DeviceID: b.cfg.DeviceID, Status: models.StatusPending})
	if err != nil {
		b.log.Warn("change stream unavailable", logx.Err(err))
		return nil
	}
	return ch
}

// drain processes pending commands until none is actionable.
func (b *Bridge) drain(ctx context.Context) error {
	for ctx.Err() == nil {
		pending, err := b.queue.ListPending(ctx, b.cfg.DeviceID)
		if err != nil {
			b.log.Warn("list pending failed", logx.Err(err))
			return nil
		}
		next := b.next(pending)
		if next == nil {
			return nil
		}
		advanced, err := b.process(ctx, *next)
		if err != nil || !advanced {
			return err
		}
	}
	return nil
}

// next picks the first command that can run now. While paused, feeds wait
// but control commands still go through.
func (b *Bridge) next(pending []models.Command) *models.Command {
	for i := range pending {
		if pending[i].Kind == models.CommandFeed && b.paused.Load() {
			continue
		}
		return &pending[i]
	}
	return nil
}

// process runs one command. It reports false when the command could not be
// moved along and the rescan should wait for the next trigger.
func (b *Bridge) process(ctx context.Context, cmd models.Command) (bool, error) {
	log := b.log.With(logx.String("command_id", cmd.ID), logx.String("kind", string(cmd.Kind)))

	if cmd.Kind == models.CommandFeed {
		if err := b.limiter.Wait(ctx); err != nil {
			return false, nil
		}
	}
	if _, err := b.queue.UpdateStatus(ctx, cmd.ID, models.StatusDelivered, ""); err != nil {
		if errors.Is(err, errs.State) {
			log.Debug("command moved on before delivery", logx.Err(err))
			return true, nil
		}
		log.Warn("mark delivered failed", logx.Err(err))
		return false, nil
	}

	switch cmd.Kind {
	case models.CommandPause:
		b.paused.Store(true)
		log.Info("feeds paused")
		b.finish(ctx, log, cmd, nil)
		return true, nil
	case models.CommandResume:
		b.paused.Store(false)
		log.Info("feeds resumed")
		b.finish(ctx, log, cmd, nil)
		return true, nil
	}

	started := time.Now()
	res, err := b.feeder.Dispense(ctx, cmd.Kind)
	elapsed := time.Since(started)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("bridge stopped before completion: %w", err)
		}
		b.metrics.Dispense("failed", elapsed)
		b.finish(ctx, log, cmd, err)
		if errors.Is(err, device.ErrClosed) {
			return false, fmt.Errorf("device %s: %w", b.feeder.Name(), err)
		}
		return true, nil
	}
	b.metrics.Dispense("executed", elapsed)
	log.Info("feed complete", logx.Duration("elapsed", res.Elapsed), logx.Int("lines", len(res.Lines)))
	b.finish(ctx, log, cmd, nil)
	return true, nil
}

// finish stamps the terminal status. It runs even when ctx is done so a
// delivered command is not left dangling on shutdown.
func (b *Bridge) finish(ctx context.Context, log logx.Logger, cmd models.Command, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	status, msg := models.StatusExecuted, ""
	if cause != nil {
		status, msg = models.StatusFailed, cause.Error()
	}
	_, err := b.queue.UpdateStatus(ctx, cmd.ID, status, msg)

	b.mu.Lock()
	defer b.mu.Unlock()
	if cause != nil {
		b.failed++
		b.lastErr = msg
		log.Warn("command failed", logx.Err(cause))
	} else {
		b.executed++
	}
	if err != nil {
		log.Error("status write-back failed", logx.String("status", string(status)), logx.Err(err))
	}
}

// GetStats returns relay counters.
func (b *Bridge) GetStats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	stats := map[string]interface{}{
		"device_id": b.cfg.DeviceID,
		"paused":    b.paused.Load(),
		"executed":  b.executed,
		"failed":    b.failed,
	}
	if b.lastErr != "" {
		stats["last_error"] = b.lastErr
	}
	return stats
}
