// Package janitor runs periodic queue maintenance on cron specs.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fentz26/petfeeder/internal/errs"
	"github.com/fentz26/petfeeder/internal/logx"
	"github.com/fentz26/petfeeder/internal/models"
	"github.com/robfig/cron/v3"
)

// ExpiredMessage is the error message stamped on commands that never reached
// a device.
const ExpiredMessage = "expired before delivery"

// Config defines the janitor configuration.
type Config struct {
	Enabled bool `yaml:"enabled"`
	// ExpireSpec is the cron spec for expiring stale PENDING commands.
	ExpireSpec string `yaml:"expire_spec"`
	// PendingTTL is how long a command may stay PENDING.
	PendingTTL time.Duration `yaml:"pending_ttl"`
	// SweepSpec is the cron spec for deleting expired lease rows.
	SweepSpec string `yaml:"sweep_spec"`
	Timezone  string `yaml:"timezone"`
	// JobTimeout bounds one run of either job.
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// DefaultConfig returns the default janitor configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:    true,
		ExpireSpec: "@every 1m",
		PendingTTL: 15 * time.Minute,
		SweepSpec:  "@every 5m",
		JobTimeout: 30 * time.Second,
	}
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks both cron specs and the TTL.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.PendingTTL <= 0 {
		return fmt.Errorf("janitor pending_ttl must be positive, got %s", c.PendingTTL)
	}
	if _, err := parser.Parse(c.ExpireSpec); err != nil {
		return fmt.Errorf("janitor expire_spec: %w", err)
	}
	if _, err := parser.Parse(c.SweepSpec); err != nil {
		return fmt.Errorf("janitor sweep_spec: %w", err)
	}
	return nil
}

// Store is the persistence the janitor reads and sweeps.
type Store interface {
	ListStalePending(ctx context.Context, cutoff time.Time) ([]models.Command, error)
	SweepExpiredLocks(ctx context.Context) (int64, error)
}

// Queue applies the FAILED transition so events, audit and alerts follow.
type Queue interface {
	Expire(ctx context.Context, id, reason string) (*models.Command, error)
}

// Janitor expires stale commands and sweeps dead leases.
type Janitor struct {
	cfg   Config
	store Store
	queue Queue
	log   logx.Logger
	now   func() time.Time

	mu sync.Mutex
	c  *cron.Cron
}

// New creates a janitor. now may be nil.
func New(cfg Config, st Store, q Queue, log logx.Logger, now func() time.Time) *Janitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if now == nil {
		now = time.Now
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultConfig().JobTimeout
	}
	return &Janitor{cfg: cfg, store: st, queue: q, log: log.With(logx.String("component", "janitor")), now: now}
}

// Start registers both jobs and starts the cron runner. Jobs run with a
// context derived from ctx.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.c != nil || !j.cfg.Enabled {
		return nil
	}
	if err := j.cfg.Validate(); err != nil {
		return errs.E(errs.KindValidation, "janitor.Start", "", err)
	}
	loc := time.Local
	if j.cfg.Timezone != "" {
		l, err := time.LoadLocation(j.cfg.Timezone)
		if err != nil {
			return fmt.Errorf("janitor timezone: %w", err)
		}
		loc = l
	}

	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(j.cfg.ExpireSpec, j.job(ctx, "expire", func(ctx context.Context) error {
		_, err := j.ExpireStale(ctx)
		return err
	})); err != nil {
		return fmt.Errorf("register expire job: %w", err)
	}
	if _, err := c.AddFunc(j.cfg.SweepSpec, j.job(ctx, "sweep", func(ctx context.Context) error {
		_, err := j.SweepLocks(ctx)
		return err
	})); err != nil {
		return fmt.Errorf("register sweep job: %w", err)
	}
	c.Start()
	j.c = c
	j.log.Info("janitor started", logx.String("expire", j.cfg.ExpireSpec), logx.String("sweep", j.cfg.SweepSpec))
	return nil
}

// Stop stops the runner and waits for a running job.
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.c
	j.c = nil
	j.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	j.log.Info("janitor stopped")
}

func (j *Janitor) job(parent context.Context, name string, run func(ctx context.Context) error) func() {
	return func() {
		if parent.Err() != nil {
			return
		}
		ctx, cancel := context.WithTimeout(parent, j.cfg.JobTimeout)
		defer cancel()
		if err := run(ctx); err != nil {
			j.log.Warn("janitor job failed", logx.String("job", name), logx.Err(err))
		}
	}
}

// ExpireStale marks PENDING commands older than PendingTTL as FAILED and
// reports how many it expired. Commands that moved on in the meantime are
// left alone.
func (j *Janitor) ExpireStale(ctx context.Context) (int, error) {
	cutoff := j.now().Add(-j.cfg.PendingTTL)
	stale, err := j.store.ListStalePending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale commands: %w", err)
	}
	var (
		n    int
		errl []error
	)
	for _, cmd := range stale {
		_, err := j.queue.Expire(ctx, cmd.ID, ExpiredMessage)
		switch {
		case err == nil:
			n++
			j.log.Info("expired stale command",
				logx.String("command_id", cmd.ID),
				logx.String("device_id", cmd.DeviceID),
				logx.Time("created_at", cmd.CreatedAt),
			)
		case errors.Is(err, errs.InvalidState):
		default:
			errl = append(errl, fmt.Errorf("expire %s: %w", cmd.ID, err))
		}
	}
	return n, errors.Join(errl...)
}

// SweepLocks deletes expired lease rows.
func (j *Janitor) SweepLocks(ctx context.Context) (int64, error) {
	n, err := j.store.SweepExpiredLocks(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep locks: %w", err)
	}
	if n > 0 {
		j.log.Debug("swept expired locks", logx.Int64("count", n))
	}
	return n, nil
}
