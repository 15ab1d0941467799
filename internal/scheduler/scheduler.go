package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/fentz26/petfeeder/internal/logx"
)

// Gate runs work only while this instance is leader.
type Gate interface {
	TryRun(ctx context.Context, work func(ctx context.Context)) bool
}

// Scheduler is the per-instance loop: every interval it tries to become
// leader and, if it does, runs one evaluation tick.
type Scheduler struct {
	gate  Gate
	eval  *Evaluator
	log   logx.Logger
	reset chan time.Duration

	mu         sync.Mutex
	interval   time.Duration
	attempts   int
	ledTicks   int
	lastTick   time.Time
	lastResult TickResult
	lastErr    string

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. Call Start to begin the loop.
func New(gate Gate, eval *Evaluator, cfg *Config, log logx.Logger) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		gate:     gate,
		eval:     eval,
		log:      log.With(logx.String("component", "scheduler")),
		reset:    make(chan time.Duration, 1),
		interval: cfg.Interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the scheduler loop.
func (sch *Scheduler) Start() {
	sch.wg.Add(1)
	go sch.schedulerLoop()
	sch.log.Info("scheduler started", logx.Duration("interval", sch.currentInterval()))
}

// Stop stops scheduling new attempts and waits for a running tick to finish.
// The lease is released by the gate before Stop returns.
func (sch *Scheduler) Stop() {
	sch.cancel()
	sch.wg.Wait()
	sch.log.Info("scheduler stopped")
}

// Apply updates the interval and evaluator settings without a restart.
func (sch *Scheduler) Apply(cfg *Config) error {
	if err := sch.eval.Apply(cfg); err != nil {
		return err
	}
	sch.mu.Lock()
	changed := sch.interval != cfg.Interval
	sch.interval = cfg.Interval
	sch.mu.Unlock()
	if changed {
		select {
		case <-sch.reset:
		default:
		}
		sch.reset <- cfg.Interval
		sch.log.Info("scheduler interval changed", logx.Duration("interval", cfg.Interval))
	}
	return nil
}

// RunOnce makes a single leadership attempt and reports whether this
// instance evaluated.
func (sch *Scheduler) RunOnce(ctx context.Context) bool {
	sch.mu.Lock()
	sch.attempts++
	sch.mu.Unlock()

	return sch.gate.TryRun(ctx, func(ctx context.Context) {
		res, err := sch.eval.Tick(ctx)
		sch.mu.Lock()
		defer sch.mu.Unlock()
		sch.ledTicks++
		sch.lastTick = time.Now()
		sch.lastResult = res
		sch.lastErr = ""
		if err != nil {
			sch.lastErr = err.Error()
			sch.log.Warn("tick aborted, retrying next round", logx.Err(err))
		}
	})
}

func (sch *Scheduler) schedulerLoop() {
	defer sch.wg.Done()

	sch.RunOnce(sch.ctx)

	ticker := time.NewTicker(sch.currentInterval())
	defer ticker.Stop()

	for {
		select {
		case <-sch.ctx.Done():
			return
		case d := <-sch.reset:
			ticker.Reset(d)
		case <-ticker.C:
			sch.RunOnce(sch.ctx)
		}
	}
}

func (sch *Scheduler) currentInterval() time.Duration {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	return sch.interval
}

// GetStats returns current scheduler statistics.
func (sch *Scheduler) GetStats() map[string]interface{} {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	stats := map[string]interface{}{
		"interval":    sch.interval.String(),
		"attempts":    sch.attempts,
		"led_ticks":   sch.ledTicks,
		"last_result": sch.lastResult,
	}
	if !sch.lastTick.IsZero() {
		stats["last_tick"] = sch.lastTick.UTC().Format(time.RFC3339)
	}
	if sch.lastErr != "" {
		stats["last_error"] = sch.lastErr
	}
	return stats
}
