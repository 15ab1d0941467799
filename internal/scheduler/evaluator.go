package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fentz26/petfeeder/internal/auth"
	"github.com/fentz26/petfeeder/internal/errs"
	"github.com/fentz26/petfeeder/internal/ledger"
	"github.com/fentz26/petfeeder/internal/logx"
	"github.com/fentz26/petfeeder/internal/metrics"
	"github.com/fentz26/petfeeder/internal/models"
	"github.com/fentz26/petfeeder/internal/notify"
	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/sync/errgroup"
)

// ScheduleSource loads the schedules to evaluate.
type ScheduleSource interface {
	ListActiveSchedules(ctx context.Context, accountID string) ([]models.Schedule, error)
}

// Enqueuer queues a feed for a due slot.
type Enqueuer interface {
	EnqueueFeed(ctx context.Context, deviceID string, grams int, petID string) (*models.Command, error)
}

// Ledger records which slots fired today.
type Ledger interface {
	Reload(ctx context.Context) error
	HasFiredToday(key, today string) bool
	MarkFired(ctx context.Context, key, date string) error
	PruneStale(ctx context.Context, today string) (int, error)
}

// Options carries the evaluator's optional collaborators.
type Options struct {
	Log      logx.Logger
	Metrics  metrics.Collector
	Notifier notify.Notifier
	Now      func() time.Time
}

// TickResult summarizes one evaluation.
type TickResult struct {
	Due      int `json:"due"`
	Enqueued int `json:"enqueued"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Invalid  int `json:"invalid"`
	Pruned   int `json:"pruned"`
}

type settings struct {
	window int
	loc    *time.Location
	limit  int
}

// Evaluator decides which slots are due and enqueues each at most once per
// day.
type Evaluator struct {
	accounts  auth.Provider
	schedules ScheduleSource
	enqueuer  Enqueuer
	ledger    Ledger
	keys      *ledger.KeyMutex
	settings  atomic.Pointer[settings]

	// alerted holds the date a slot's failure was last reported.
	alerted *xsync.Map[string, string]

	log      logx.Logger
	metrics  metrics.Collector
	notifier notify.Notifier
	now      func() time.Time
}

// NewEvaluator creates an evaluator.
func NewEvaluator(accounts auth.Provider, src ScheduleSource, enq Enqueuer, l Ledger, cfg *Config, opts Options) (*Evaluator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	e := &Evaluator{
		accounts:  accounts,
		schedules: src,
		enqueuer:  enq,
		ledger:    l,
		keys:      ledger.NewKeyMutex(),
		alerted:   xsync.NewMap[string, string](),
		log:       opts.Log,
		metrics:   opts.Metrics,
		notifier:  opts.Notifier,
		now:       opts.Now,
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	e.log = e.log.With(logx.String("component", "evaluator"))
	if e.metrics == nil {
		e.metrics = metrics.NewNop()
	}
	if e.notifier == nil {
		e.notifier = notify.Nop{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if err := e.Apply(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// Apply swaps in the window, timezone and concurrency of cfg. A tick already
// running keeps the settings it started with.
func (e *Evaluator) Apply(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return errs.E(errs.KindValidation, "scheduler.Apply", "", err)
	}
	loc, _ := cfg.Location()
	e.settings.Store(&settings{window: cfg.windowMinutes(), loc: loc, limit: cfg.MaxConcurrency})
	return nil
}

// Tick runs one evaluation. Only schedule loading and ledger reload failures
// are returned; per-slot failures are logged and counted.
func (e *Evaluator) Tick(ctx context.Context) (TickResult, error) {
	const op = "scheduler.Tick"
	started := time.Now()
	set := e.settings.Load()
	now := e.now().In(set.loc)
	today := models.DateKey(now)

	var res TickResult
	accountID, err := e.accounts.AccountID(ctx)
	if err != nil {
		return res, err
	}
	if err := e.ledger.Reload(ctx); err != nil {
		return res, errs.E(errs.KindStore, op, "reload ledger", err)
	}
	schedules, err := e.schedules.ListActiveSchedules(ctx, accountID)
	if err != nil {
		return res, errs.E(errs.KindStore, op, "load schedules", err)
	}

	slots, bad := DueSlots(schedules, now, set.window)
	for _, err := range bad {
		e.log.Warn("skipping malformed slot", logx.Err(err))
	}
	res.Due = len(slots)
	res.Invalid = len(bad)

	var enqueued, skipped, failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(set.limit)
	for _, slot := range slots {
		g.Go(func() error {
			switch e.fire(ctx, slot, now, today) {
			case fired:
				enqueued.Add(1)
			case alreadyFired:
				skipped.Add(1)
			case notFired:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	res.Enqueued = int(enqueued.Load())
	res.Skipped = int(skipped.Load())
	res.Failed = int(failed.Load())

	pruned, err := e.ledger.PruneStale(ctx, today)
	if err != nil {
		e.log.Warn("ledger prune failed", logx.Err(err))
	}
	res.Pruned = pruned
	e.alerted.Range(func(key, date string) bool {
		if date != today {
			e.alerted.Delete(key)
		}
		return true
	})

	e.metrics.TickCompleted(time.Since(started), res.Due, res.Enqueued, res.Failed)
	if res.Due > 0 {
		e.log.Info("tick complete",
			logx.Int("due", res.Due),
			logx.Int("enqueued", res.Enqueued),
			logx.Int("skipped", res.Skipped),
			logx.Int("failed", res.Failed),
		)
	}
	return res, nil
}

type outcome int

const (
	notFired outcome = iota
	fired
	alreadyFired
)

func (e *Evaluator) fire(ctx context.Context, slot Slot, now time.Time, today string) outcome {
	unlock := e.keys.Lock(slot.Key)
	defer unlock()

	if e.ledger.HasFiredToday(slot.Key, today) {
		return alreadyFired
	}
	log := e.log.With(
		logx.String("schedule_id", slot.ScheduleID),
		logx.String("slot", slot.Time),
		logx.String("device_id", slot.DeviceID),
	)
	cmd, err := e.enqueuer.EnqueueFeed(ctx, slot.DeviceID, slot.Grams, slot.PetID)
	if err != nil {
		log.Warn("scheduled feed not queued, retrying next tick", logx.Err(err))
		e.alertOnce(ctx, slot, now, today, err)
		return notFired
	}
	if err := e.ledger.MarkFired(ctx, slot.Key, today); err != nil {
		// Kept as unsaved; the next persist retries it.
		log.Error("slot queued but ledger not persisted", logx.String("command_id", cmd.ID), logx.Err(err))
	}
	log.Info("scheduled feed queued", logx.String("command_id", cmd.ID), logx.Int("grams", slot.Grams))
	return fired
}

func (e *Evaluator) alertOnce(ctx context.Context, slot Slot, now time.Time, today string, cause error) {
	if prev, loaded := e.alerted.LoadOrStore(slot.Key, today); loaded {
		if prev == today {
			return
		}
		e.alerted.Store(slot.Key, today)
	}
	if err := e.notifier.Notify(ctx, notify.DispatchFailed(slot.ScheduleID, slot.Time, slot.DeviceID, cause, now)); err != nil {
		e.log.Warn("alert not sent", logx.Err(err))
	}
}
