// Package controlplane provides the HTTP API and service layer for the feeder.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fentz26/petfeeder/internal/audit"
	"github.com/fentz26/petfeeder/internal/auth"
	"github.com/fentz26/petfeeder/internal/changefeed"
	"github.com/fentz26/petfeeder/internal/errs"
	"github.com/fentz26/petfeeder/internal/models"
	"github.com/fentz26/petfeeder/internal/queue"
	"github.com/fentz26/petfeeder/internal/store"
)

// MaxWait bounds how long a caller may block on a command.
const MaxWait = 60 * time.Second

const waitPoll = 500 * time.Millisecond

// StatsSource reports the state of a background loop.
type StatsSource interface {
	GetStats() map[string]interface{}
}

// Options carries optional collaborators.
type Options struct {
	// Changes lets WaitCommand react to status changes instead of polling.
	Changes   changefeed.Subscriber
	Scheduler StatsSource
	Audit     audit.Recorder
}

// Service provides the control plane business logic.
type Service struct {
	store     *store.Store
	queue     *queue.Manager
	accounts  auth.Provider
	changes   changefeed.Subscriber
	scheduler StatsSource
	pdr       audit.Recorder
}

// NewService creates a new control plane service.
func NewService(s *store.Store, q *queue.Manager, accounts auth.Provider, opts Options) *Service {
	svc := &Service{
		store:     s,
		queue:     q,
		accounts:  accounts,
		changes:   opts.Changes,
		scheduler: opts.Scheduler,
		pdr:       opts.Audit,
	}
	if svc.pdr == nil {
		svc.pdr = audit.Nop{}
	}
	return svc
}

// --- Command Operations ---

// FeedNow queues a manual feed.
func (s *Service) FeedNow(ctx context.Context, deviceID string, grams int, petID string) (*models.Command, error) {
	return s.queue.EnqueueFeed(ctx, deviceID, grams, petID)
}

// Pause holds feeds on a device until Resume.
func (s *Service) Pause(ctx context.Context, deviceID string) (*models.Command, error) {
	return s.queue.EnqueuePause(ctx, deviceID)
}

// Resume releases a paused device.
func (s *Service) Resume(ctx context.Context, deviceID string) (*models.Command, error) {
	return s.queue.EnqueueResume(ctx, deviceID)
}

// GetCommand retrieves a command by ID.
func (s *Service) GetCommand(ctx context.Context, id string) (*models.Command, error) {
	return s.queue.Get(ctx, id)
}

// ListCommands returns recent commands, newest first.
func (s *Service) ListCommands(ctx context.Context, f store.CommandFilter) ([]models.Command, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, errs.Errorf(errs.KindValidation, "controlplane.ListCommands", "Unknown status %s", f.Status)
	}
	if f.Limit <= 0 {
		f.Limit = queue.DefaultHistoryLimit
	}
	cmds, err := s.store.ListCommands(ctx, f)
	if err != nil {
		return nil, errs.E(errs.KindStore, "controlplane.ListCommands", "", err)
	}
	return cmds, nil
}

// CancelCommand withdraws a command that has not been delivered.
func (s *Service) CancelCommand(ctx context.Context, id string) (*models.Command, error) {
	return s.queue.Cancel(ctx, id)
}

// UpdateCommandStatus is the write-back used by bridges on other hosts.
func (s *Service) UpdateCommandStatus(ctx context.Context, id string, status models.CommandStatus, errMsg string) (*models.Command, error) {
	return s.queue.UpdateStatus(ctx, id, status, errMsg)
}

// WaitCommand returns the command once it is terminal or timeout passes,
// whichever comes first. A timed-out wait is not an error.
func (s *Service) WaitCommand(ctx context.Context, id string, timeout time.Duration) (*models.Command, error) {
	cmd, err := s.queue.Get(ctx, id)
	if err != nil || cmd.Status.IsTerminal() || timeout <= 0 {
		return cmd, err
	}
	if timeout > MaxWait {
		timeout = MaxWait
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var changes <-chan changefeed.Change
	if s.changes != nil {
		changes, _ = s.changes.Subscribe(wctx, changefeed.Filter{DeviceID: cmd.DeviceID})
	}
	ticker := time.NewTicker(waitPoll)
	defer ticker.Stop()

	for {
		select {
		case <-wctx.Done():
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return cmd, nil
		case c, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if c.Command.ID != id {
				continue
			}
		case <-ticker.C:
		}
		latest, err := s.queue.Get(wctx, id)
		if err != nil {
			if wctx.Err() != nil {
				continue
			}
			return nil, err
		}
		cmd = latest
		if cmd.Status.IsTerminal() {
			return cmd, nil
		}
	}
}

// --- Schedule Operations ---

// CreateSchedule validates and stores a schedule for the signed-in account.
func (s *Service) CreateSchedule(ctx context.Context, sch *models.Schedule) (*models.Schedule, error) {
	const op = "controlplane.CreateSchedule"
	accountID, err := s.accounts.AccountID(ctx)
	if err != nil {
		return nil, err
	}
	sch.AccountID = accountID
	sch.Normalize()
	if err := sch.Validate(); err != nil {
		return nil, errs.E(errs.KindValidation, op, err.Error(), nil)
	}
	if err := s.store.CreateSchedule(ctx, sch); err != nil {
		return nil, errs.E(errs.KindStore, op, "", err)
	}
	s.pdr.Record(ctx, audit.ActionScheduleCreate, map[string]any{"device_id": sch.DeviceID, "times": sch.FeedingTimes}, audit.OutcomeSuccess, "", sch.ID)
	return sch, nil
}

// ListSchedules returns the account's schedules.
func (s *Service) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	accountID, err := s.accounts.AccountID(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.store.ListSchedules(ctx, accountID)
	if err != nil {
		return nil, errs.E(errs.KindStore, "controlplane.ListSchedules", "", err)
	}
	return list, nil
}

// SetScheduleActive pauses or re-activates a schedule.
func (s *Service) SetScheduleActive(ctx context.Context, id string, active bool) (*models.Schedule, error) {
	const op = "controlplane.SetScheduleActive"
	sch, err := s.ownSchedule(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if active && len(sch.DaysOfWeek) == 0 {
		return nil, errs.E(errs.KindValidation, op, "Pick at least one day", nil)
	}
	if err := s.store.SetScheduleActive(ctx, id, active); err != nil {
		return nil, s.scheduleErr(op, err)
	}
	s.pdr.Record(ctx, audit.ActionScheduleToggle, map[string]any{"id": id, "active": active}, audit.OutcomeSuccess, "", id)
	return s.store.GetSchedule(ctx, id)
}

// DeleteSchedule removes a schedule. Slots it already fired today stay in
// the ledger.
func (s *Service) DeleteSchedule(ctx context.Context, id string) error {
	const op = "controlplane.DeleteSchedule"
	if _, err := s.ownSchedule(ctx, op, id); err != nil {
		return err
	}
	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return s.scheduleErr(op, err)
	}
	s.pdr.Record(ctx, audit.ActionScheduleDelete, map[string]string{"id": id}, audit.OutcomeSuccess, "", id)
	return nil
}

func (s *Service) ownSchedule(ctx context.Context, op, id string) (*models.Schedule, error) {
	accountID, err := s.accounts.AccountID(ctx)
	if err != nil {
		return nil, err
	}
	sch, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, s.scheduleErr(op, err)
	}
	if sch.AccountID != accountID {
		return nil, errs.Errorf(errs.KindNotFound, op, "schedule %s", id)
	}
	return sch, nil
}

func (s *Service) scheduleErr(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return errs.E(errs.KindNotFound, op, "", err)
	}
	return errs.E(errs.KindStore, op, "", err)
}

// --- History ---

// ListEvents returns the account's feeding history, newest first.
func (s *Service) ListEvents(ctx context.Context, deviceID string, limit int) ([]models.FeedingEvent, error) {
	accountID, err := s.accounts.AccountID(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = queue.DefaultHistoryLimit
	}
	events, err := s.store.ListFeedingEvents(ctx, store.EventFilter{AccountID: accountID, DeviceID: deviceID, Limit: limit})
	if err != nil {
		return nil, errs.E(errs.KindStore, "controlplane.ListEvents", "", err)
	}
	return events, nil
}

// ListDecisions returns the audit trail of a command.
func (s *Service) ListDecisions(ctx context.Context, commandID string, limit int) ([]models.PDREntry, error) {
	entries, err := s.store.ListPDR(ctx, commandID, limit)
	if err != nil {
		return nil, errs.E(errs.KindStore, "controlplane.ListDecisions", "", err)
	}
	return entries, nil
}

// SchedulerStats reports the local scheduler loop, or nil when this process
// does not run one.
func (s *Service) SchedulerStats() map[string]interface{} {
	if s.scheduler == nil {
		return nil
	}
	return s.scheduler.GetStats()
}

// Ping checks the database.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}
