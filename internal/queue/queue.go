// Package queue turns feeding and control intents into durable, idempotent
// command records and drives them through their lifecycle.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fentz26/petfeeder/internal/audit"
	"github.com/fentz26/petfeeder/internal/auth"
	"github.com/fentz26/petfeeder/internal/changefeed"
	"github.com/fentz26/petfeeder/internal/errs"
	"github.com/fentz26/petfeeder/internal/logx"
	"github.com/fentz26/petfeeder/internal/metrics"
	"github.com/fentz26/petfeeder/internal/models"
	"github.com/fentz26/petfeeder/internal/notify"
	"github.com/fentz26/petfeeder/internal/store"
	"github.com/google/uuid"
)

// DefaultHistoryLimit bounds History when no limit is given.
const DefaultHistoryLimit = 50

// maxCASAttempts bounds re-reads when a status update races another writer.
const maxCASAttempts = 3

// Store is the persistence the queue needs.
type Store interface {
	InsertCommand(ctx context.Context, cmd *models.Command) error
	GetCommand(ctx context.Context, id string) (*models.Command, error)
	UpdateCommandStatus(ctx context.Context, id string, from, to models.CommandStatus, errMsg string) (*models.Command, error)
	ListPendingCommands(ctx context.Context, deviceID string) ([]models.Command, error)
	ListCommands(ctx context.Context, f store.CommandFilter) ([]models.Command, error)
	InsertFeedingEvent(ctx context.Context, ev *models.FeedingEvent) error
	UpdateFeedingEventByCommand(ctx context.Context, commandID string, status models.EventStatus) error
}

// Options carries the optional collaborators. Nil fields get no-op defaults.
type Options struct {
	Changes  changefeed.Publisher
	Audit    audit.Recorder
	Metrics  metrics.Collector
	Notifier notify.Notifier
	Log      logx.Logger
	Now      func() time.Time
}

// Manager is the command queue.
type Manager struct {
	store    Store
	accounts auth.Provider
	changes  changefeed.Publisher
	audit    audit.Recorder
	metrics  metrics.Collector
	notifier notify.Notifier
	log      logx.Logger
	now      func() time.Time
}

// New creates a queue manager.
func New(st Store, accounts auth.Provider, opts Options) *Manager {
	m := &Manager{
		store:    st,
		accounts: accounts,
		changes:  opts.Changes,
		audit:    opts.Audit,
		metrics:  opts.Metrics,
		notifier: opts.Notifier,
		log:      opts.Log,
		now:      opts.Now,
	}
	if m.changes == nil {
		m.changes = changefeed.Nop{}
	}
	if m.audit == nil {
		m.audit = audit.Nop{}
	}
	if m.metrics == nil {
		m.metrics = metrics.NewNop()
	}
	if m.notifier == nil {
		m.notifier = notify.Nop{}
	}
	if m.log.IsZero() {
		m.log = logx.Nop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.log = m.log.With(logx.String("component", "queue"))
	return m
}

// NewToken returns an idempotency token: a millisecond timestamp followed by
// a random UUID.
func NewToken(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString())
}

// EnqueueFeed queues a FEED command for deviceID and writes the companion
// PENDING feeding event.
func (m *Manager) EnqueueFeed(ctx context.Context, deviceID string, grams int, petID string) (*models.Command, error) {
	const op = "queue.EnqueueFeed"

	if strings.TrimSpace(deviceID) == "" {
		return nil, errs.Errorf(errs.KindValidation, op, "device is required")
	}
	if grams < models.MinPortionGrams || grams > models.MaxPortionGrams {
		return nil, errs.Errorf(errs.KindValidation, op, "Invalid range (%d-%dg)", models.MinPortionGrams, models.MaxPortionGrams)
	}
	payload, err := json.Marshal(models.FeedPayload{TargetGrams: grams, PetID: petID})
	if err != nil {
		return nil, errs.E(errs.KindValidation, op, "payload", err)
	}

	cmd, err := m.insert(ctx, op, deviceID, models.CommandFeed, payload, models.PriorityFeed)
	if err != nil {
		return nil, err
	}

	ev := &models.FeedingEvent{
		AccountID:   cmd.AccountID,
		DeviceID:    deviceID,
		CommandID:   cmd.ID,
		PetID:       petID,
		TargetGrams: grams,
		Status:      models.EventPending,
		Timestamp:   cmd.CreatedAt,
	}
	// The command is already durable; failing here would make a retrying
	// caller queue a second feed.
	if err := m.store.InsertFeedingEvent(ctx, ev); err != nil {
		m.log.Warn("feeding event not recorded", logx.String("command_id", cmd.ID), logx.Err(err))
		m.record(ctx, audit.ActionEvent, map[string]string{
			"command_id":   cmd.ID,
			"device_id":    deviceID,
			"target_grams": strconv.Itoa(grams),
		}, audit.OutcomeError, err.Error())
	}
	return cmd, nil
}

// EnqueuePause queues a PAUSE command, which outranks pending feeds.
func (m *Manager) EnqueuePause(ctx context.Context, deviceID string) (*models.Command, error) {
	return m.enqueueControl(ctx, "queue.EnqueuePause", deviceID, models.CommandPause)
}

// EnqueueResume queues a RESUME command.
func (m *Manager) EnqueueResume(ctx context.Context, deviceID string) (*models.Command, error) {
	return m.enqueueControl(ctx, "queue.EnqueueResume", deviceID, models.CommandResume)
}

func (m *Manager) enqueueControl(ctx context.Context, op, deviceID string, kind models.CommandKind) (*models.Command, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, errs.Errorf(errs.KindValidation, op, "device is required")
	}
	return m.insert(ctx, op, deviceID, kind, nil, models.PriorityControl)
}

func (m *Manager) insert(ctx context.Context, op, deviceID string, kind models.CommandKind, payload json.RawMessage, priority int) (*models.Command, error) {
	accountID, err := m.accounts.AccountID(ctx)
	if err != nil {
		if errs.KindOf(err) == errs.KindAuth {
			return nil, err
		}
		return nil, errs.E(errs.KindAuth, op, "", err)
	}

	now := m.now()
	cmd := &models.Command{
		AccountID:        accountID,
		DeviceID:         deviceID,
		Kind:             kind,
		Payload:          payload,
		Status:           models.StatusPending,
		IdempotencyToken: NewToken(now),
		Priority:         priority,
		CreatedAt:        now,
	}
	if err := m.store.InsertCommand(ctx, cmd); err != nil {
		m.record(ctx, audit.ActionEnqueue, cmd, audit.OutcomeError, err.Error())
		return nil, errs.E(errs.KindStore, op, "", err)
	}

	m.metrics.CommandEnqueued(string(kind))
	m.record(ctx, audit.ActionEnqueue, cmd, audit.OutcomeSuccess, "")
	m.publish(ctx, changefeed.OpInsert, cmd)
	m.log.Info("command queued",
		logx.String("command_id", cmd.ID),
		logx.String("device_id", deviceID),
		logx.String("kind", string(kind)),
	)
	return cmd, nil
}

// UpdateStatus moves a command to status. Illegal moves, including any move
// out of a terminal status, fail with a State error.
func (m *Manager) UpdateStatus(ctx context.Context, id string, status models.CommandStatus, errMsg string) (*models.Command, error) {
	const op = "queue.UpdateStatus"

	for attempt := 1; ; attempt++ {
		cur, err := m.get(ctx, op, id)
		if err != nil {
			return nil, err
		}
		if err := models.ValidateCommandTransition(cur.Status, status); err != nil {
			m.log.Error("rejected command transition",
				logx.String("command_id", id),
				logx.String("from", string(cur.Status)),
				logx.String("to", string(status)),
				logx.Err(err),
			)
			m.record(ctx, audit.ActionStatus, transitionInput(id, cur.Status, status), audit.OutcomeRejected, err.Error())
			return nil, errs.E(errs.KindState, op, "", err)
		}

		updated, err := m.store.UpdateCommandStatus(ctx, id, cur.Status, status, errMsg)
		if errors.Is(err, store.ErrConflict) && attempt < maxCASAttempts {
			continue
		}
		if errors.Is(err, store.ErrConflict) {
			return nil, errs.Errorf(errs.KindState, op, "command %s changed concurrently", id)
		}
		if err != nil {
			return nil, m.storeErr(op, err)
		}

		m.afterTransition(ctx, audit.ActionStatus, cur.Status, updated)
		return updated, nil
	}
}

// Cancel cancels a command that has not reached the device yet.
func (m *Manager) Cancel(ctx context.Context, id string) (*models.Command, error) {
	const op = "queue.Cancel"

	cur, err := m.get(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if cur.Status != models.StatusPending {
		m.record(ctx, audit.ActionCancel, transitionInput(id, cur.Status, models.StatusCancelled), audit.OutcomeRejected, string(cur.Status))
		return nil, invalidState(op, cur.Status)
	}

	updated, err := m.store.UpdateCommandStatus(ctx, id, models.StatusPending, models.StatusCancelled, "")
	if errors.Is(err, store.ErrConflict) {
		// the bridge picked it up in between
		if latest, gerr := m.store.GetCommand(ctx, id); gerr == nil {
			return nil, invalidState(op, latest.Status)
		}
		return nil, errs.Errorf(errs.KindInvalidState, op, "Command can no longer be cancelled")
	}
	if err != nil {
		return nil, m.storeErr(op, err)
	}

	m.afterTransition(ctx, audit.ActionCancel, models.StatusPending, updated)
	return updated, nil
}

// Expire fails a command that is still PENDING with reason. It is the
// janitor's path for commands no bridge picked up in time.
func (m *Manager) Expire(ctx context.Context, id, reason string) (*models.Command, error) {
	const op = "queue.Expire"

	updated, err := m.store.UpdateCommandStatus(ctx, id, models.StatusPending, models.StatusFailed, reason)
	if errors.Is(err, store.ErrConflict) {
		if latest, gerr := m.store.GetCommand(ctx, id); gerr == nil {
			return nil, invalidState(op, latest.Status)
		}
		return nil, errs.Errorf(errs.KindInvalidState, op, "Command can no longer be expired")
	}
	if err != nil {
		return nil, m.storeErr(op, err)
	}

	m.afterTransition(ctx, audit.ActionExpire, models.StatusPending, updated)
	return updated, nil
}

// Get returns one command.
func (m *Manager) Get(ctx context.Context, id string) (*models.Command, error) {
	return m.get(ctx, "queue.Get", id)
}

// ListPending returns the delivery-ordered PENDING commands of a device.
func (m *Manager) ListPending(ctx context.Context, deviceID string) ([]models.Command, error) {
	cmds, err := m.store.ListPendingCommands(ctx, deviceID)
	if err != nil {
		return nil, m.storeErr("queue.ListPending", err)
	}
	return cmds, nil
}

// History returns recent commands of a device, newest first.
func (m *Manager) History(ctx context.Context, deviceID string, limit int) ([]models.Command, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	cmds, err := m.store.ListCommands(ctx, store.CommandFilter{DeviceID: deviceID, Limit: limit})
	if err != nil {
		return nil, m.storeErr("queue.History", err)
	}
	return cmds, nil
}

func (m *Manager) get(ctx context.Context, op, id string) (*models.Command, error) {
	cmd, err := m.store.GetCommand(ctx, id)
	if err != nil {
		return nil, m.storeErr(op, err)
	}
	return cmd, nil
}

func (m *Manager) afterTransition(ctx context.Context, action string, from models.CommandStatus, cmd *models.Command) {
	m.metrics.CommandTransition(string(cmd.Status))
	m.record(ctx, action, transitionInput(cmd.ID, from, cmd.Status), audit.OutcomeSuccess, cmd.ErrorMessage)
	m.publish(ctx, changefeed.OpUpdate, cmd)

	if cmd.Kind == models.CommandFeed {
		var evStatus models.EventStatus
		switch cmd.Status {
		case models.StatusExecuted:
			evStatus = models.EventSuccess
		case models.StatusFailed, models.StatusCancelled:
			evStatus = models.EventFailed
		}
		if evStatus != "" {
			if err := m.store.UpdateFeedingEventByCommand(ctx, cmd.ID, evStatus); err != nil && !errors.Is(err, store.ErrNotFound) {
				m.log.Warn("feeding event not updated", logx.String("command_id", cmd.ID), logx.Err(err))
			}
		}
	}

	if cmd.Status == models.StatusFailed {
		if err := m.notifier.Notify(ctx, notify.CommandFailed(*cmd, m.now())); err != nil {
			m.log.Warn("failure alert not sent", logx.String("command_id", cmd.ID), logx.Err(err))
		}
	}

	m.log.Info("command status changed",
		logx.String("command_id", cmd.ID),
		logx.String("from", string(from)),
		logx.String("to", string(cmd.Status)),
	)
}

func (m *Manager) publish(ctx context.Context, op changefeed.Op, cmd *models.Command) {
	if err := m.changes.Publish(ctx, changefeed.Change{Op: op, Command: *cmd, At: m.now()}); err != nil {
		m.log.Warn("change not published", logx.String("command_id", cmd.ID), logx.Err(err))
	}
}

func (m *Manager) record(ctx context.Context, action string, inputs any, outcome, details string) {
	commandID := ""
	switch v := inputs.(type) {
	case *models.Command:
		commandID = v.ID
	case map[string]string:
		commandID = v["command_id"]
	}
	if err := m.audit.Record(ctx, action, inputs, outcome, commandID, details); err != nil {
		m.log.Warn("audit record not written", logx.String("action", action), logx.Err(err))
	}
}

func (m *Manager) storeErr(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return errs.E(errs.KindNotFound, op, "command not found", err)
	}
	return errs.E(errs.KindStore, op, "", err)
}

func transitionInput(id string, from, to models.CommandStatus) map[string]string {
	return map[string]string{"command_id": id, "from": string(from), "to": string(to)}
}

func invalidState(op string, status models.CommandStatus) error {
	return errs.Errorf(errs.KindInvalidState, op, "Command already %s", strings.ToLower(string(status)))
}
