package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/petfeeder/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newCommand(device, token string, kind models.CommandKind, priority int) *models.Command {
	return &models.Command{
		AccountID:        "acct-1",
		DeviceID:         device,
		Kind:             kind,
		IdempotencyToken: token,
		Priority:         priority,
	}
}

func TestNew(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "feeder.db")
	s, err := New(dbPath)
	require.NoError(t, err)
	defer s.Close()

	assert.FileExists(t, dbPath)
	assert.NoError(t, s.Ping(context.Background()))
	assert.Equal(t, DriverSQLite, s.Driver())
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "mysql"})
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	s := &Store{driver: DriverPostgres}
	assert.Equal(t, "UPDATE t SET a = $1 WHERE id = $2", s.rebind("UPDATE t SET a = ? WHERE id = ?"))

	s.driver = DriverSQLite
	assert.Equal(t, "SELECT ?", s.rebind("SELECT ?"))
}

func TestWithPassword(t *testing.T) {
	assert.Equal(t, "postgres://u@db/feeder?sslmode=disable&password=p%40ss",
		withPassword("postgres://u@db/feeder?sslmode=disable", "p@ss"))
	assert.Equal(t, "host=db user=u password='secret'", withPassword("host=db user=u", "secret"))
}

func TestScheduleCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sch := &models.Schedule{
		AccountID:    "acct-1",
		DeviceID:     "dev-1",
		PetID:        "pet-1",
		FeedingTimes: []models.FeedingTime{{Time: "08:00", PortionGrams: 50}, {Time: "18:30", PortionGrams: 40}},
		DaysOfWeek:   []int{1, 2, 3, 4, 5},
		Active:       true,
	}
	require.NoError(t, s.CreateSchedule(ctx, sch))
	assert.NotEmpty(t, sch.ID)
	assert.Equal(t, models.DefaultScheduleName, sch.Name)

	got, err := s.GetSchedule(ctx, sch.ID)
	require.NoError(t, err)
	assert.Equal(t, sch.FeedingTimes, got.FeedingTimes)
	assert.Equal(t, sch.DaysOfWeek, got.DaysOfWeek)
	assert.Equal(t, "pet-1", got.PetID)
	assert.True(t, got.Active)

	paused := &models.Schedule{AccountID: "acct-1", DeviceID: "dev-2", Name: "Night",
		FeedingTimes: []models.FeedingTime{{Time: "22:00", PortionGrams: 20}}}
	require.NoError(t, s.CreateSchedule(ctx, paused))
	other := &models.Schedule{AccountID: "acct-2", DeviceID: "dev-3", Active: true,
		FeedingTimes: []models.FeedingTime{{Time: "07:00", PortionGrams: 20}}, DaysOfWeek: []int{0}}
	require.NoError(t, s.CreateSchedule(ctx, other))

	all, err := s.ListSchedules(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := s.ListActiveSchedules(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, sch.ID, active[0].ID)

	require.NoError(t, s.SetScheduleActive(ctx, sch.ID, false))
	active, err = s.ListActiveSchedules(ctx, "acct-1")
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, s.DeleteSchedule(ctx, sch.ID))
	_, err = s.GetSchedule(ctx, sch.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteSchedule(ctx, sch.ID), ErrNotFound)
	assert.ErrorIs(t, s.SetScheduleActive(ctx, "missing", true), ErrNotFound)
}

func TestInsertCommandUniqueToken(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	cmd := newCommand("dev-1", "tok-1", models.CommandFeed, models.PriorityFeed)
	cmd.Payload = json.RawMessage(`{"target_grams":50}`)
	require.NoError(t, s.InsertCommand(ctx, cmd))
	assert.Equal(t, models.StatusPending, cmd.Status)

	dup := newCommand("dev-1", "tok-1", models.CommandFeed, models.PriorityFeed)
	assert.ErrorIs(t, s.InsertCommand(ctx, dup), ErrDuplicateToken)

	got, err := s.GetCommandByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, cmd.ID, got.ID)
	assert.JSONEq(t, `{"target_grams":50}`, string(got.Payload))
	assert.Nil(t, got.DeliveredAt)

	_, err = s.GetCommand(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateCommandStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	cmd := newCommand("dev-1", "tok-1", models.CommandFeed, models.PriorityFeed)
	require.NoError(t, s.InsertCommand(ctx, cmd))

	got, err := s.UpdateCommandStatus(ctx, cmd.ID, models.StatusPending, models.StatusDelivered, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, got.Status)
	require.NotNil(t, got.DeliveredAt)
	assert.Nil(t, got.ExecutedAt)

	// stale from-status loses
	_, err = s.UpdateCommandStatus(ctx, cmd.ID, models.StatusPending, models.StatusCancelled, "")
	assert.ErrorIs(t, err, ErrConflict)

	got, err = s.UpdateCommandStatus(ctx, cmd.ID, models.StatusDelivered, models.StatusExecuted, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuted, got.Status)
	assert.NotNil(t, got.ExecutedAt)

	_, err = s.UpdateCommandStatus(ctx, "missing", models.StatusPending, models.StatusDelivered, "")
	assert.ErrorIs(t, err, ErrNotFound)

	failed := newCommand("dev-1", "tok-2", models.CommandFeed, models.PriorityFeed)
	require.NoError(t, s.InsertCommand(ctx, failed))
	got, err = s.UpdateCommandStatus(ctx, failed.ID, models.StatusPending, models.StatusFailed, "serial port closed")
	require.NoError(t, err)
	assert.Equal(t, "serial port closed", got.ErrorMessage)
}

func TestListPendingCommandsOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	feed1 := newCommand("dev-1", "a", models.CommandFeed, models.PriorityFeed)
	feed1.CreatedAt = base
	feed2 := newCommand("dev-1", "b", models.CommandFeed, models.PriorityFeed)
	feed2.CreatedAt = base.Add(time.Second)
	pause := newCommand("dev-1", "c", models.CommandPause, models.PriorityControl)
	pause.CreatedAt = base.Add(2 * time.Second)
	elsewhere := newCommand("dev-2", "d", models.CommandFeed, models.PriorityFeed)
	elsewhere.CreatedAt = base

	for _, c := range []*models.Command{feed1, feed2, pause, elsewhere} {
		require.NoError(t, s.InsertCommand(ctx, c))
	}

	pending, err := s.ListPendingCommands(ctx, "dev-1")
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []string{pause.ID, feed1.ID, feed2.ID}, []string{pending[0].ID, pending[1].ID, pending[2].ID})

	all, err := s.ListPendingCommands(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	stale, err := s.ListStalePending(ctx, base.Add(500*time.Millisecond))
	require.NoError(t, err)
	assert.Len(t, stale, 2)

	history, err := s.ListCommands(ctx, CommandFilter{DeviceID: "dev-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, pause.ID, history[0].ID)

	byStatus, err := s.ListCommands(ctx, CommandFilter{Status: models.StatusExecuted})
	require.NoError(t, err)
	assert.Empty(t, byStatus)
}

func TestFeedingEvents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ev := &models.FeedingEvent{AccountID: "acct-1", DeviceID: "dev-1", CommandID: "cmd-1", TargetGrams: 50}
	require.NoError(t, s.InsertFeedingEvent(ctx, ev))
	assert.Equal(t, models.EventPending, ev.Status)

	require.NoError(t, s.UpdateFeedingEventByCommand(ctx, "cmd-1", models.EventSuccess))
	assert.ErrorIs(t, s.UpdateFeedingEventByCommand(ctx, "cmd-x", models.EventFailed), ErrNotFound)

	events, err := s.ListFeedingEvents(ctx, EventFilter{DeviceID: "dev-1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventSuccess, events[0].Status)
	assert.Equal(t, "cmd-1", events[0].CommandID)
}

func TestKV(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetKV(ctx, "processed_feedings_acct-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutKV(ctx, "processed_feedings_acct-1", `{"a":"2026-03-04"}`))
	require.NoError(t, s.PutKV(ctx, "processed_feedings_acct-1", `{}`))

	v, err := s.GetKV(ctx, "processed_feedings_acct-1")
	require.NoError(t, err)
	assert.Equal(t, `{}`, v)
}

func TestAcquireLock(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	lock, err := s.AcquireLock(ctx, "pet_feeder_worker_lock", "holder-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "holder-1", lock.HolderID)

	_, err = s.AcquireLock(ctx, "pet_feeder_worker_lock", "holder-2", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	// re-acquire by the holder extends
	_, err = s.AcquireLock(ctx, "pet_feeder_worker_lock", "holder-1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.RenewLock(ctx, "pet_feeder_worker_lock", "holder-1", time.Minute))
	assert.ErrorIs(t, s.RenewLock(ctx, "pet_feeder_worker_lock", "holder-2", time.Minute), ErrLocked)

	got, err := s.GetLock(ctx, "pet_feeder_worker_lock")
	require.NoError(t, err)
	assert.Equal(t, "holder-1", got.HolderID)

	// release by a non-holder is a no-op
	require.NoError(t, s.ReleaseLock(ctx, "pet_feeder_worker_lock", "holder-2"))
	_, err = s.AcquireLock(ctx, "pet_feeder_worker_lock", "holder-2", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, s.ReleaseLock(ctx, "pet_feeder_worker_lock", "holder-1"))
	_, err = s.AcquireLock(ctx, "pet_feeder_worker_lock", "holder-2", time.Minute)
	assert.NoError(t, err)
}

func TestLockExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	_, err := s.AcquireLock(ctx, "l", "holder-1", 45*time.Second)
	require.NoError(t, err)

	now = now.Add(46 * time.Second)
	assert.ErrorIs(t, s.RenewLock(ctx, "l", "holder-1", 45*time.Second), ErrLocked)
	_, err = s.GetLock(ctx, "l")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.SweepExpiredLocks(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = s.AcquireLock(ctx, "l", "holder-2", 45*time.Second)
	assert.NoError(t, err)
}

func TestConcurrentLockAcquisition(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const n = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(holder string) {
			defer wg.Done()
			if _, err := s.AcquireLock(ctx, "race", holder, time.Minute); err == nil {
				mu.Lock()
				winners = append(winners, holder)
				mu.Unlock()
			}
		}(fmt.Sprintf("holder-%d", i))
	}
	wg.Wait()
	assert.Len(t, winners, 1)
}

func TestPDR(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	entry, err := s.WritePDR(ctx, "command.enqueue", "abc123", "success", "cmd-1", `{"grams":50}`)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)

	_, err = s.WritePDR(ctx, "command.cancel", "def456", "success", "cmd-2", "")
	require.NoError(t, err)

	entries, err := s.ListPDR(ctx, "cmd-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "command.enqueue", entries[0].Action)

	all, err := s.ListPDR(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
