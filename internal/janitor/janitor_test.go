package janitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fentz26/petfeeder/internal/auth"
	"github.com/fentz26/petfeeder/internal/errs"
	"github.com/fentz26/petfeeder/internal/logx"
	"github.com/fentz26/petfeeder/internal/models"
	"github.com/fentz26/petfeeder/internal/queue"
	"github.com/fentz26/petfeeder/internal/store"
	"github.com/fentz26/petfeeder/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*store.Store, *queue.Manager, *testutil.Clock) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "janitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	clock := testutil.NewClock(t0)
	s.SetClock(clock.Now)
	return s, queue.New(s, auth.Static("acct-1"), queue.Options{Now: clock.Now}), clock
}

func TestExpireStale(t *testing.T) {
	s, q, clock := setup(t)
	ctx := context.Background()

	old, err := q.EnqueueFeed(ctx, "dev-1", 50, "")
	require.NoError(t, err)
	delivered, err := q.EnqueueFeed(ctx, "dev-1", 50, "")
	require.NoError(t, err)
	_, err = q.UpdateStatus(ctx, delivered.ID, models.StatusDelivered, "")
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	fresh, err := q.EnqueueFeed(ctx, "dev-1", 50, "")
	require.NoError(t, err)

	j := New(*DefaultConfig(), s, q, logx.Nop(), clock.Now)
	n, err := j.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := q.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, ExpiredMessage, got.ErrorMessage)

	for id, want := range map[string]models.CommandStatus{
		delivered.ID: models.StatusDelivered,
		fresh.ID:     models.StatusPending,
	} {
		got, err := q.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status)
	}

	n, err = j.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type racingQueue struct{ *queue.Manager }

// Expire loses the race to a bridge that delivered the command first.
func (r racingQueue) Expire(ctx context.Context, id, reason string) (*models.Command, error) {
	if _, err := r.Manager.UpdateStatus(ctx, id, models.StatusDelivered, ""); err != nil {
		return nil, err
	}
	return r.Manager.Expire(ctx, id, reason)
}

func TestExpireSkipsCommandsThatMovedOn(t *testing.T) {
	s, q, clock := setup(t)
	ctx := context.Background()
	cmd, err := q.EnqueueFeed(ctx, "dev-1", 50, "")
	require.NoError(t, err)
	clock.Advance(time.Hour)

	j := New(*DefaultConfig(), s, racingQueue{q}, logx.Nop(), clock.Now)
	n, err := j.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := q.Get(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, got.Status)
}

func TestSweepLocks(t *testing.T) {
	s, q, clock := setup(t)
	ctx := context.Background()
	_, err := s.AcquireLock(ctx, "pet_feeder_worker_lock", "gone", time.Minute)
	require.NoError(t, err)

	j := New(*DefaultConfig(), s, q, logx.Nop(), clock.Now)
	n, err := j.SweepLocks(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(2 * time.Minute)
	n, err = j.SweepLocks(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.ExpireSpec = "every minute"
	assert.Error(t, cfg.Validate())

	cfg.Enabled = false
	assert.NoError(t, cfg.Validate())
}

func TestStartRejectsBadSpec(t *testing.T) {
	s, q, _ := setup(t)
	cfg := DefaultConfig()
	cfg.SweepSpec = "* * *"
	j := New(*cfg, s, q, logx.Nop(), nil)
	assert.ErrorIs(t, j.Start(context.Background()), errs.Validation)
	j.Stop()
}

func TestStartRunsJobs(t *testing.T) {
	s, q, _ := setup(t)
	ctx := context.Background()
	s.SetClock(func() time.Time { return time.Now().Add(-time.Hour) })
	cmd, err := q.EnqueueFeed(ctx, "dev-1", 50, "")
	require.NoError(t, err)
	s.SetClock(time.Now)

	cfg := DefaultConfig()
	cfg.ExpireSpec = "@every 1s"
	j := New(*cfg, s, q, logx.Nop(), nil)
	require.NoError(t, j.Start(ctx))
	defer j.Stop()

	require.Eventually(t, func() bool {
		got, err := q.Get(ctx, cmd.ID)
		return err == nil && got.Status == models.StatusFailed
	}, 5*time.Second, 50*time.Millisecond)
}
