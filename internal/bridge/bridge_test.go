package bridge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fentz26/petfeeder/internal/auth"
	"github.com/fentz26/petfeeder/internal/changefeed"
	"github.com/fentz26/petfeeder/internal/device"
	"github.com/fentz26/petfeeder/internal/logx"
	"github.com/fentz26/petfeeder/internal/models"
	"github.com/fentz26/petfeeder/internal/queue"
	"github.com/fentz26/petfeeder/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deviceID = "dev-1"

type fixture struct {
	store *store.Store
	queue *queue.Manager
	feed  *changefeed.Local
	sim   *device.Simulator
	link  *device.Link
}

func newFixture(t *testing.T, ackTimeout time.Duration) *fixture {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	feed := changefeed.NewLocal()
	link, sim := device.NewSimulatedLink(5*time.Millisecond, ackTimeout)
	t.Cleanup(func() { link.Close() })
	return &fixture{
		store: s,
		queue: queue.New(s, auth.Static("acct-1"), queue.Options{Changes: feed}),
		feed:  feed,
		sim:   sim,
		link:  link,
	}
}

// start runs a bridge until the test ends and returns it with Run's result.
func (f *fixture) start(t *testing.T, changes changefeed.Subscriber, poll time.Duration) (*Bridge, <-chan error) {
	t.Helper()
	cfg := Config{DeviceID: deviceID, PollInterval: poll}
	b := New(cfg, f.queue, f.link, changes, nil, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		done <- b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return b, done
}

func (f *fixture) waitStatus(t *testing.T, id string, want models.CommandStatus) *models.Command {
	t.Helper()
	var cmd *models.Command
	require.Eventually(t, func() bool {
		c, err := f.queue.Get(context.Background(), id)
		if err != nil {
			return false
		}
		cmd = c
		return c.Status == want
	}, 3*time.Second, 5*time.Millisecond, "command %s never reached %s", id, want)
	return cmd
}

func TestInitialScanDeliversExistingCommands(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	cmd, err := f.queue.EnqueueFeed(ctx, deviceID, 50, "pet-1")
	require.NoError(t, err)

	f.start(t, nil, time.Hour)

	done := f.waitStatus(t, cmd.ID, models.StatusExecuted)
	assert.NotNil(t, done.DeliveredAt)
	assert.NotNil(t, done.ExecutedAt)
	assert.Equal(t, 1, f.sim.Feeds())

	events, err := f.store.ListFeedingEvents(ctx, store.EventFilter{DeviceID: deviceID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventSuccess, events[0].Status)
}

func TestChangeStreamTriggersDelivery(t *testing.T) {
	f := newFixture(t, time.Second)
	b, _ := f.start(t, f.feed, time.Hour)
	require.Eventually(t, func() bool { return f.feed.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	cmd, err := f.queue.EnqueueFeed(context.Background(), deviceID, 20, "")
	require.NoError(t, err)
	f.waitStatus(t, cmd.ID, models.StatusExecuted)
	assert.Equal(t, 1, b.GetStats()["executed"])
}

func TestPollFallback(t *testing.T) {
	f := newFixture(t, time.Second)
	f.start(t, nil, 20*time.Millisecond)

	cmd, err := f.queue.EnqueueFeed(context.Background(), deviceID, 20, "")
	require.NoError(t, err)
	f.waitStatus(t, cmd.ID, models.StatusExecuted)
}

func TestPauseHoldsFeedsUntilResume(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	b, _ := f.start(t, f.feed, time.Hour)
	require.Eventually(t, func() bool { return f.feed.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	pause, err := f.queue.EnqueuePause(ctx, deviceID)
	require.NoError(t, err)
	f.waitStatus(t, pause.ID, models.StatusExecuted)
	assert.True(t, b.Paused())

	feed, err := f.queue.EnqueueFeed(ctx, deviceID, 30, "")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	held, err := f.queue.Get(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, held.Status)
	assert.Zero(t, f.sim.Feeds())

	resume, err := f.queue.EnqueueResume(ctx, deviceID)
	require.NoError(t, err)
	f.waitStatus(t, resume.ID, models.StatusExecuted)
	f.waitStatus(t, feed.ID, models.StatusExecuted)
	assert.False(t, b.Paused())
	assert.Equal(t, "F", f.sim.Written())
}

func TestJammedFeederMarksFailed(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	f.sim.Jammed.Store(true)
	ctx := context.Background()
	cmd, err := f.queue.EnqueueFeed(ctx, deviceID, 50, "")
	require.NoError(t, err)

	b, _ := f.start(t, nil, time.Hour)

	failed := f.waitStatus(t, cmd.ID, models.StatusFailed)
	assert.Contains(t, failed.ErrorMessage, "no completion line")
	assert.Equal(t, 1, b.GetStats()["failed"])

	events, err := f.store.ListFeedingEvents(ctx, store.EventFilter{DeviceID: deviceID})
	require.NoError(t, err)
	assert.Equal(t, models.EventFailed, events[0].Status)
}

func TestCancelledCommandIsNotDispensed(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	cancelled, err := f.queue.EnqueueFeed(ctx, deviceID, 50, "")
	require.NoError(t, err)
	_, err = f.queue.Cancel(ctx, cancelled.ID)
	require.NoError(t, err)
	live, err := f.queue.EnqueueFeed(ctx, deviceID, 40, "")
	require.NoError(t, err)

	f.start(t, nil, time.Hour)

	f.waitStatus(t, live.ID, models.StatusExecuted)
	assert.Equal(t, 1, f.sim.Feeds())
}

func TestOtherDevicesAreIgnored(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	other, err := f.queue.EnqueueFeed(ctx, "dev-2", 50, "")
	require.NoError(t, err)
	mine, err := f.queue.EnqueueFeed(ctx, deviceID, 50, "")
	require.NoError(t, err)

	f.start(t, nil, time.Hour)
	f.waitStatus(t, mine.ID, models.StatusExecuted)

	got, err := f.queue.Get(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestRunStopsWhenDeviceGone(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	require.NoError(t, f.link.Close())
	cmd, err := f.queue.EnqueueFeed(ctx, deviceID, 50, "")
	require.NoError(t, err)

	_, done := f.start(t, nil, time.Hour)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, device.ErrClosed)
	case <-time.After(3 * time.Second):
		t.Fatal("bridge kept running without a device")
	}
	f.waitStatus(t, cmd.ID, models.StatusFailed)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate())

	cfg.DeviceID = deviceID
	assert.Error(t, cfg.Validate(), "serial port required")

	cfg.Simulate = true
	assert.NoError(t, cfg.Validate())
}
