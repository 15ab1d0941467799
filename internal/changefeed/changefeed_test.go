package changefeed

import (
	"context"
	"testing"
	"time"

	"github.com/fentz26/petfeeder/internal/logx"
	"github.com/fentz26/petfeeder/internal/models"
	"github.com/fentz26/petfeeder/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func change(device string, status models.CommandStatus) Change {
	return Change{
		Op:      OpInsert,
		Command: models.Command{ID: "cmd-" + device, DeviceID: device, Kind: models.CommandFeed, Status: status},
		At:      time.Now(),
	}
}

func receive(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "channel closed")
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func assertSilent(t *testing.T, ch <-chan Change) {
	t.Helper()
	select {
	case c := <-ch:
		t.Fatalf("unexpected change %+v", c)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFilterMatch(t *testing.T) {
	c := change("dev-1", models.StatusPending)
	assert.True(t, Filter{}.Match(c))
	assert.True(t, Filter{DeviceID: "dev-1", Status: models.StatusPending}.Match(c))
	assert.False(t, Filter{DeviceID: "dev-2"}.Match(c))
	assert.False(t, Filter{Status: models.StatusDelivered}.Match(c))
}

func TestLocalFanOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLocal()
	dev1, err := l.Subscribe(ctx, Filter{DeviceID: "dev-1", Status: models.StatusPending})
	require.NoError(t, err)
	all, err := l.Subscribe(ctx, Filter{})
	require.NoError(t, err)

	require.NoError(t, l.Publish(ctx, change("dev-1", models.StatusPending)))
	require.NoError(t, l.Publish(ctx, change("dev-2", models.StatusPending)))

	assert.Equal(t, "dev-1", receive(t, dev1).Command.DeviceID)
	assertSilent(t, dev1)
	assert.Equal(t, "dev-1", receive(t, all).Command.DeviceID)
	assert.Equal(t, "dev-2", receive(t, all).Command.DeviceID)
}

func TestLocalSubscriptionEndsWithContext(t *testing.T) {
	l := NewLocal()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := l.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, l.Subscribers())

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, l.Subscribers())

	// publishing after teardown must not panic
	assert.NoError(t, l.Publish(context.Background(), change("dev-1", models.StatusPending)))
}

func TestLocalSlowSubscriberDoesNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLocal()
	_, err := l.Subscribe(ctx, Filter{})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			_ = l.Publish(ctx, change("dev-1", models.StatusPending))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
}

func TestNATSRoundTrip(t *testing.T) {
	_, nc := testutil.StartEmbeddedNATS(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewNATS(nc, "", logx.Nop())
	pending, err := feed.Subscribe(ctx, Filter{DeviceID: "dev.1", Status: models.StatusPending})
	require.NoError(t, err)
	everything, err := feed.Subscribe(ctx, Filter{})
	require.NoError(t, err)

	require.NoError(t, feed.Publish(ctx, change("dev.1", models.StatusDelivered)))
	require.NoError(t, feed.Publish(ctx, change("dev.1", models.StatusPending)))
	require.NoError(t, feed.Publish(ctx, change("dev-2", models.StatusPending)))

	got := receive(t, pending)
	assert.Equal(t, models.StatusPending, got.Command.Status)
	assert.Equal(t, "dev.1", got.Command.DeviceID)
	assertSilent(t, pending)

	seen := map[string]int{}
	for i := 0; i < 3; i++ {
		seen[receive(t, everything).Command.DeviceID]++
	}
	assert.Equal(t, map[string]int{"dev.1": 2, "dev-2": 1}, seen)
}

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "dev_1", subjectToken("dev.1"))
	assert.Equal(t, "a_b_c", subjectToken("a*b>c"))
	assert.Equal(t, "_", subjectToken(""))
}
