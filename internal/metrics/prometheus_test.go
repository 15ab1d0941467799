package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCounters(t *testing.T) {
	p := NewPrometheus("")
	p.LeaderAttempt(LeaderAcquired)
	p.LeaderAttempt(LeaderBusy)
	p.LeaderAttempt(LeaderBusy)
	p.TickCompleted(20*time.Millisecond, 3, 2, 1)
	p.CommandEnqueued("FEED")
	p.CommandTransition("EXECUTED")
	p.Dispense("ok", 4*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.leaderAttempts.WithLabelValues(LeaderBusy)))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.slotsDue))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.slotsEnqueued))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.slotsFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.commandsEnqueued.WithLabelValues("FEED")))
}

func TestPrometheusHandler(t *testing.T) {
	p := NewPrometheus("petfeeder")
	p.CommandEnqueued("PAUSE")

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `petfeeder_queue_commands_enqueued_total{kind="PAUSE"} 1`)
}

func TestNopSatisfiesCollector(t *testing.T) {
	var c Collector = NewNop()
	c.LeaderAttempt(LeaderError)
	c.TickCompleted(0, 0, 0, 0)
}
