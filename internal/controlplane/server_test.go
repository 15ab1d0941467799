package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/fentz26/petfeeder/internal/audit"
	"github.com/fentz26/petfeeder/internal/auth"
	"github.com/fentz26/petfeeder/internal/changefeed"
	"github.com/fentz26/petfeeder/internal/metrics"
	"github.com/fentz26/petfeeder/internal/models"
	"github.com/fentz26/petfeeder/internal/queue"
	"github.com/fentz26/petfeeder/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats map[string]interface{}

func (f fakeStats) GetStats() map[string]interface{} { return f }

type testEnv struct {
	store  *store.Store
	queue  *queue.Manager
	server *Server
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	feed := changefeed.NewLocal()
	q := queue.New(st, auth.Static("acct-1"), queue.Options{Changes: feed, Audit: audit.NewPDRWriter(st)})
	if opts.Changes == nil {
		opts.Changes = feed
	}
	opts.Audit = audit.NewPDRWriter(st)
	svc := NewService(st, q, auth.Static("acct-1"), opts)
	prom := metrics.NewPrometheus("petfeeder")
	return &testEnv{
		store:  st,
		queue:  q,
		server: NewServer(svc, "127.0.0.1:0", ServerOptions{Metrics: prom.Handler(), Version: "test"}),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})
	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	health := decode[HealthResponse](t, w)
	assert.True(t, health.OK)
	assert.Equal(t, "ok", health.DB)
	assert.Equal(t, "test", health.Version)
	assert.NotEmpty(t, health.Time)

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodPost, "/health", nil).Code)
}

func TestHealthEndpointDBError(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.store.Close()

	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	health := decode[HealthResponse](t, w)
	assert.False(t, health.OK)
	assert.NotEqual(t, "ok", health.DB)
}

func TestFeedNow(t *testing.T) {
	env := newTestEnv(t, Options{})
	w := env.do(t, http.MethodPost, "/feed", FeedRequest{DeviceID: "dev-1", Grams: 50, PetID: "pet-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	cmd := decode[models.Command](t, w)
	assert.Equal(t, models.StatusPending, cmd.Status)
	assert.Equal(t, models.CommandFeed, cmd.Kind)
	assert.Equal(t, "acct-1", cmd.AccountID)

	events := decode[[]models.FeedingEvent](t, env.do(t, http.MethodGet, "/events?device_id=dev-1", nil))
	require.Len(t, events, 1)
	assert.Equal(t, cmd.ID, events[0].CommandID)
}

func TestFeedNowRejectsBadPortion(t *testing.T) {
	env := newTestEnv(t, Options{})
	w := env.do(t, http.MethodPost, "/feed", FeedRequest{DeviceID: "dev-1", Grams: 501})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, "Invalid range (1-500g)", resp.Error)
	assert.Equal(t, "validation", resp.Kind)

	cmds, err := env.store.ListCommands(context.Background(), store.CommandFilter{})
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestFeedNowWaitsForCompletion(t *testing.T) {
	env := newTestEnv(t, Options{})
	go func() {
		// a bridge on another host reporting back
		for {
			pending, err := env.queue.ListPending(context.Background(), "dev-1")
			if err == nil && len(pending) == 1 {
				id := pending[0].ID
				env.queue.UpdateStatus(context.Background(), id, models.StatusDelivered, "")
				env.queue.UpdateStatus(context.Background(), id, models.StatusExecuted, "")
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	w := env.do(t, http.MethodPost, "/feed", FeedRequest{DeviceID: "dev-1", Grams: 20, WaitSec: 5})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.StatusExecuted, decode[models.Command](t, w).Status)
}

func TestPauseResume(t *testing.T) {
	env := newTestEnv(t, Options{})
	w := env.do(t, http.MethodPost, "/devices/dev-1/pause", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	pause := decode[models.Command](t, w)
	assert.Equal(t, models.CommandPause, pause.Kind)
	assert.Equal(t, models.PriorityControl, pause.Priority)

	w = env.do(t, http.MethodPost, "/devices/dev-1/resume", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.CommandResume, decode[models.Command](t, w).Kind)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/devices/dev-1/reboot", nil).Code)
}

func TestCommandLifecycle(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	cmd, err := env.queue.EnqueueFeed(ctx, "dev-1", 50, "")
	require.NoError(t, err)

	w := env.do(t, http.MethodGet, "/commands/"+cmd.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, cmd.ID, decode[models.Command](t, w).ID)

	w = env.do(t, http.MethodPost, "/commands/"+cmd.ID+"/status", StatusRequest{Status: models.StatusDelivered})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/commands/"+cmd.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Command already delivered", decode[ErrorResponse](t, w).Error)

	w = env.do(t, http.MethodPost, "/commands/"+cmd.ID+"/status", StatusRequest{Status: models.StatusFailed, Error: "motor stalled"})
	require.Equal(t, http.StatusOK, w.Code)
	failed := decode[models.Command](t, w)
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.Equal(t, "motor stalled", failed.ErrorMessage)

	w = env.do(t, http.MethodPost, "/commands/"+cmd.ID+"/status", StatusRequest{Status: models.StatusExecuted})
	assert.Equal(t, http.StatusConflict, w.Code, "terminal commands stay terminal")

	decisions := decode[[]models.PDREntry](t, env.do(t, http.MethodGet, "/commands/"+cmd.ID+"/decisions", nil))
	assert.NotEmpty(t, decisions)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/commands/missing", nil).Code)
}

func TestCancelPending(t *testing.T) {
	env := newTestEnv(t, Options{})
	cmd, err := env.queue.EnqueueFeed(context.Background(), "dev-1", 50, "")
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/commands/"+cmd.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusCancelled, decode[models.Command](t, w).Status)
}

func TestListCommandsFilters(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	_, err := env.queue.EnqueueFeed(ctx, "dev-1", 50, "")
	require.NoError(t, err)
	_, err = env.queue.EnqueueFeed(ctx, "dev-2", 50, "")
	require.NoError(t, err)

	all := decode[[]models.Command](t, env.do(t, http.MethodGet, "/commands", nil))
	assert.Len(t, all, 2)

	one := decode[[]models.Command](t, env.do(t, http.MethodGet, "/commands?device_id=dev-2&status=pending", nil))
	require.Len(t, one, 1)
	assert.Equal(t, "dev-2", one[0].DeviceID)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/commands?status=lost", nil).Code)
}

func TestWaitTimesOutWithLatestState(t *testing.T) {
	env := newTestEnv(t, Options{})
	cmd, err := env.queue.EnqueueFeed(context.Background(), "dev-1", 50, "")
	require.NoError(t, err)

	start := time.Now()
	w := env.do(t, http.MethodGet, "/commands/"+cmd.ID+"?wait=100ms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusPending, decode[models.Command](t, w).Status)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/commands/"+cmd.ID+"?wait=soon", nil).Code)
}

func TestScheduleManagement(t *testing.T) {
	env := newTestEnv(t, Options{})
	req := ScheduleRequest{
		DeviceID:     "dev-1",
		FeedingTimes: []models.FeedingTime{{Time: "08:00", PortionGrams: 50}},
		DaysOfWeek:   []int{1, 2, 3, 4, 5},
	}
	w := env.do(t, http.MethodPost, "/schedules", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sch := decode[models.Schedule](t, w)
	assert.True(t, sch.Active)
	assert.Equal(t, models.DefaultScheduleName, sch.Name)

	list := decode[[]models.Schedule](t, env.do(t, http.MethodGet, "/schedules", nil))
	require.Len(t, list, 1)

	w = env.do(t, http.MethodPost, "/schedules/"+sch.ID+"/toggle", ToggleRequest{Active: false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[models.Schedule](t, w).Active)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/schedules/"+sch.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/schedules/"+sch.ID, nil).Code)
}

func TestScheduleValidation(t *testing.T) {
	env := newTestEnv(t, Options{})
	w := env.do(t, http.MethodPost, "/schedules", ScheduleRequest{
		DeviceID:     "dev-1",
		FeedingTimes: []models.FeedingTime{{Time: "25:00", PortionGrams: 0}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/schedules", ScheduleRequest{
		DeviceID:     "dev-1",
		FeedingTimes: []models.FeedingTime{{Time: "8:00", PortionGrams: 20}, {Time: "08:00", PortionGrams: 30}},
		DaysOfWeek:   []int{1},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScheduleTimesAreStoredPadded(t *testing.T) {
	env := newTestEnv(t, Options{})
	w := env.do(t, http.MethodPost, "/schedules", ScheduleRequest{
		DeviceID:     "dev-1",
		FeedingTimes: []models.FeedingTime{{Time: "7:30", PortionGrams: 20}},
		DaysOfWeek:   []int{1},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "07:30", decode[models.Schedule](t, w).FeedingTimes[0].Time)
}

func TestSchedulerStats(t *testing.T) {
	env := newTestEnv(t, Options{})
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/scheduler", nil).Code)

	env = newTestEnv(t, Options{Scheduler: fakeStats{"attempts": 3}})
	w := env.do(t, http.MethodGet, "/scheduler", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, decode[map[string]any](t, w)["attempts"])
}

func TestMetricsMounted(t *testing.T) {
	env := newTestEnv(t, Options{})
	w := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnauthenticated(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer st.Close()
	q := queue.New(st, auth.Static(""), queue.Options{})
	srv := NewServer(NewService(st, q, auth.Static(""), Options{}), "127.0.0.1:0", ServerOptions{})

	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(FeedRequest{DeviceID: "dev-1", Grams: 10})
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/feed", &buf))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Not signed in", decode[ErrorResponse](t, w).Error)
}
