package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/petfeeder/internal/auth"
	"github.com/fentz26/petfeeder/internal/leader"
	"github.com/fentz26/petfeeder/internal/logx"
	"github.com/fentz26/petfeeder/internal/models"
	"github.com/fentz26/petfeeder/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test10ParallelInstances runs ten scheduler instances against one store,
// each with its own ledger handle and lock holder, and checks that a due
// slot is queued exactly once.
func Test10ParallelInstances(t *testing.T) {
	s := newTestStore(t)
	base := newHarness(t, s)
	base.addSchedule(t, "dev-1", models.FeedingTime{Time: "08:00", PortionGrams: 50})

	const instances = 10
	schedulers := make([]*Scheduler, instances)
	for i := range schedulers {
		h := newHarness(t, s)
		cfg := DefaultConfig()
		cfg.Timezone = "UTC"
		e := h.evaluator(t, nil, Options{})
		gate := leader.NewGate(leader.NewStoreLocker(s, leader.DefaultLockName, fmt.Sprintf("instance-%d", i), time.Minute), logx.Nop(), nil)
		schedulers[i] = New(gate, e, cfg, logx.Nop())
	}

	var wg sync.WaitGroup
	for _, sch := range schedulers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := 0; round < 5; round++ {
				sch.RunOnce(context.Background())
			}
		}()
	}
	wg.Wait()

	assert.Len(t, base.commands(t, "dev-1"), 1)

	led := 0
	for _, sch := range schedulers {
		led += sch.GetStats()["led_ticks"].(int)
	}
	assert.Positive(t, led)
}

func TestSchedulerLoopReleasesLockOnStop(t *testing.T) {
	s := newTestStore(t)
	h := newHarness(t, s)
	h.addSchedule(t, "dev-1", models.FeedingTime{Time: "08:00", PortionGrams: 50})

	cfg := DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.Interval = 10 * time.Millisecond
	gate := leader.NewGate(leader.NewStoreLocker(s, leader.DefaultLockName, "solo", time.Minute), logx.Nop(), nil)
	sch := New(gate, h.evaluator(t, nil, Options{}), cfg, logx.Nop())

	sch.Start()
	require.Eventually(t, func() bool {
		return sch.GetStats()["led_ticks"].(int) >= 3
	}, 5*time.Second, 10*time.Millisecond)
	sch.Stop()

	assert.Len(t, h.commands(t, "dev-1"), 1)
	_, err := s.GetLock(context.Background(), leader.DefaultLockName)
	assert.True(t, errors.Is(err, store.ErrNotFound), "lock still held after Stop: %v", err)

	stats := sch.GetStats()
	assert.Equal(t, "10ms", stats["interval"])
	assert.NotContains(t, stats, "last_error")
}

func TestApplyChangesInterval(t *testing.T) {
	h := newHarness(t, newTestStore(t))
	sch := New(alwaysLeader{}, h.evaluator(t, nil, Options{}), nil, logx.Nop())

	cfg := DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.Interval = time.Minute
	require.NoError(t, sch.Apply(cfg))
	assert.Equal(t, "1m0s", sch.GetStats()["interval"])

	cfg.Interval = 0
	assert.Error(t, sch.Apply(cfg))
}

func TestTickErrorIsRecorded(t *testing.T) {
	h := newHarness(t, newTestStore(t))
	e, err := NewEvaluator(auth.Static(account), brokenSource{}, h.queue, h.ledger, nil, Options{})
	require.NoError(t, err)
	sch := New(alwaysLeader{}, e, nil, logx.Nop())

	assert.True(t, sch.RunOnce(context.Background()))
	stats := sch.GetStats()
	assert.Contains(t, stats["last_error"], "load schedules")
	assert.Equal(t, 1, stats["led_ticks"])
}

type alwaysLeader struct{}

func (alwaysLeader) TryRun(ctx context.Context, work func(context.Context)) bool {
	work(ctx)
	return true
}
