package leader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fentz26/petfeeder/internal/logx"
	"github.com/fentz26/petfeeder/internal/metrics"
	"github.com/fentz26/petfeeder/internal/store"
	"github.com/fentz26/petfeeder/internal/testutil"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenLocker struct{}

func (brokenLocker) TryLock(context.Context) (Lease, error) {
	return nil, errors.New("database is down")
}
func (brokenLocker) TTL() time.Duration { return time.Second }

type flakyLease struct{ released atomic.Bool }

func (*flakyLease) Renew(context.Context) error { return ErrLeaseLost }
func (f *flakyLease) Release(context.Context) error {
	f.released.Store(true)
	return nil
}

type flakyLocker struct{ lease *flakyLease }

func (f flakyLocker) TryLock(context.Context) (Lease, error) { return f.lease, nil }
func (flakyLocker) TTL() time.Duration                       { return 30 * time.Millisecond }

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "leader.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHolderIDUnique(t *testing.T) {
	assert.NotEqual(t, HolderID(), HolderID())
}

func TestGateFailsClosed(t *testing.T) {
	p := metrics.NewPrometheus("")
	g := NewGate(brokenLocker{}, logx.Nop(), p)
	ran := g.TryRun(context.Background(), func(context.Context) {
		t.Fatal("work must not run without the lock")
	})
	assert.False(t, ran)
}

func TestGateCancelsWorkWhenLeaseLost(t *testing.T) {
	lease := &flakyLease{}
	g := NewGate(flakyLocker{lease: lease}, logx.Nop(), nil)

	var cancelled bool
	ran := g.TryRun(context.Background(), func(ctx context.Context) {
		select {
		case <-ctx.Done():
			cancelled = true
		case <-time.After(2 * time.Second):
		}
	})
	assert.True(t, ran)
	assert.True(t, cancelled)
	assert.True(t, lease.released.Load())
}

func TestGateExclusiveAcrossInstances(t *testing.T) {
	s := newStore(t)
	const instances = 8

	var (
		active, maxActive atomic.Int32
		runs              atomic.Int32
		wg                sync.WaitGroup
	)
	for i := 0; i < instances; i++ {
		wg.Add(1)
		go func(holder string) {
			defer wg.Done()
			g := NewGate(NewStoreLocker(s, DefaultLockName, holder, time.Minute), logx.Nop(), nil)
			for round := 0; round < 5; round++ {
				g.TryRun(context.Background(), func(context.Context) {
					n := active.Add(1)
					for {
						m := maxActive.Load()
						if n <= m || maxActive.CompareAndSwap(m, n) {
							break
						}
					}
					runs.Add(1)
					time.Sleep(5 * time.Millisecond)
					active.Add(-1)
				})
			}
		}(fmt.Sprintf("instance-%d", i))
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxActive.Load())
	assert.Positive(t, runs.Load())
}

func TestReleaseHandsOver(t *testing.T) {
	s := newStore(t)
	a := NewGate(NewStoreLocker(s, DefaultLockName, "a", time.Minute), logx.Nop(), nil)
	b := NewGate(NewStoreLocker(s, DefaultLockName, "b", time.Minute), logx.Nop(), nil)

	ranB := true
	a.TryRun(context.Background(), func(ctx context.Context) {
		ranB = b.TryRun(ctx, func(context.Context) {})
	})
	assert.False(t, ranB, "b must not run while a holds the lease")
	assert.True(t, b.TryRun(context.Background(), func(context.Context) {}))
}

func TestStoreLeaseRenews(t *testing.T) {
	s := newStore(t)
	l := NewStoreLocker(s, "renew", "holder", 60*time.Millisecond)
	g := NewGate(l, logx.Nop(), nil)

	var cancelled bool
	g.TryRun(context.Background(), func(ctx context.Context) {
		// outlive several TTLs; renewal keeps the lease alive
		select {
		case <-ctx.Done():
			cancelled = true
		case <-time.After(200 * time.Millisecond):
		}
	})
	assert.False(t, cancelled)
}

func TestFileLocker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feeder.lock")
	first := NewFileLocker(path)
	second := NewFileLocker(path)

	lease, err := first.TryLock(context.Background())
	require.NoError(t, err)

	_, err = second.TryLock(context.Background())
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, lease.Release(context.Background()))
	lease2, err := second.TryLock(context.Background())
	require.NoError(t, err)
	require.NoError(t, lease2.Release(context.Background()))
}

func TestNATSLocker(t *testing.T) {
	_, nc := testutil.StartEmbeddedNATS(t)
	ctx := context.Background()
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	a, err := NewNATSLocker(ctx, js, "", DefaultLockName, "a", 5*time.Second)
	require.NoError(t, err)
	b, err := NewNATSLocker(ctx, js, "", DefaultLockName, "b", 5*time.Second)
	require.NoError(t, err)

	leaseA, err := a.TryLock(ctx)
	require.NoError(t, err)
	_, err = b.TryLock(ctx)
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, leaseA.Renew(ctx))
	require.NoError(t, leaseA.Release(ctx))

	leaseB, err := b.TryLock(ctx)
	require.NoError(t, err)

	// a's stale lease cannot renew b's key
	assert.ErrorIs(t, leaseA.Renew(ctx), ErrLeaseLost)
	require.NoError(t, leaseB.Release(ctx))
}
