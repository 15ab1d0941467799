// Package leader makes sure only one running instance evaluates schedules at
// a time.
//
// A Gate makes one non-blocking attempt to take a named lock. If another
// instance holds it, the attempt returns at once without running any work.
// Lock provider errors count as "not leader this round".
package leader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fentz26/petfeeder/internal/errs"
	"github.com/fentz26/petfeeder/internal/logx"
	"github.com/fentz26/petfeeder/internal/metrics"
	"github.com/google/uuid"
)

// DefaultLockName is shared by every instance of one deployment.
const DefaultLockName = "pet_feeder_worker_lock"

// DefaultTTL is the lease length. Leases are renewed every TTL/3.
const DefaultTTL = 45 * time.Second

var (
	// ErrNotAcquired means another holder has the lock.
	ErrNotAcquired = errors.New("lock held elsewhere")
	// ErrLeaseLost means a renewal found the lease gone or taken.
	ErrLeaseLost = errors.New("lease lost")
)

// Lease is a held lock.
type Lease interface {
	Renew(ctx context.Context) error
	Release(ctx context.Context) error
}

// Locker makes a single non-blocking acquisition attempt. It returns
// ErrNotAcquired when the lock is held elsewhere.
type Locker interface {
	TryLock(ctx context.Context) (Lease, error)
	// TTL is the lease length; zero means the lease never needs renewing.
	TTL() time.Duration
}

// HolderID identifies this process among all instances.
func HolderID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s/%d/%s", host, os.Getpid(), uuid.NewString()[:8])
}

// Gate runs work only while holding the lock.
type Gate struct {
	locker  Locker
	log     logx.Logger
	metrics metrics.Collector
}

// NewGate creates a gate over locker.
func NewGate(locker Locker, log logx.Logger, m metrics.Collector) *Gate {
	if log.IsZero() {
		log = logx.Nop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Gate{locker: locker, log: log.With(logx.String("component", "leader")), metrics: m}
}

// TryRun attempts to take the lock and, if it succeeds, runs work
// synchronously before releasing it. It reports whether work ran. The
// context passed to work is cancelled if the lease cannot be renewed.
func (g *Gate) TryRun(ctx context.Context, work func(ctx context.Context)) bool {
	lease, err := g.locker.TryLock(ctx)
	if errors.Is(err, ErrNotAcquired) {
		g.metrics.LeaderAttempt(metrics.LeaderBusy)
		g.log.Debug("not leader this round")
		return false
	}
	if err != nil {
		g.metrics.LeaderAttempt(metrics.LeaderError)
		g.log.Warn("leadership attempt failed", logx.Err(errs.E(errs.KindLock, "leader.TryRun", "", err)))
		return false
	}
	g.metrics.LeaderAttempt(metrics.LeaderAcquired)

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopRenew := make(chan struct{})
	renewDone := make(chan struct{})
	go g.keepAlive(workCtx, lease, cancel, stopRenew, renewDone)

	work(workCtx)

	close(stopRenew)
	<-renewDone

	relCtx, relCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer relCancel()
	if err := lease.Release(relCtx); err != nil {
		g.log.Warn("lease release failed", logx.Err(err))
	}
	return true
}

func (g *Gate) keepAlive(ctx context.Context, lease Lease, lost context.CancelFunc, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ttl := g.locker.TTL()
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lease.Renew(ctx); err != nil {
				g.log.Warn("leadership lost, stopping work", logx.Err(err))
				lost()
				return
			}
		}
	}
}
