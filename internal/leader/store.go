package leader

import (
	"context"
	"errors"
	"time"

	"github.com/fentz26/petfeeder/internal/models"
	"github.com/fentz26/petfeeder/internal/store"
)

// LockStore is the lease-row slice of the store.
type LockStore interface {
	AcquireLock(ctx context.Context, name, holderID string, ttl time.Duration) (*models.Lock, error)
	RenewLock(ctx context.Context, name, holderID string, ttl time.Duration) error
	ReleaseLock(ctx context.Context, name, holderID string) error
}

// StoreLocker leases a row in the locks table. It works across hosts that
// share one database.
type StoreLocker struct {
	store  LockStore
	name   string
	holder string
	ttl    time.Duration
}

// NewStoreLocker creates a lease-row locker.
func NewStoreLocker(s LockStore, name, holder string, ttl time.Duration) *StoreLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &StoreLocker{store: s, name: name, holder: holder, ttl: ttl}
}

func (l *StoreLocker) TTL() time.Duration { return l.ttl }

func (l *StoreLocker) TryLock(ctx context.Context) (Lease, error) {
	_, err := l.store.AcquireLock(ctx, l.name, l.holder, l.ttl)
	if errors.Is(err, store.ErrLocked) {
		return nil, ErrNotAcquired
	}
	if err != nil {
		return nil, err
	}
	return &storeLease{l: l}, nil
}

type storeLease struct {
	l *StoreLocker
}

func (s *storeLease) Renew(ctx context.Context) error {
	err := s.l.store.RenewLock(ctx, s.l.name, s.l.holder, s.l.ttl)
	if errors.Is(err, store.ErrLocked) {
		return ErrLeaseLost
	}
	return err
}

func (s *storeLease) Release(ctx context.Context) error {
	return s.l.store.ReleaseLock(ctx, s.l.name, s.l.holder)
}
