package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fentz26/petfeeder/internal/models"
)

// AcquireLock attempts to take the named lock for holderID without waiting.
// Expired rows are cleared first. If another holder has a live row, it
// returns ErrLocked. If holderID already holds it, the lease is extended.
func (s *Store) AcquireLock(ctx context.Context, name, holderID string, ttl time.Duration) (*models.Lock, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM locks WHERE name = ? AND expires_at <= ?`), name, now); err != nil {
		return nil, fmt.Errorf("clean expired locks: %w", err)
	}

	var (
		holder    string
		createdAt time.Time
	)
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT holder_id, created_at FROM locks WHERE name = ?`), name).Scan(&holder, &createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("check existing lock: %w", err)
	case holder != holderID:
		return nil, ErrLocked
	}

	lock := &models.Lock{
		Name:      name,
		HolderID:  holderID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if holder == holderID {
		lock.CreatedAt = createdAt
		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE locks SET expires_at = ? WHERE name = ? AND holder_id = ?`), lock.ExpiresAt, name, holderID); err != nil {
			return nil, fmt.Errorf("extend lock: %w", err)
		}
	} else {
		_, err = tx.ExecContext(ctx,
			s.rebind(`INSERT INTO locks (name, holder_id, created_at, expires_at) VALUES (?, ?, ?, ?)`),
			lock.Name, lock.HolderID, lock.CreatedAt, lock.ExpiresAt,
		)
		if err != nil {
			// lost a race with another instance inserting the same row
			if isUniqueViolation(err) {
				return nil, ErrLocked
			}
			return nil, fmt.Errorf("insert lock: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return lock, nil
}

// RenewLock pushes the expiry of a live lock held by holderID. It returns
// ErrLocked when the lease was lost.
func (s *Store) RenewLock(ctx context.Context, name, holderID string, ttl time.Duration) error {
	now := s.now()
	res, err := s.exec(ctx,
		`UPDATE locks SET expires_at = ? WHERE name = ? AND holder_id = ? AND expires_at > ?`,
		now.Add(ttl), name, holderID, now,
	)
	if err != nil {
		return fmt.Errorf("renew lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrLocked
	}
	return nil
}

// ReleaseLock deletes the lock row if holderID owns it.
func (s *Store) ReleaseLock(ctx context.Context, name, holderID string) error {
	_, err := s.exec(ctx, `DELETE FROM locks WHERE name = ? AND holder_id = ?`, name, holderID)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// GetLock returns the live lock row for name, or ErrNotFound.
func (s *Store) GetLock(ctx context.Context, name string) (*models.Lock, error) {
	lock := &models.Lock{}
	err := s.queryRow(ctx,
		`SELECT name, holder_id, created_at, expires_at FROM locks WHERE name = ? AND expires_at > ?`,
		name, s.now(),
	).Scan(&lock.Name, &lock.HolderID, &lock.CreatedAt, &lock.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query lock: %w", err)
	}
	return lock, nil
}

// SweepExpiredLocks deletes every expired lock row and reports how many went.
func (s *Store) SweepExpiredLocks(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM locks WHERE expires_at <= ?`, s.now())
	if err != nil {
		return 0, fmt.Errorf("sweep locks: %w", err)
	}
	return res.RowsAffected()
}
