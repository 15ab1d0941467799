package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetKV returns the value stored under key, or ErrNotFound.
func (s *Store) GetKV(ctx context.Context, key string) (string, error) {
	var v string
	err := s.queryRow(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query kv: %w", err)
	}
	return v, nil
}

// PutKV overwrites the value stored under key.
func (s *Store) PutKV(ctx context.Context, key, value string) error {
	_, err := s.exec(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now(),
	)
	if err != nil {
		return fmt.Errorf("upsert kv: %w", err)
	}
	return nil
}
