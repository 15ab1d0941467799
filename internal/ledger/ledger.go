// Package ledger records which schedule slots have already fired today.
//
// The ledger is one document per account mapping "<scheduleId>_<HH:MM>" to
// the ISO date the slot last fired. Entries for other dates are garbage and
// are dropped by PruneStale.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// KeyPrefix prefixes the per-account document key.
const KeyPrefix = "processed_feedings_"

// DocumentKey returns the persistence key for an account.
func DocumentKey(accountID string) string {
	return KeyPrefix + accountID
}

// SlotKey returns the ledger key of one schedule slot.
func SlotKey(scheduleID, timeOfDay string) string {
	return scheduleID + "_" + timeOfDay
}

// backend loads and saves the whole document.
type backend interface {
	load(ctx context.Context) (map[string]string, error)
	save(ctx context.Context, doc map[string]string) error
}

// Ledger is the dispatch ledger of one account.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]string
	// unsaved holds marks whose last persist failed. They survive Reload
	// and are written again by the next persist.
	unsaved map[string]string
	backend backend
}

func open(ctx context.Context, b backend) (*Ledger, error) {
	entries, err := b.load(ctx)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = make(map[string]string)
	}
	return &Ledger{entries: entries, unsaved: make(map[string]string), backend: b}, nil
}

// Reload replaces the in-memory entries with the persisted document. Another
// instance may have written it while this one was not leader. Marks that
// were never saved are laid over the loaded document.
func (l *Ledger) Reload(ctx context.Context) error {
	entries, err := l.backend.load(ctx)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = make(map[string]string)
	}
	l.mu.Lock()
	for k, v := range l.unsaved {
		entries[k] = v
	}
	l.entries = entries
	l.mu.Unlock()
	return nil
}

// HasFiredToday reports whether key was marked on today.
func (l *Ledger) HasFiredToday(key, today string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[key] == today
}

// MarkFired records date for key, overwriting any prior value. If persisting
// fails the entry is kept in memory, survives Reload, and is saved again by
// the next MarkFired or PruneStale.
func (l *Ledger) MarkFired(ctx context.Context, key, date string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = date
	l.unsaved[key] = date
	return l.persist(ctx)
}

// PruneStale removes every entry whose date is not today and reports how
// many were dropped.
func (l *Ledger) PruneStale(ctx context.Context, today string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, v := range l.entries {
		if v != today {
			delete(l.entries, k)
			n++
		}
	}
	for k, v := range l.unsaved {
		if v != today {
			delete(l.unsaved, k)
		}
	}
	if n == 0 && len(l.unsaved) == 0 {
		return 0, nil
	}
	return n, l.persist(ctx)
}

// Unsaved reports how many marks are waiting to be persisted.
func (l *Ledger) Unsaved() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.unsaved)
}

// Snapshot returns a copy of the entries.
func (l *Ledger) Snapshot() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.entries))
	for k, v := range l.entries {
		out[k] = v
	}
	return out
}

func (l *Ledger) persist(ctx context.Context) error {
	if err := l.backend.save(ctx, l.entries); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}
	clear(l.unsaved)
	return nil
}

func decode(data []byte) (map[string]string, error) {
	doc := make(map[string]string)
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	return doc, nil
}
