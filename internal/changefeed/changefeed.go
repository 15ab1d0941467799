// Package changefeed carries insert and update notifications for command rows
// from the queue to consumers such as the device bridge.
package changefeed

import (
	"context"
	"sync"
	"time"

	"github.com/fentz26/petfeeder/internal/models"
)

// Op is the kind of row change.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
)

// Change is one command row change.
type Change struct {
	Op      Op             `json:"op"`
	Command models.Command `json:"command"`
	At      time.Time      `json:"at"`
}

// Filter selects changes. Zero fields match everything.
type Filter struct {
	DeviceID string
	Status   models.CommandStatus
}

// Match reports whether c passes the filter.
func (f Filter) Match(c Change) bool {
	if f.DeviceID != "" && c.Command.DeviceID != f.DeviceID {
		return false
	}
	if f.Status != "" && c.Command.Status != f.Status {
		return false
	}
	return true
}

// Publisher emits changes.
type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// Subscriber delivers matching changes until ctx is done, then closes the channel.
type Subscriber interface {
	Subscribe(ctx context.Context, f Filter) (<-chan Change, error)
}

// Nop discards every change.
type Nop struct{}

func (Nop) Publish(context.Context, Change) error { return nil }

const subscriberBuffer = 64

// Local is an in-process broker. Slow subscribers miss changes rather than
// block the publisher; consumers are expected to rescan on their own.
type Local struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*localSub
}

type localSub struct {
	filter Filter
	ch     chan Change
}

// NewLocal returns an empty in-process broker.
func NewLocal() *Local {
	return &Local{subs: make(map[int]*localSub)}
}

// Publish fans c out to every matching subscriber.
func (l *Local) Publish(_ context.Context, c Change) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, s := range l.subs {
		if !s.filter.Match(c) {
			continue
		}
		select {
		case s.ch <- c:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber that lives as long as ctx.
func (l *Local) Subscribe(ctx context.Context, f Filter) (<-chan Change, error) {
	s := &localSub{filter: f, ch: make(chan Change, subscriberBuffer)}

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = s
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.subs, id)
		close(s.ch)
		l.mu.Unlock()
	}()
	return s.ch, nil
}

// Subscribers reports the number of live subscriptions.
func (l *Local) Subscribers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}
