// Package metrics exposes scheduler, leader and queue instrumentation.
package metrics

import "time"

// Leader attempt results.
const (
	LeaderAcquired = "acquired"
	LeaderBusy     = "busy"
	LeaderError    = "error"
)

// Collector receives instrumentation events.
type Collector interface {
	LeaderAttempt(result string)
	TickCompleted(d time.Duration, due, enqueued, failed int)
	CommandEnqueued(kind string)
	CommandTransition(status string)
	Dispense(result string, d time.Duration)
}

// Nop discards everything.
type Nop struct{}

// NewNop returns a collector that records nothing.
func NewNop() *Nop { return &Nop{} }

func (*Nop) LeaderAttempt(string)                       {}
func (*Nop) TickCompleted(time.Duration, int, int, int) {}
func (*Nop) CommandEnqueued(string)                     {}
func (*Nop) CommandTransition(string)                   {}
func (*Nop) Dispense(string, time.Duration)             {}

var _ Collector = (*Nop)(nil)
