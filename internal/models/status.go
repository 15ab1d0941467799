package models

import "fmt"

// CommandStatus is the lifecycle state of a queued command.
type CommandStatus string

const (
	StatusPending   CommandStatus = "PENDING"
	StatusDelivered CommandStatus = "DELIVERED"
	StatusExecuted  CommandStatus = "EXECUTED"
	StatusCancelled CommandStatus = "CANCELLED"
	StatusFailed    CommandStatus = "FAILED"
)

var terminalStatuses = map[CommandStatus]bool{
	StatusExecuted:  true,
	StatusCancelled: true,
	StatusFailed:    true,
}

// pending → delivered → executed, pending → cancelled, pending|delivered → failed
var validCommandTransitions = map[CommandStatus]map[CommandStatus]bool{
	StatusPending: {
		StatusDelivered: true,
		StatusCancelled: true,
		StatusFailed:    true,
	},
	StatusDelivered: {
		StatusExecuted: true,
		StatusFailed:   true,
	},
}

// Valid reports whether s is a known status.
func (s CommandStatus) Valid() bool {
	switch s {
	case StatusPending, StatusDelivered, StatusExecuted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s CommandStatus) IsTerminal() bool {
	return terminalStatuses[s]
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to CommandStatus) bool {
	return validCommandTransitions[from][to]
}

// ValidateCommandTransition returns an error describing an illegal move.
func ValidateCommandTransition(from, to CommandStatus) error {
	if !to.Valid() {
		return fmt.Errorf("unknown command status %q", to)
	}
	if from.IsTerminal() {
		return fmt.Errorf("command is %s, a terminal status", from)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid command transition %s -> %s", from, to)
	}
	return nil
}

// ParseCommandStatus parses a status string as stored or sent on the wire.
func ParseCommandStatus(s string) (CommandStatus, error) {
	st := CommandStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown command status %q", s)
	}
	return st, nil
}
