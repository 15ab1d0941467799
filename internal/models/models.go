// Package models defines the core domain types for the feeder control plane.
package models

import (
	"encoding/json"
	"time"
)

// CommandKind identifies what a queued command asks the device to do.
type CommandKind string

const (
	CommandFeed   CommandKind = "FEED"
	CommandPause  CommandKind = "PAUSE"
	CommandResume CommandKind = "RESUME"
)

// Command priorities. Control commands outrank feed commands.
const (
	PriorityFeed    = 0
	PriorityControl = 1
)

// Feed portion limits, matching the hopper.
const (
	MinPortionGrams = 1
	MaxPortionGrams = 500
)

// FeedPayload is the payload of a FEED command.
type FeedPayload struct {
	TargetGrams int    `json:"target_grams"`
	PetID       string `json:"pet_id,omitempty"`
}

// Command is a durable queue entry addressed to one device.
type Command struct {
	ID               string          `json:"id"`
	AccountID        string          `json:"account_id"`
	DeviceID         string          `json:"device_id"`
	Kind             CommandKind     `json:"command_type"`
	Payload          json.RawMessage `json:"payload"`
	Status           CommandStatus   `json:"status"`
	IdempotencyToken string          `json:"idempotency_token"`
	Priority         int             `json:"priority"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	DeliveredAt      *time.Time      `json:"delivered_at,omitempty"`
	ExecutedAt       *time.Time      `json:"executed_at,omitempty"`
}

// FeedPayload decodes the payload of a FEED command.
func (c *Command) FeedPayload() (FeedPayload, error) {
	var p FeedPayload
	if len(c.Payload) == 0 {
		return p, nil
	}
	err := json.Unmarshal(c.Payload, &p)
	return p, err
}

// EventStatus is the outcome recorded on a feeding event.
type EventStatus string

const (
	EventPending EventStatus = "PENDING"
	EventSuccess EventStatus = "SUCCESS"
	EventFailed  EventStatus = "FAILED"
)

// FeedingEvent is the history record written next to every FEED command.
type FeedingEvent struct {
	ID          string      `json:"id"`
	AccountID   string      `json:"account_id"`
	DeviceID    string      `json:"device_id"`
	CommandID   string      `json:"command_id,omitempty"`
	PetID       string      `json:"pet_id,omitempty"`
	TargetGrams int         `json:"target_grams"`
	Status      EventStatus `json:"status"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Lock is a named, expiring lease row.
type Lock struct {
	Name      string    `json:"name"`
	HolderID  string    `json:"holder_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	CommandID  string    `json:"command_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
