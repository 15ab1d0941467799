// Package audit writes process decision records for queue state changes.
package audit

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/fentz26/petfeeder/internal/models"
	"github.com/zeebo/xxh3"
)

// Actions recorded by the queue.
const (
	ActionEnqueue = "command.enqueue"
	ActionStatus  = "command.status"
	ActionCancel  = "command.cancel"
	ActionExpire  = "command.expire"
	ActionEvent   = "feeding_event.insert"
)

// Actions recorded by schedule management.
const (
	ActionScheduleCreate = "schedule.create"
	ActionScheduleToggle = "schedule.toggle"
	ActionScheduleDelete = "schedule.delete"
)

// Outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Sink persists decision records.
type Sink interface {
	WritePDR(ctx context.Context, action, inputsHash, outcome, commandID, details string) (*models.PDREntry, error)
}

// Recorder is the interface consumers depend on.
type Recorder interface {
	Record(ctx context.Context, action string, inputs any, outcome, commandID, details string) error
}

// PDRWriter writes Process Decision Records for audit trails.
type PDRWriter struct {
	sink Sink
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(s Sink) *PDRWriter {
	return &PDRWriter{sink: s}
}

// Record writes a PDR entry for a state-mutating action.
func (w *PDRWriter) Record(ctx context.Context, action string, inputs any, outcome, commandID, details string) error {
	_, err := w.sink.WritePDR(ctx, action, HashInputs(inputs), outcome, commandID, details)
	return err
}

// HashInputs fingerprints the JSON form of inputs.
func HashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	return strconv.FormatUint(xxh3.Hash(data), 16)
}

// Nop drops every record.
type Nop struct{}

func (Nop) Record(context.Context, string, any, string, string, string) error { return nil }
