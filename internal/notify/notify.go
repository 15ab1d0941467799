// Package notify sends operator alerts when feeding commands fail.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fentz26/petfeeder/internal/logx"
	"github.com/fentz26/petfeeder/internal/models"
)

// Alert is one operator-facing message.
type Alert struct {
	Title string
	Body  string
	At    time.Time
}

// Text renders the alert as plain text.
func (a Alert) Text() string {
	var b strings.Builder
	b.WriteString(a.Title)
	if a.Body != "" {
		b.WriteString("\n")
		b.WriteString(a.Body)
	}
	if !a.At.IsZero() {
		b.WriteString("\n")
		b.WriteString(a.At.Format(time.RFC3339))
	}
	return b.String()
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// CommandFailed builds the alert for a command stamped FAILED.
func CommandFailed(cmd models.Command, at time.Time) Alert {
	body := fmt.Sprintf("%s command %s on device %s", cmd.Kind, cmd.ID, cmd.DeviceID)
	if p, err := cmd.FeedPayload(); err == nil && p.TargetGrams > 0 {
		body += fmt.Sprintf(" (%dg)", p.TargetGrams)
	}
	if cmd.ErrorMessage != "" {
		body += ": " + cmd.ErrorMessage
	}
	return Alert{Title: "Feeding command failed", Body: body, At: at}
}

// DispatchFailed builds the alert for a scheduled slot that could not be
// queued.
func DispatchFailed(scheduleID, timeOfDay, deviceID string, err error, at time.Time) Alert {
	return Alert{
		Title: "Scheduled feeding not queued",
		Body:  fmt.Sprintf("schedule %s slot %s on device %s: %v", scheduleID, timeOfDay, deviceID, err),
		At:    at,
	}
}

// Nop drops alerts.
type Nop struct{}

func (Nop) Notify(context.Context, Alert) error { return nil }

// Log writes alerts to the structured log.
type Log struct {
	log logx.Logger
}

// NewLog returns a notifier that logs at warn level.
func NewLog(log logx.Logger) *Log { return &Log{log: log} }

func (l *Log) Notify(_ context.Context, a Alert) error {
	l.log.Warn(a.Title, logx.String("body", a.Body))
	return nil
}
