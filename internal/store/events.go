package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fentz26/petfeeder/internal/models"
	"github.com/google/uuid"
)

const eventColumns = `id, account_id, device_id, command_id, pet_id, target_grams, status, timestamp`

// EventFilter narrows ListFeedingEvents.
type EventFilter struct {
	AccountID string
	DeviceID  string
	Limit     int
}

// InsertFeedingEvent writes a feeding history row.
func (s *Store) InsertFeedingEvent(ctx context.Context, ev *models.FeedingEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Status == "" {
		ev.Status = models.EventPending
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO feeding_events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.AccountID, ev.DeviceID, nullString(ev.CommandID), nullString(ev.PetID), ev.TargetGrams, string(ev.Status), ev.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert feeding event: %w", err)
	}
	return nil
}

// UpdateFeedingEventByCommand sets the status of the event linked to a command.
func (s *Store) UpdateFeedingEventByCommand(ctx context.Context, commandID string, status models.EventStatus) error {
	res, err := s.exec(ctx, `UPDATE feeding_events SET status = ? WHERE command_id = ?`, string(status), commandID)
	if err != nil {
		return fmt.Errorf("update feeding event: %w", err)
	}
	return requireRow(res)
}

// ListFeedingEvents returns feeding history, newest first.
func (s *Store) ListFeedingEvents(ctx context.Context, f EventFilter) ([]models.FeedingEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM feeding_events WHERE 1 = 1`
	var args []any
	if f.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, f.AccountID)
	}
	if f.DeviceID != "" {
		query += ` AND device_id = ?`
		args = append(args, f.DeviceID)
	}
	query += ` ORDER BY timestamp DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feeding events: %w", err)
	}
	defer rows.Close()

	var out []models.FeedingEvent
	for rows.Next() {
		var (
			ev           models.FeedingEvent
			cmdID, petID sql.NullString
			status       string
		)
		if err := rows.Scan(&ev.ID, &ev.AccountID, &ev.DeviceID, &cmdID, &petID, &ev.TargetGrams, &status, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan feeding event: %w", err)
		}
		ev.CommandID = cmdID.String
		ev.PetID = petID.String
		ev.Status = models.EventStatus(status)
		out = append(out, ev)
	}
	return out, rows.Err()
}
