package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fentz26/petfeeder/internal/models"
	"github.com/google/uuid"
)

// WritePDR records a process decision record.
func (s *Store) WritePDR(ctx context.Context, action, inputsHash, outcome, commandID, details string) (*models.PDREntry, error) {
	entry := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		CommandID:  commandID,
		Details:    details,
		Timestamp:  s.now(),
	}

	_, err := s.exec(ctx,
		`INSERT INTO pdr (id, action, inputs_hash, outcome, command_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Action, entry.InputsHash, entry.Outcome, nullString(entry.CommandID), nullString(entry.Details), entry.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return entry, nil
}

// ListPDR returns decision records for a command, or all of them when
// commandID is empty, newest first.
func (s *Store) ListPDR(ctx context.Context, commandID string, limit int) ([]models.PDREntry, error) {
	query := `SELECT id, action, inputs_hash, outcome, command_id, details, timestamp FROM pdr`
	var args []any
	if commandID != "" {
		query += ` WHERE command_id = ?`
		args = append(args, commandID)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var out []models.PDREntry
	for rows.Next() {
		var (
			e              models.PDREntry
			cmdID, details sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &cmdID, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		e.CommandID = cmdID.String
		e.Details = details.String
		out = append(out, e)
	}
	return out, rows.Err()
}
