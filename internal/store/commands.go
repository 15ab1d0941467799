package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fentz26/petfeeder/internal/models"
	"github.com/google/uuid"
)

const commandColumns = `id, account_id, device_id, command_type, payload, status, idempotency_token, priority, error_message, created_at, updated_at, delivered_at, executed_at`

// CommandFilter narrows ListCommands. Zero fields match everything.
type CommandFilter struct {
	DeviceID string
	Status   models.CommandStatus
	Limit    int
}

// InsertCommand writes a new command row. The idempotency token is unique;
// a second insert with the same token returns ErrDuplicateToken.
func (s *Store) InsertCommand(ctx context.Context, cmd *models.Command) error {
	now := s.now()
	if cmd.ID == "" {
		cmd.ID = uuid.New().String()
	}
	if cmd.Status == "" {
		cmd.Status = models.StatusPending
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = now
	}
	cmd.CreatedAt = cmd.CreatedAt.UTC()
	cmd.UpdatedAt = cmd.CreatedAt

	_, err := s.exec(ctx,
		`INSERT INTO commands (`+commandColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cmd.ID, cmd.AccountID, cmd.DeviceID, string(cmd.Kind), nullString(string(cmd.Payload)), string(cmd.Status),
		cmd.IdempotencyToken, cmd.Priority, nullString(cmd.ErrorMessage), cmd.CreatedAt, cmd.UpdatedAt,
		nullTime(cmd.DeliveredAt), nullTime(cmd.ExecutedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateToken
		}
		return fmt.Errorf("insert command: %w", err)
	}
	return nil
}

// GetCommand retrieves a command by ID.
func (s *Store) GetCommand(ctx context.Context, id string) (*models.Command, error) {
	cmd, err := scanCommand(s.queryRow(ctx, `SELECT `+commandColumns+` FROM commands WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query command: %w", err)
	}
	return cmd, nil
}

// GetCommandByToken retrieves a command by its idempotency token.
func (s *Store) GetCommandByToken(ctx context.Context, token string) (*models.Command, error) {
	cmd, err := scanCommand(s.queryRow(ctx, `SELECT `+commandColumns+` FROM commands WHERE idempotency_token = ?`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query command: %w", err)
	}
	return cmd, nil
}

// UpdateCommandStatus moves a command from one status to another. The update
// only applies while the row is still in from; otherwise it returns
// ErrConflict, or ErrNotFound when the row does not exist. delivered_at and
// executed_at are stamped on entry to DELIVERED and EXECUTED.
func (s *Store) UpdateCommandStatus(ctx context.Context, id string, from, to models.CommandStatus, errMsg string) (*models.Command, error) {
	now := s.now()
	set := []string{"status = ?", "updated_at = ?"}
	args := []any{string(to), now}
	switch to {
	case models.StatusDelivered:
		set = append(set, "delivered_at = ?")
		args = append(args, now)
	case models.StatusExecuted:
		set = append(set, "executed_at = ?")
		args = append(args, now)
	}
	if errMsg != "" {
		set = append(set, "error_message = ?")
		args = append(args, errMsg)
	}
	args = append(args, id, string(from))

	res, err := s.exec(ctx, `UPDATE commands SET `+strings.Join(set, ", ")+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("update command status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetCommand(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}
	return s.GetCommand(ctx, id)
}

// ListPendingCommands returns PENDING commands in delivery order: higher
// priority first, then oldest first. An empty deviceID matches every device.
func (s *Store) ListPendingCommands(ctx context.Context, deviceID string) ([]models.Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands WHERE status = ?`
	args := []any{string(models.StatusPending)}
	if deviceID != "" {
		query += ` AND device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY priority DESC, created_at ASC`
	return s.listCommands(ctx, query, args...)
}

// ListCommands returns commands newest first.
func (s *Store) ListCommands(ctx context.Context, f CommandFilter) ([]models.Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands`
	var (
		where []string
		args  []any
	)
	if f.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, f.DeviceID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return s.listCommands(ctx, query, args...)
}

// ListStalePending returns PENDING commands created before cutoff.
func (s *Store) ListStalePending(ctx context.Context, cutoff time.Time) ([]models.Command, error) {
	return s.listCommands(ctx,
		`SELECT `+commandColumns+` FROM commands WHERE status = ? AND created_at < ? ORDER BY created_at`,
		string(models.StatusPending), cutoff.UTC(),
	)
}

func (s *Store) listCommands(ctx context.Context, query string, args ...any) ([]models.Command, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query commands: %w", err)
	}
	defer rows.Close()

	var out []models.Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		out = append(out, *cmd)
	}
	return out, rows.Err()
}

func scanCommand(sc scanner) (*models.Command, error) {
	var (
		cmd                     models.Command
		kind, status            string
		payload, errMsg         sql.NullString
		deliveredAt, executedAt sql.NullTime
	)
	err := sc.Scan(&cmd.ID, &cmd.AccountID, &cmd.DeviceID, &kind, &payload, &status, &cmd.IdempotencyToken,
		&cmd.Priority, &errMsg, &cmd.CreatedAt, &cmd.UpdatedAt, &deliveredAt, &executedAt)
	if err != nil {
		return nil, err
	}
	cmd.Kind = models.CommandKind(kind)
	cmd.Status = models.CommandStatus(status)
	if payload.Valid {
		cmd.Payload = []byte(payload.String)
	}
	cmd.ErrorMessage = errMsg.String
	cmd.DeliveredAt = timePtr(deliveredAt)
	cmd.ExecutedAt = timePtr(executedAt)
	return &cmd, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
