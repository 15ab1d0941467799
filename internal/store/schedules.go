package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fentz26/petfeeder/internal/models"
	"github.com/google/uuid"
)

const scheduleColumns = `id, account_id, device_id, pet_id, name, feeding_times, days_of_week, is_active, created_at, updated_at`

// CreateSchedule inserts a new schedule. ID and timestamps are filled in.
func (s *Store) CreateSchedule(ctx context.Context, sch *models.Schedule) error {
	now := s.now()
	if sch.ID == "" {
		sch.ID = uuid.New().String()
	}
	if sch.Name == "" {
		sch.Name = models.DefaultScheduleName
	}
	sch.CreatedAt = now
	sch.UpdatedAt = now

	times, err := json.Marshal(sch.FeedingTimes)
	if err != nil {
		return fmt.Errorf("encode feeding times: %w", err)
	}
	days, err := json.Marshal(sch.DaysOfWeek)
	if err != nil {
		return fmt.Errorf("encode days: %w", err)
	}

	_, err = s.exec(ctx,
		`INSERT INTO schedules (`+scheduleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sch.ID, sch.AccountID, sch.DeviceID, nullString(sch.PetID), sch.Name, string(times), string(days), sch.Active, sch.CreatedAt, sch.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (s *Store) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	row := s.queryRow(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sch, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query schedule: %w", err)
	}
	return sch, nil
}

// ListSchedules returns every schedule of an account, oldest first.
func (s *Store) ListSchedules(ctx context.Context, accountID string) ([]models.Schedule, error) {
	return s.listSchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE account_id = ? ORDER BY created_at`, accountID)
}

// ListActiveSchedules returns the account's schedules with is_active set.
func (s *Store) ListActiveSchedules(ctx context.Context, accountID string) ([]models.Schedule, error) {
	return s.listSchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE account_id = ? AND is_active = ? ORDER BY created_at`, accountID, true)
}

func (s *Store) listSchedules(ctx context.Context, query string, args ...any) ([]models.Schedule, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var out []models.Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, *sch)
	}
	return out, rows.Err()
}

// SetScheduleActive toggles a schedule on or off.
func (s *Store) SetScheduleActive(ctx context.Context, id string, active bool) error {
	res, err := s.exec(ctx, `UPDATE schedules SET is_active = ?, updated_at = ? WHERE id = ?`, active, s.now(), id)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return requireRow(res)
}

// DeleteSchedule removes a schedule. Ledger entries are not touched.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return requireRow(res)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(sc scanner) (*models.Schedule, error) {
	var (
		sch         models.Schedule
		petID       sql.NullString
		times, days string
	)
	if err := sc.Scan(&sch.ID, &sch.AccountID, &sch.DeviceID, &petID, &sch.Name, &times, &days, &sch.Active, &sch.CreatedAt, &sch.UpdatedAt); err != nil {
		return nil, err
	}
	sch.PetID = petID.String
	if err := json.Unmarshal([]byte(times), &sch.FeedingTimes); err != nil {
		return nil, fmt.Errorf("decode feeding times of %s: %w", sch.ID, err)
	}
	if err := json.Unmarshal([]byte(days), &sch.DaysOfWeek); err != nil {
		return nil, fmt.Errorf("decode days of %s: %w", sch.ID, err)
	}
	return &sch, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
