package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfeidau/opsengine/internal/models"
)

// AttendanceStore implements store.AttendanceStore using PostgreSQL.
type AttendanceStore struct {
	pool *pgxpool.Pool
}

// NewAttendanceStore creates a new PostgreSQL-backed attendance store.
func NewAttendanceStore(pool *pgxpool.Pool) *AttendanceStore {
	return &AttendanceStore{pool: pool}
}

// RecordAttendance upserts the record for the employee and day.
func (s *AttendanceStore) RecordAttendance(ctx context.Context, rec *models.AttendanceRecord) error {
	rec.Day = models.DayOf(rec.Day)
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO attendance (employee_id, day, status, note, recorded_by, recorded_at)
		VALUES ($1, $2::date, $3, $4, $5, $6)
		ON CONFLICT (employee_id, day) DO UPDATE SET
			status = EXCLUDED.status,
			note = EXCLUDED.note,
			recorded_by = EXCLUDED.recorded_by,
			recorded_at = EXCLUDED.recorded_at
	`, rec.EmployeeID, rec.Day.Format(time.DateOnly), rec.Status, rec.Note, rec.RecordedBy, rec.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to record attendance: %w", mapPostgresError(err))
	}
	return nil
}

// ListAttendance returns the records for a day ordered by employee name.
func (s *AttendanceStore) ListAttendance(ctx context.Context, day time.Time) ([]*models.AttendanceRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.employee_id, COALESCE(e.name, ''), a.status, a.note, a.recorded_by, a.recorded_at
		FROM attendance a
		LEFT JOIN employees e ON e.id = a.employee_id
		WHERE a.day = $1::date
		ORDER BY e.name, a.employee_id
	`, day.Format(time.DateOnly))
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance: %w", mapPostgresError(err))
	}
	defer rows.Close()

	dayStart := models.DayOf(day)
	var out []*models.AttendanceRecord
	for rows.Next() {
		rec := models.AttendanceRecord{Day: dayStart}
		if err := rows.Scan(&rec.EmployeeID, &rec.EmployeeName, &rec.Status, &rec.Note, &rec.RecordedBy, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attendance: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
