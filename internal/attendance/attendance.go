// Package attendance records daily employee attendance.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/opsengine/internal/apperr"
	"github.com/wolfeidau/opsengine/internal/auth"
	"github.com/wolfeidau/opsengine/internal/broadcast"
	"github.com/wolfeidau/opsengine/internal/fanout"
	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/store"
)

// Register owns attendance records.
type Register struct {
	attendance store.AttendanceStore
	employees  store.EmployeeStore
	push       fanout.Pusher
	loc        *time.Location
	now        func() time.Time
}

// NewRegister creates a register. Days are cut in loc, UTC when nil.
func NewRegister(attendance store.AttendanceStore, employees store.EmployeeStore, push fanout.Pusher, loc *time.Location) *Register {
	if loc == nil {
		loc = time.UTC
	}
	return &Register{attendance: attendance, employees: employees, push: push, loc: loc, now: time.Now}
}

// RecordRequest marks one employee for today.
type RecordRequest struct {
	EmployeeID string `json:"employee_id"`
	Status     string `json:"status"`
	Note       string `json:"note,omitempty"`
}

// Record upserts today's record for the employee.
func (r *Register) Record(ctx context.Context, actor *auth.Actor, req RecordRequest) (*models.AttendanceRecord, error) {
	if err := actor.Require(auth.CapAttendanceManage); err != nil {
		return nil, err
	}

	status := strings.ToLower(strings.TrimSpace(req.Status))
	if !models.ValidAttendanceStatus(status) {
		return nil, apperr.New(apperr.KindInvalidRequest, "status must be present, late or absent, got %q", req.Status)
	}
	if req.EmployeeID == "" {
		return nil, apperr.New(apperr.KindInvalidRequest, "employee_id is required")
	}

	employee, err := r.employees.GetEmployee(ctx, req.EmployeeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "employee %s not found", req.EmployeeID)
		}
		return nil, downstream("get employee", err)
	}

	now := r.now().In(r.loc)
	rec := &models.AttendanceRecord{
		EmployeeID:   employee.ID,
		EmployeeName: employee.Name,
		Day:          models.DayOf(now),
		Status:       status,
		Note:         strings.TrimSpace(req.Note),
		RecordedBy:   actor.ID(),
		RecordedAt:   now.UTC(),
	}
	if err := r.attendance.RecordAttendance(ctx, rec); err != nil {
		return nil, downstream("record attendance", err)
	}

	log.Info().
		Str("employee_id", rec.EmployeeID).
		Str("status", status).
		Str("day", rec.Day.Format(time.DateOnly)).
		Str("actor", actor.ID()).
		Msg("Attendance recorded")

	r.push.Publish(ctx, broadcast.TopicAttendance, broadcast.TopicDashboard)
	return rec, nil
}

// List returns the records for day. A zero day means today.
func (r *Register) List(ctx context.Context, actor *auth.Actor, day time.Time) ([]*models.AttendanceRecord, error) {
	if err := actor.Require(auth.CapAttendanceView); err != nil {
		return nil, err
	}
	if day.IsZero() {
		day = r.now().In(r.loc)
	}
	records, err := r.attendance.ListAttendance(ctx, models.DayOf(day))
	if err != nil {
		return nil, downstream("list attendance", err)
	}
	return records, nil
}

// ParseDay parses a YYYY-MM-DD day in the register's location. An empty
// string yields the zero time.
func (r *Register) ParseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	day, err := time.ParseInLocation(time.DateOnly, s, r.loc)
	if err != nil {
		return time.Time{}, apperr.New(apperr.KindInvalidRequest, "day must be YYYY-MM-DD, got %q", s)
	}
	return day, nil
}

func downstream(op string, err error) error {
	return apperr.Wrap(apperr.KindDownstreamUnavailable, fmt.Errorf("failed to %s: %w", op, err))
}
