package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wolfeidau/opsengine/internal/models"
)

type attendanceKey struct {
	employeeID string
	day        string
}

// AttendanceStore implements store.AttendanceStore using in-memory storage.
type AttendanceStore struct {
	mu      sync.RWMutex
	records map[attendanceKey]*models.AttendanceRecord
}

// NewAttendanceStore creates a new in-memory attendance store.
func NewAttendanceStore() *AttendanceStore {
	return &AttendanceStore{
		records: make(map[attendanceKey]*models.AttendanceRecord),
	}
}

func dayKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

// RecordAttendance upserts the record for the employee and day.
func (s *AttendanceStore) RecordAttendance(ctx context.Context, rec *models.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Day = models.DayOf(rec.Day)
	clone := *rec
	s.records[attendanceKey{employeeID: rec.EmployeeID, day: dayKey(rec.Day)}] = &clone
	return nil
}

// ListAttendance returns the records for a day ordered by employee name.
func (s *AttendanceStore) ListAttendance(ctx context.Context, day time.Time) ([]*models.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := dayKey(day)
	var out []*models.AttendanceRecord
	for k, rec := range s.records {
		if k.day == key {
			clone := *rec
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EmployeeName == out[j].EmployeeName {
			return out[i].EmployeeID < out[j].EmployeeID
		}
		return out[i].EmployeeName < out[j].EmployeeName
	})
	return out, nil
}
