package models

import "time"

// Attendance statuses.
const (
	AttendancePresent = "present"
	AttendanceLate    = "late"
	AttendanceAbsent  = "absent"
)

// AttendanceRecord is an employee's attendance for one day.
// There is at most one record per employee and day.
type AttendanceRecord struct {
	EmployeeID   string    `json:"employee_id"`
	EmployeeName string    `json:"employee_name,omitempty"`
	Day          time.Time `json:"day"`
	Status       string    `json:"status"`
	Note         string    `json:"note,omitempty"`
	RecordedBy   string    `json:"recorded_by"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// ValidAttendanceStatus reports whether s is a known attendance status.
func ValidAttendanceStatus(s string) bool {
	switch s {
	case AttendancePresent, AttendanceLate, AttendanceAbsent:
		return true
	}
	return false
}

// DayOf truncates t to midnight in its own location.
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
