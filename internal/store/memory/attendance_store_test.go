package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/opsengine/internal/models"
)

func TestAttendanceStore_Upsert(t *testing.T) {
	ctx := context.Background()
	st := NewAttendanceStore()
	morning := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	require.NoError(t, st.RecordAttendance(ctx, &models.AttendanceRecord{EmployeeID: "e1", Day: morning, Status: models.AttendanceLate}))
	require.NoError(t, st.RecordAttendance(ctx, &models.AttendanceRecord{EmployeeID: "e1", Day: morning.Add(2 * time.Hour), Status: models.AttendancePresent}))
	require.NoError(t, st.RecordAttendance(ctx, &models.AttendanceRecord{EmployeeID: "e2", Day: morning.Add(24 * time.Hour), Status: models.AttendanceAbsent}))

	list, err := st.ListAttendance(ctx, morning)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, models.AttendancePresent, list[0].Status)
	require.True(t, list[0].Day.Equal(morning.Truncate(24*time.Hour)))
}
