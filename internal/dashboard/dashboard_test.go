package dashboard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/opsengine/internal/apperr"
	"github.com/wolfeidau/opsengine/internal/auth"
	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/store"
	"github.com/wolfeidau/opsengine/internal/store/memory"
)

var fixedNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func seededStores(t *testing.T) *store.Stores {
	t.Helper()
	ctx := context.Background()
	stores := memory.NewStores()

	bolts := &models.Item{Name: "Bolts", Barcode: "B-1", Stock: 40, Threshold: 10}
	nuts := &models.Item{Name: "Nuts", Barcode: "N-1", Stock: 3, Threshold: 5}
	require.NoError(t, stores.Inventory.CreateItem(ctx, bolts, nil))
	require.NoError(t, stores.Inventory.CreateItem(ctx, nuts, nil))

	commit := func(item *models.Item, action string, qty int64, at time.Time) {
		if action == models.ActionIn {
			item.Stock += qty
		} else {
			item.Stock -= qty
		}
		txn := &models.Transaction{ItemID: item.ID, Action: action, Quantity: qty, StockAfter: item.Stock, CreatedAt: at}
		require.NoError(t, stores.Inventory.CommitMovement(ctx, item, txn))
	}
	commit(bolts, models.ActionIn, 5, fixedNow.Add(-time.Hour))
	commit(bolts, models.ActionOut, 2, fixedNow.AddDate(0, 0, -1))
	commit(nuts, models.ActionOut, 1, fixedNow.AddDate(0, 0, -6))
	commit(nuts, models.ActionIn, 1, fixedNow.AddDate(0, 0, -30)) // outside the window

	for i, status := range []models.PurchaseStatus{
		models.PurchaseStatusPendingSupervisor,
		models.PurchaseStatusPendingExecutive,
		models.PurchaseStatusApproved,
	} {
		pr := &models.PurchaseRequest{ID: fmt.Sprintf("pr-%d", i), Code: fmt.Sprintf("PR-%04d", i+1), Status: status}
		require.NoError(t, stores.PurchaseRequests.CreatePurchaseRequest(ctx, pr))
	}

	today := models.DayOf(fixedNow)
	for id, status := range map[string]string{"e1": models.AttendancePresent, "e2": models.AttendanceLate, "e3": models.AttendanceAbsent, "e4": models.AttendancePresent} {
		require.NoError(t, stores.Attendance.RecordAttendance(ctx, &models.AttendanceRecord{EmployeeID: id, Day: today, Status: status}))
	}

	require.NoError(t, stores.Notifications.CreateNotification(ctx, &models.Notification{Title: "a", Severity: models.SeverityInfo}))
	read := &models.Notification{Title: "b", Severity: models.SeverityInfo}
	require.NoError(t, stores.Notifications.CreateNotification(ctx, read))
	require.NoError(t, stores.Notifications.MarkNotificationRead(ctx, read.ID))

	return stores
}

func TestComputeSummary(t *testing.T) {
	stores := seededStores(t)
	agg := NewAggregator(stores, Config{Now: func() time.Time { return fixedNow }})

	s, err := agg.ComputeSummary(context.Background())
	require.NoError(t, err)

	require.Equal(t, int64(43+3), s.TotalStock)
	require.Equal(t, 2, s.ItemCount)
	require.Equal(t, 1, s.LowStockCount)
	require.Equal(t, 2, s.PendingPurchaseRequests)
	require.Equal(t, 1, s.UnreadNotifications)
	require.Equal(t, map[string]int64{"Bolts": 43, "Nuts": 3}, s.StockDistribution)

	require.Equal(t, AttendanceSummary{Present: 2, Late: 1, Absent: 1, Recorded: 4, Rate: 0.75}, s.Attendance)

	require.Len(t, s.Trend, DefaultTrendDays)
	require.Equal(t, "2026-03-04", s.Trend[0].Day)
	require.Equal(t, "2026-03-10", s.Trend[6].Day)
	require.Equal(t, TrendPoint{Day: "2026-03-04", Out: 1}, s.Trend[0])
	require.Equal(t, TrendPoint{Day: "2026-03-09", Out: 2}, s.Trend[5])
	require.Equal(t, TrendPoint{Day: "2026-03-10", In: 5}, s.Trend[6])
}

func TestComputeSummary_Empty(t *testing.T) {
	agg := NewAggregator(memory.NewStores(), Config{TrendDays: 3})

	s, err := agg.ComputeSummary(context.Background())
	require.NoError(t, err)
	require.Zero(t, s.TotalStock)
	require.Zero(t, s.Attendance.Rate)
	require.Len(t, s.Trend, 3)
	require.Empty(t, s.StockDistribution)
}

func TestComputeSummary_TotalsSaturate(t *testing.T) {
	ctx := context.Background()
	stores := memory.NewStores()
	for _, item := range []*models.Item{
		{Name: "Bolts", Barcode: "B-1", Stock: math.MaxInt64},
		{Name: "Bolts", Barcode: "B-2", Stock: 7},
		{Name: "Nuts", Barcode: "N-1", Stock: 3},
	} {
		require.NoError(t, stores.Inventory.CreateItem(ctx, item, nil))
	}

	s, err := NewAggregator(stores, Config{}).ComputeSummary(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), s.TotalStock)
	require.Equal(t, int64(math.MaxInt64), s.StockDistribution["Bolts"])
	require.Equal(t, int64(3), s.StockDistribution["Nuts"])
}

func TestAddClamped(t *testing.T) {
	require.Equal(t, int64(5), addClamped(2, 3))
	require.Equal(t, int64(math.MaxInt64), addClamped(math.MaxInt64-1, 2))
	require.Equal(t, int64(math.MaxInt64), addClamped(math.MaxInt64, math.MaxInt64))
	require.Equal(t, int64(4), addClamped(4, 0))
}

// stuckInventory never answers ListItems and ignores cancellation.
type stuckInventory struct {
	store.InventoryStore
	release chan struct{}
}

func (s *stuckInventory) ListItems(ctx context.Context) ([]*models.Item, error) {
	<-s.release
	return nil, nil
}

func TestComputeSummary_Timeout(t *testing.T) {
	stores := memory.NewStores()
	stuck := &stuckInventory{InventoryStore: stores.Inventory, release: make(chan struct{})}
	defer close(stuck.release)
	stores.Inventory = stuck

	agg := NewAggregator(stores, Config{Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := agg.ComputeSummary(context.Background())
	require.ErrorIs(t, err, apperr.AggregationTimeout)
	require.Less(t, time.Since(start), time.Second)
}

type failingNotifications struct {
	store.NotificationStore
}

func (failingNotifications) CountUnreadNotifications(ctx context.Context) (int, error) {
	return 0, errors.New("connection refused")
}

func TestComputeSummary_DownstreamFailure(t *testing.T) {
	stores := memory.NewStores()
	stores.Notifications = failingNotifications{stores.Notifications}

	_, err := NewAggregator(stores, Config{}).ComputeSummary(context.Background())
	require.ErrorIs(t, err, apperr.DownstreamUnavailable)
	require.ErrorContains(t, err, "connection refused")
}

func TestSummary_RequiresCapability(t *testing.T) {
	agg := NewAggregator(memory.NewStores(), Config{})
	ctx := context.Background()

	viewer := &auth.Actor{
		Employee: &models.Employee{ID: "e1"},
		Role:     &models.Role{Name: "viewer", Capabilities: map[string]bool{string(auth.CapDashboardView): true}},
	}
	_, err := agg.Summary(ctx, viewer)
	require.NoError(t, err)

	nobody := &auth.Actor{Employee: &models.Employee{ID: "e2"}, Role: &models.Role{Name: "none"}}
	_, err = agg.Summary(ctx, nobody)
	require.ErrorIs(t, err, apperr.Authorization)

	_, err = agg.Summary(ctx, nil)
	require.ErrorIs(t, err, apperr.Authentication)
}
