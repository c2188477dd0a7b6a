// Package dashboard computes the operations summary shown on the landing
// page and pushed after every mutation.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/opsengine/internal/apperr"
	"github.com/wolfeidau/opsengine/internal/auth"
	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/store"
	"github.com/wolfeidau/opsengine/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTimeout   = 5 * time.Second
	DefaultTrendDays = 7
)

// Config configures an Aggregator.
type Config struct {
	// Timeout bounds a whole summary computation. Default: 5s
	Timeout time.Duration
	// TrendDays is the length of the movement trend window. Default: 7
	TrendDays int
	// Location decides day boundaries. Default: UTC
	Location *time.Location
	// Now overrides the clock in tests.
	Now func() time.Time
}

// AttendanceSummary counts today's attendance records.
type AttendanceSummary struct {
	Present  int `json:"present"`
	Late     int `json:"late"`
	Absent   int `json:"absent"`
	Recorded int `json:"recorded"`
	// Rate is (present + late) / recorded, zero when nothing is recorded.
	Rate float64 `json:"rate"`
}

// TrendPoint is the movement total for one day.
type TrendPoint struct {
	Day string `json:"day"`
	In  int64  `json:"in"`
	Out int64  `json:"out"`
}

// Summary is the dashboard state.
type Summary struct {
	TotalStock              int64             `json:"total_stock"`
	ItemCount               int               `json:"item_count"`
	LowStockCount           int               `json:"low_stock_count"`
	PendingPurchaseRequests int               `json:"pending_purchase_requests"`
	Attendance              AttendanceSummary `json:"attendance"`
	Trend                   []TrendPoint      `json:"trend"`
	StockDistribution       map[string]int64  `json:"stock_distribution"`
	UnreadNotifications     int               `json:"unread_notifications"`
	GeneratedAt             time.Time         `json:"generated_at"`
}

// Aggregator computes summaries from the stores.
type Aggregator struct {
	stores *store.Stores
	cfg    Config
}

// NewAggregator creates an aggregator over stores.
func NewAggregator(stores *store.Stores, cfg Config) *Aggregator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TrendDays <= 0 {
		cfg.TrendDays = DefaultTrendDays
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Aggregator{stores: stores, cfg: cfg}
}

// Summary returns the summary for an actor holding dashboard:view.
func (a *Aggregator) Summary(ctx context.Context, actor *auth.Actor) (*Summary, error) {
	if err := actor.Require(auth.CapDashboardView); err != nil {
		return nil, err
	}
	return a.ComputeSummary(ctx)
}

type summaryResult struct {
	summary *Summary
	err     error
}

// ComputeSummary runs the underlying reads concurrently. When they do not
// finish within the configured timeout it returns an AggregationTimeout
// error without waiting for them.
func (a *Aggregator) ComputeSummary(ctx context.Context) (*Summary, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "dashboard.ComputeSummary")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	m := telemetry.GetMetrics()
	start := time.Now()

	done := make(chan summaryResult, 1)
	go func() {
		s, err := a.compute(ctx)
		done <- summaryResult{summary: s, err: err}
	}()

	var res summaryResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	elapsed := float64(time.Since(start).Milliseconds())

	if res.err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			m.DashboardTimeoutsTotal.Add(ctx, 1)
			log.Warn().Dur("timeout", a.cfg.Timeout).Msg("Dashboard aggregation timed out")
			return nil, apperr.New(apperr.KindAggregationTimeout, "dashboard aggregation exceeded %s", a.cfg.Timeout)
		}
		span.RecordError(res.err)
		m.DashboardDuration.Record(ctx, elapsed, metric.WithAttributes(attribute.Bool("success", false)))
		return nil, res.err
	}

	m.DashboardDuration.Record(ctx, elapsed, metric.WithAttributes(attribute.Bool("success", true)))
	return res.summary, nil
}

func (a *Aggregator) compute(ctx context.Context) (*Summary, error) {
	now := a.cfg.Now().In(a.cfg.Location)
	today := models.DayOf(now)
	windowStart := today.AddDate(0, 0, -(a.cfg.TrendDays - 1))

	var (
		items      []*models.Item
		pending    int
		attendance []*models.AttendanceRecord
		txns       []*models.Transaction
		unread     int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		items, err = a.stores.Inventory.ListItems(gctx)
		return downstream("list items", err)
	})
	g.Go(func() (err error) {
		pending, err = a.stores.PurchaseRequests.CountPurchaseRequestsByStatus(gctx,
			models.PurchaseStatusPendingSupervisor, models.PurchaseStatusPendingExecutive)
		return downstream("count purchase requests", err)
	})
	g.Go(func() (err error) {
		attendance, err = a.stores.Attendance.ListAttendance(gctx, today)
		return downstream("list attendance", err)
	})
	g.Go(func() (err error) {
		txns, err = a.stores.Inventory.ListTransactionsSince(gctx, windowStart)
		return downstream("list transactions", err)
	})
	g.Go(func() (err error) {
		unread, err = a.stores.Notifications.CountUnreadNotifications(gctx)
		return downstream("count notifications", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := &Summary{
		ItemCount:               len(items),
		PendingPurchaseRequests: pending,
		StockDistribution:       make(map[string]int64, len(items)),
		UnreadNotifications:     unread,
		GeneratedAt:             now,
	}
	for _, item := range items {
		s.TotalStock = addClamped(s.TotalStock, item.Stock)
		s.StockDistribution[item.Name] = addClamped(s.StockDistribution[item.Name], item.Stock)
		if item.IsLowStock() {
			s.LowStockCount++
		}
	}
	s.Attendance = summarizeAttendance(attendance)
	s.Trend = a.trend(windowStart, txns)

	return s, nil
}

func summarizeAttendance(records []*models.AttendanceRecord) AttendanceSummary {
	var out AttendanceSummary
	for _, rec := range records {
		switch rec.Status {
		case models.AttendancePresent:
			out.Present++
		case models.AttendanceLate:
			out.Late++
		case models.AttendanceAbsent:
			out.Absent++
		default:
			continue
		}
		out.Recorded++
	}
	if out.Recorded > 0 {
		out.Rate = float64(out.Present+out.Late) / float64(out.Recorded)
	}
	return out
}

// trend buckets txns into TrendDays days starting at windowStart, oldest first.
func (a *Aggregator) trend(windowStart time.Time, txns []*models.Transaction) []TrendPoint {
	points := make([]TrendPoint, a.cfg.TrendDays)
	index := make(map[string]int, a.cfg.TrendDays)
	for i := range points {
		day := windowStart.AddDate(0, 0, i).Format(time.DateOnly)
		points[i].Day = day
		index[day] = i
	}

	for _, txn := range txns {
		i, ok := index[txn.CreatedAt.In(a.cfg.Location).Format(time.DateOnly)]
		if !ok {
			continue
		}
		switch txn.Action {
		case models.ActionIn:
			points[i].In = addClamped(points[i].In, txn.Quantity)
		case models.ActionOut:
			points[i].Out = addClamped(points[i].Out, txn.Quantity)
		}
	}
	return points
}

// addClamped adds two non-negative quantities, saturating at math.MaxInt64.
func addClamped(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func downstream(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.Wrap(apperr.KindDownstreamUnavailable, fmt.Errorf("failed to %s: %w", op, err))
}
