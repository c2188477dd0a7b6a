package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/wolfeidau/opsengine"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Ledger metrics
	LedgerAppliesTotal    metric.Int64Counter
	LedgerRejectionsTotal metric.Int64Counter
	LedgerConflictRetries metric.Int64Counter
	LowStockAlertsTotal   metric.Int64Counter

	// Workflow metrics
	PurchaseSubmissionsTotal metric.Int64Counter
	PurchaseTransitionsTotal metric.Int64Counter

	// Notification metrics
	NotificationsCreatedTotal metric.Int64Counter
	NotificationFailuresTotal metric.Int64Counter

	// Broadcast metrics
	BroadcastPublishTotal metric.Int64Counter
	BroadcastDroppedTotal metric.Int64Counter
	BroadcastSkippedTotal metric.Int64Counter
	ActiveSubscribers     metric.Int64UpDownCounter
	RelayErrorsTotal      metric.Int64Counter

	// Dashboard metrics
	DashboardDuration      metric.Float64Histogram
	DashboardTimeoutsTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// Tracer returns the tracer used for engine spans.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(instrumentationName)

	m := &Metrics{}

	m.LedgerAppliesTotal, _ = meter.Int64Counter(
		"opsengine.ledger.applies.total",
		metric.WithDescription("Total number of committed stock movements"),
		metric.WithUnit("{movement}"),
	)

	m.LedgerRejectionsTotal, _ = meter.Int64Counter(
		"opsengine.ledger.rejections.total",
		metric.WithDescription("Total number of stock movements rejected, by reason"),
		metric.WithUnit("{movement}"),
	)

	m.LedgerConflictRetries, _ = meter.Int64Counter(
		"opsengine.ledger.conflict_retries.total",
		metric.WithDescription("Total number of version conflict retries on item writes"),
		metric.WithUnit("{retry}"),
	)

	m.LowStockAlertsTotal, _ = meter.Int64Counter(
		"opsengine.ledger.low_stock_alerts.total",
		metric.WithDescription("Total number of low-stock notifications raised"),
		metric.WithUnit("{alert}"),
	)

	m.PurchaseSubmissionsTotal, _ = meter.Int64Counter(
		"opsengine.workflow.submissions.total",
		metric.WithDescription("Total number of purchase requests submitted"),
		metric.WithUnit("{request}"),
	)

	m.PurchaseTransitionsTotal, _ = meter.Int64Counter(
		"opsengine.workflow.transitions.total",
		metric.WithDescription("Total number of purchase request transitions, by target status"),
		metric.WithUnit("{transition}"),
	)

	m.NotificationsCreatedTotal, _ = meter.Int64Counter(
		"opsengine.notifications.created.total",
		metric.WithDescription("Total number of notifications created"),
		metric.WithUnit("{notification}"),
	)

	m.NotificationFailuresTotal, _ = meter.Int64Counter(
		"opsengine.notifications.failures.total",
		metric.WithDescription("Total number of best-effort notifications that failed"),
		metric.WithUnit("{error}"),
	)

	m.BroadcastPublishTotal, _ = meter.Int64Counter(
		"opsengine.broadcast.publish.total",
		metric.WithDescription("Total number of frames published, by topic"),
		metric.WithUnit("{frame}"),
	)

	m.BroadcastDroppedTotal, _ = meter.Int64Counter(
		"opsengine.broadcast.dropped.total",
		metric.WithDescription("Total number of frames dropped because a subscriber queue was full"),
		metric.WithUnit("{frame}"),
	)

	m.BroadcastSkippedTotal, _ = meter.Int64Counter(
		"opsengine.broadcast.skipped.total",
		metric.WithDescription("Total number of deliveries skipped for subscribers not ready"),
		metric.WithUnit("{frame}"),
	)

	m.ActiveSubscribers, _ = meter.Int64UpDownCounter(
		"opsengine.broadcast.subscribers.active",
		metric.WithDescription("Number of connected push subscribers"),
		metric.WithUnit("{subscriber}"),
	)

	m.RelayErrorsTotal, _ = meter.Int64Counter(
		"opsengine.broadcast.relay.errors.total",
		metric.WithDescription("Total number of cross-instance relay errors"),
		metric.WithUnit("{error}"),
	)

	m.DashboardDuration, _ = meter.Float64Histogram(
		"opsengine.dashboard.compute.duration",
		metric.WithDescription("Duration of dashboard summary computation"),
		metric.WithUnit("ms"),
	)

	m.DashboardTimeoutsTotal, _ = meter.Int64Counter(
		"opsengine.dashboard.timeouts.total",
		metric.WithDescription("Total number of dashboard computations that exceeded their budget"),
		metric.WithUnit("{timeout}"),
	)

	return m
}
