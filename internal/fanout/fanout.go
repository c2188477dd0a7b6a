// Package fanout is the single post-mutation push step. Mutating
// components name the topics they affected and the cascade builds and
// publishes a fresh snapshot for each of them.
package fanout

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/opsengine/internal/apperr"
	"github.com/wolfeidau/opsengine/internal/broadcast"
	"github.com/wolfeidau/opsengine/internal/dashboard"
	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/store"
)

// DefaultNotificationPage bounds the pushed notification list.
const DefaultNotificationPage = 50

// Config configures a Cascade.
type Config struct {
	// NotificationPage bounds the notification list snapshot. Default: 50
	NotificationPage int
	// Timeout bounds one Publish call. Default: 10s
	Timeout time.Duration
	// Location decides which day the attendance snapshot covers. Default: UTC
	Location *time.Location
}

// Pusher is what mutating components depend on.
type Pusher interface {
	Publish(ctx context.Context, topics ...broadcast.Topic)
}

// NotificationList is the notifications topic payload.
type NotificationList struct {
	Notifications []*models.Notification `json:"notifications"`
	Unread        int                    `json:"unread"`
}

// AttendanceSnapshot is the attendance topic payload.
type AttendanceSnapshot struct {
	Day     string                     `json:"day"`
	Records []*models.AttendanceRecord `json:"records"`
}

// Cascade builds topic snapshots and hands them to a publisher.
type Cascade struct {
	pub        broadcast.Publisher
	stores     *store.Stores
	aggregator *dashboard.Aggregator
	cfg        Config
}

// New creates a cascade.
func New(pub broadcast.Publisher, stores *store.Stores, aggregator *dashboard.Aggregator, cfg Config) *Cascade {
	if cfg.NotificationPage <= 0 {
		cfg.NotificationPage = DefaultNotificationPage
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Cascade{pub: pub, stores: stores, aggregator: aggregator, cfg: cfg}
}

// Publish pushes a snapshot of each topic, in order and at most once per
// topic. Failures are logged and never returned: the mutation that
// triggered the push has already been committed.
func (c *Cascade) Publish(ctx context.Context, topics ...broadcast.Topic) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
	defer cancel()

	seen := make([]broadcast.Topic, 0, len(topics))
	for _, topic := range topics {
		if slices.Contains(seen, topic) {
			continue
		}
		seen = append(seen, topic)

		payload, err := c.Snapshot(ctx, topic)
		if err != nil {
			log.Warn().Err(err).Str("topic", string(topic)).Msg("Failed to build snapshot")
			continue
		}
		if err := c.pub.Publish(ctx, topic, payload); err != nil {
			log.Warn().Err(err).Str("topic", string(topic)).Msg("Failed to publish snapshot")
		}
	}
}

// Snapshot builds the current payload of topic. It also serves clients
// pulling state after a reconnect.
func (c *Cascade) Snapshot(ctx context.Context, topic broadcast.Topic) (any, error) {
	switch topic {
	case broadcast.TopicDashboard:
		return c.aggregator.ComputeSummary(ctx)

	case broadcast.TopicInventory:
		items, err := c.stores.Inventory.ListItems(ctx)
		if err != nil {
			return nil, downstream(err)
		}
		return items, nil

	case broadcast.TopicAttendance:
		day := models.DayOf(time.Now().In(c.cfg.Location))
		records, err := c.stores.Attendance.ListAttendance(ctx, day)
		if err != nil {
			return nil, downstream(err)
		}
		return AttendanceSnapshot{Day: day.Format(time.DateOnly), Records: nonNil(records)}, nil

	case broadcast.TopicPurchaseRequests:
		requests, err := c.stores.PurchaseRequests.ListPurchaseRequests(ctx, store.PurchaseRequestFilter{})
		if err != nil {
			return nil, downstream(err)
		}
		return nonNil(requests), nil

	case broadcast.TopicNotifications:
		list, err := c.stores.Notifications.ListNotifications(ctx, c.cfg.NotificationPage)
		if err != nil {
			return nil, downstream(err)
		}
		unread, err := c.stores.Notifications.CountUnreadNotifications(ctx)
		if err != nil {
			return nil, downstream(err)
		}
		return NotificationList{Notifications: nonNil(list), Unread: unread}, nil
	}

	return nil, apperr.New(apperr.KindInvalidRequest, "unknown topic %q", topic)
}

func downstream(err error) error {
	return apperr.Wrap(apperr.KindDownstreamUnavailable, fmt.Errorf("failed to read snapshot: %w", err))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

var _ Pusher = (*Cascade)(nil)
