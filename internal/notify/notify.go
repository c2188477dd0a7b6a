// Package notify owns notification creation and read state.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/opsengine/internal/apperr"
	"github.com/wolfeidau/opsengine/internal/auth"
	"github.com/wolfeidau/opsengine/internal/broadcast"
	"github.com/wolfeidau/opsengine/internal/fanout"
	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/store"
	"github.com/wolfeidau/opsengine/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultPageSize is used when List is called without a limit.
const DefaultPageSize = 50

// Notifier creates notifications on behalf of other components.
type Notifier interface {
	Create(ctx context.Context, title, message, severity string, meta map[string]any) (*models.Notification, error)
}

// Center creates notifications and flips their read state. Every change is
// pushed to subscribers immediately.
type Center struct {
	store    store.NotificationStore
	push     fanout.Pusher
	pageSize int
}

// NewCenter creates a notification center. A pageSize of zero uses
// DefaultPageSize.
func NewCenter(notifications store.NotificationStore, push fanout.Pusher, pageSize int) *Center {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Center{store: notifications, push: push, pageSize: pageSize}
}

// Create persists a notification and pushes the notification list and the
// dashboard.
func (c *Center) Create(ctx context.Context, title, message, severity string, meta map[string]any) (*models.Notification, error) {
	m := telemetry.GetMetrics()

	if strings.TrimSpace(title) == "" {
		return nil, apperr.New(apperr.KindInvalidRequest, "notification title is required")
	}
	if severity == "" {
		severity = models.SeverityInfo
	}
	if !models.ValidSeverity(severity) {
		return nil, apperr.New(apperr.KindInvalidRequest, "unknown severity %q", severity)
	}

	n := &models.Notification{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Title:     title,
		Message:   message,
		Severity:  severity,
		Meta:      meta,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.store.CreateNotification(ctx, n); err != nil {
		m.NotificationFailuresTotal.Add(ctx, 1)
		return nil, apperr.Wrap(apperr.KindDownstreamUnavailable, fmt.Errorf("failed to create notification: %w", err))
	}

	m.NotificationsCreatedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("severity", severity)))
	log.Debug().Str("notification_id", n.ID).Str("severity", severity).Str("title", title).Msg("Notification created")

	c.push.Publish(ctx, broadcast.TopicNotifications, broadcast.TopicDashboard)
	return n, nil
}

// List returns the newest notifications. A limit outside 1..page size is
// clamped to the page size.
func (c *Center) List(ctx context.Context, actor *auth.Actor, limit int) ([]*models.Notification, error) {
	if err := actor.Require(auth.CapNotificationsView); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > c.pageSize {
		limit = c.pageSize
	}
	list, err := c.store.ListNotifications(ctx, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDownstreamUnavailable, fmt.Errorf("failed to list notifications: %w", err))
	}
	return list, nil
}

// UnreadCount returns how many notifications are unread.
func (c *Center) UnreadCount(ctx context.Context, actor *auth.Actor) (int, error) {
	if err := actor.Require(auth.CapNotificationsView); err != nil {
		return 0, err
	}
	n, err := c.store.CountUnreadNotifications(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDownstreamUnavailable, fmt.Errorf("failed to count notifications: %w", err))
	}
	return n, nil
}

// MarkRead flags one notification as read. Marking a read notification
// again is a no-op.
func (c *Center) MarkRead(ctx context.Context, actor *auth.Actor, id string) error {
	if err := actor.Require(auth.CapNotificationsView); err != nil {
		return err
	}
	if err := c.store.MarkNotificationRead(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.KindNotFound, "notification %s not found", id)
		}
		return apperr.Wrap(apperr.KindDownstreamUnavailable, fmt.Errorf("failed to mark notification read: %w", err))
	}

	c.push.Publish(ctx, broadcast.TopicNotifications, broadcast.TopicDashboard)
	return nil
}

// MarkAllRead flags every notification as read and returns how many
// changed.
func (c *Center) MarkAllRead(ctx context.Context, actor *auth.Actor) (int, error) {
	if err := actor.Require(auth.CapNotificationsView); err != nil {
		return 0, err
	}
	changed, err := c.store.MarkAllNotificationsRead(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDownstreamUnavailable, fmt.Errorf("failed to mark notifications read: %w", err))
	}

	log.Debug().Int("changed", changed).Str("actor", actor.ID()).Msg("Marked all notifications read")
	c.push.Publish(ctx, broadcast.TopicNotifications, broadcast.TopicDashboard)
	return changed, nil
}

// Best creates a notification and logs instead of failing. Components use
// it for side-effect notifications that must not fail their mutation.
func Best(ctx context.Context, n Notifier, title, message, severity string, meta map[string]any) {
	if n == nil {
		return
	}
	if _, err := n.Create(ctx, title, message, severity, meta); err != nil {
		log.Warn().Err(err).Str("title", title).Msg("Failed to create notification")
	}
}

var _ Notifier = (*Center)(nil)
