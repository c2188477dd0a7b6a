package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/store"
)

// NotificationStore implements store.NotificationStore using PostgreSQL.
type NotificationStore struct {
	pool *pgxpool.Pool
}

// NewNotificationStore creates a new PostgreSQL-backed notification store.
func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{pool: pool}
}

// CreateNotification inserts a notification.
func (s *NotificationStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.Must(uuid.NewV7()).String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, title, message, severity, read, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.ID, n.Title, n.Message, n.Severity, n.Read, n.Meta, n.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create notification: %w", mapPostgresError(err))
	}
	return nil
}

// ListNotifications returns up to limit notifications, newest first.
func (s *NotificationStore) ListNotifications(ctx context.Context, limit int) ([]*models.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, message, severity, read, meta, created_at
		FROM notifications
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", mapPostgresError(err))
	}
	defer rows.Close()

	out := make([]*models.Notification, 0, limit)
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.Title, &n.Message, &n.Severity, &n.Read, &n.Meta, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// MarkNotificationRead flags a notification as read. Already read is a no-op.
func (s *NotificationStore) MarkNotificationRead(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", mapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// MarkAllNotificationsRead flags every unread notification as read.
func (s *NotificationStore) MarkAllNotificationsRead(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE NOT read`)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", mapPostgresError(err))
	}
	return int(tag.RowsAffected()), nil
}

// CountUnreadNotifications counts unread notifications.
func (s *NotificationStore) CountUnreadNotifications(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM notifications WHERE NOT read`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", mapPostgresError(err))
	}
	return n, nil
}
