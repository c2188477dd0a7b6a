package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/store"
)

// NotificationStore implements store.NotificationStore using in-memory storage.
type NotificationStore struct {
	mu            sync.RWMutex
	notifications []*models.Notification // creation order
	byID          map[string]*models.Notification
}

// NewNotificationStore creates a new in-memory notification store.
func NewNotificationStore() *NotificationStore {
	return &NotificationStore{
		byID: make(map[string]*models.Notification),
	}
}

func cloneNotification(n *models.Notification) *models.Notification {
	clone := *n
	if n.Meta != nil {
		clone.Meta = maps.Clone(n.Meta)
	}
	return &clone
}

// CreateNotification stores a new notification.
func (s *NotificationStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.Must(uuid.NewV7()).String()
	}
	if _, exists := s.byID[n.ID]; exists {
		return store.ErrAlreadyExists
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	clone := cloneNotification(n)
	s.notifications = append(s.notifications, clone)
	s.byID[clone.ID] = clone
	return nil
}

// ListNotifications returns up to limit notifications, newest first.
func (s *NotificationStore) ListNotifications(ctx context.Context, limit int) ([]*models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Notification, 0, min(limit, len(s.notifications)))
	for i := len(s.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneNotification(s.notifications[i]))
	}
	return out, nil
}

// MarkNotificationRead flags a single notification as read.
func (s *NotificationStore) MarkNotificationRead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	n.Read = true
	return nil
}

// MarkAllNotificationsRead flags every unread notification and returns how
// many changed.
func (s *NotificationStore) MarkAllNotificationsRead(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, n := range s.notifications {
		if !n.Read {
			n.Read = true
			changed++
		}
	}
	return changed, nil
}

// CountUnreadNotifications counts notifications not yet read.
func (s *NotificationStore) CountUnreadNotifications(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, notification := range s.notifications {
		if !notification.Read {
			n++
		}
	}
	return n, nil
}
