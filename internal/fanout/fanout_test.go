package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/opsengine/internal/broadcast"
	"github.com/wolfeidau/opsengine/internal/dashboard"
	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/store"
	"github.com/wolfeidau/opsengine/internal/store/memory"
)

type published struct {
	topic   broadcast.Topic
	payload []byte
}

type capturePublisher struct {
	mu   sync.Mutex
	got  []published
	fail bool
}

func (p *capturePublisher) Publish(ctx context.Context, topic broadcast.Topic, payload any) error {
	if p.fail {
		return errors.New("publisher gone")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, published{topic: topic, payload: data})
	return nil
}

func newCascade(t *testing.T, pub broadcast.Publisher) (*Cascade, *store.Stores) {
	t.Helper()
	stores := memory.NewStores()
	return New(pub, stores, dashboard.NewAggregator(stores, dashboard.Config{}), Config{NotificationPage: 2}), stores
}

func TestCascade_PublishOrderAndDedup(t *testing.T) {
	pub := &capturePublisher{}
	c, stores := newCascade(t, pub)
	ctx := context.Background()

	require.NoError(t, stores.Inventory.CreateItem(ctx, &models.Item{Name: "Gloves", Barcode: "G-1", Stock: 4, Threshold: 1}, nil))

	c.Publish(ctx, broadcast.TopicInventory, broadcast.TopicDashboard, broadcast.TopicInventory)

	require.Len(t, pub.got, 2)
	require.Equal(t, broadcast.TopicInventory, pub.got[0].topic)
	require.Equal(t, broadcast.TopicDashboard, pub.got[1].topic)

	var items []models.Item
	require.NoError(t, json.Unmarshal(pub.got[0].payload, &items))
	require.Len(t, items, 1)
	require.Equal(t, "Gloves", items[0].Name)

	var summary dashboard.Summary
	require.NoError(t, json.Unmarshal(pub.got[1].payload, &summary))
	require.Equal(t, int64(4), summary.TotalStock)
}

func TestCascade_DetachesFromCancellation(t *testing.T) {
	pub := &capturePublisher{}
	c, _ := newCascade(t, pub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c.Publish(ctx, broadcast.TopicDashboard)
	require.Len(t, pub.got, 1)
}

func TestCascade_PublishFailureIsSwallowed(t *testing.T) {
	c, _ := newCascade(t, &capturePublisher{fail: true})
	require.NotPanics(t, func() {
		c.Publish(context.Background(), broadcast.TopicNotifications, broadcast.TopicDashboard)
	})
}

func TestCascade_Snapshots(t *testing.T) {
	c, stores := newCascade(t, &capturePublisher{})
	ctx := context.Background()

	for _, title := range []string{"one", "two", "three"} {
		require.NoError(t, stores.Notifications.CreateNotification(ctx, &models.Notification{Title: title, Severity: models.SeverityInfo}))
	}

	snap, err := c.Snapshot(ctx, broadcast.TopicNotifications)
	require.NoError(t, err)
	list := snap.(NotificationList)
	require.Len(t, list.Notifications, 2)
	require.Equal(t, "three", list.Notifications[0].Title)
	require.Equal(t, 3, list.Unread)

	snap, err = c.Snapshot(ctx, broadcast.TopicPurchaseRequests)
	require.NoError(t, err)
	require.Empty(t, snap)

	snap, err = c.Snapshot(ctx, broadcast.TopicAttendance)
	require.NoError(t, err)
	require.Empty(t, snap.(AttendanceSnapshot).Records)

	_, err = c.Snapshot(ctx, broadcast.Topic("payroll"))
	require.Error(t, err)
}

func TestCascade_ThroughHub(t *testing.T) {
	hub := broadcast.NewHub(broadcast.HubConfig{})
	require.NoError(t, hub.Start())
	defer hub.Stop()

	c, _ := newCascade(t, hub)
	var p Pusher = c
	p.Publish(context.Background(), broadcast.TopicDashboard)
}
