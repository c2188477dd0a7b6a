package fanouttest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/opsengine/internal/broadcast"
)

func TestRecorder(t *testing.T) {
	rec := &Recorder{}
	ctx := context.Background()

	rec.Publish(ctx, broadcast.TopicDashboard, broadcast.TopicInventory)
	rec.Publish(ctx, broadcast.TopicInventory)
	require.Equal(t, []broadcast.Topic{broadcast.TopicDashboard, broadcast.TopicInventory, broadcast.TopicInventory}, rec.Topics())
	require.Equal(t, 2, rec.Count(broadcast.TopicInventory))
	require.Zero(t, rec.Count(broadcast.TopicAttendance))

	rec.Reset()
	require.Empty(t, rec.Topics())
}

func TestRecorder_ConcurrentPublish(t *testing.T) {
	rec := &Recorder{}
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Publish(context.Background(), broadcast.TopicNotifications)
		}()
	}
	wg.Wait()
	require.Equal(t, 20, rec.Count(broadcast.TopicNotifications))
}
