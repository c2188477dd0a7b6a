package broadcast

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestRedisRelay_FansOutAcrossHubs(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	channel := "opsengine:test:" + time.Now().Format("150405.000000")

	hubA := startHub(t, HubConfig{})
	hubB := startHub(t, HubConfig{})

	relayA := NewRedisRelay(client, hubA, channel)
	relayB := NewRedisRelay(client, hubB, channel)
	require.NoError(t, relayA.Start(ctx))
	defer relayA.Stop()
	require.NoError(t, relayB.Start(ctx))
	defer relayB.Stop()

	connA := newFakeConn()
	connB := newFakeConn()
	_, err := hubA.Subscribe(connA)
	require.NoError(t, err)
	_, err = hubB.Subscribe(connB)
	require.NoError(t, err)

	require.NoError(t, relayA.Publish(ctx, TopicInventory, []string{"item-1"}))

	require.Eventually(t, func() bool {
		return len(connA.received()) == 1 && len(connB.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisRelay_FallsBackToLocalDelivery(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	hub := startHub(t, HubConfig{})
	conn := newFakeConn()
	_, err := hub.Subscribe(conn)
	require.NoError(t, err)

	relay := NewRedisRelay(client, hub, "")
	require.NoError(t, relay.Publish(context.Background(), TopicDashboard, 1))
	require.Eventually(t, func() bool { return len(conn.received()) == 1 }, time.Second, 5*time.Millisecond)
}
