package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/opsengine/internal/telemetry"
)

// DefaultRelayChannel is the Redis pub/sub channel shared by all instances.
const DefaultRelayChannel = "opsengine:broadcast"

// RedisRelay publishes frames through Redis pub/sub so subscribers of every
// instance receive them. Frames received from Redis, including this
// instance's own, are delivered to the local hub.
type RedisRelay struct {
	client  redis.UniversalClient
	hub     *Hub
	channel string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisRelay creates a relay for hub over client.
func NewRedisRelay(client redis.UniversalClient, hub *Hub, channel string) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{client: client, hub: hub, channel: channel}
}

// Start subscribes to the relay channel and begins forwarding frames.
func (r *RedisRelay) Start(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.wg.Add(1)
	go r.receiveLoop(loopCtx, sub)

	log.Info().Str("channel", r.channel).Msg("Broadcast relay started")
	return nil
}

// Stop unsubscribes and waits for the receive loop to exit.
func (r *RedisRelay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *RedisRelay) receiveLoop(ctx context.Context, sub *redis.PubSub) {
	defer r.wg.Done()
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Broadcast relay stopped")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			frame, err := DecodeFrame([]byte(msg.Payload))
			if err != nil {
				telemetry.GetMetrics().RelayErrorsTotal.Add(ctx, 1)
				log.Warn().Err(err).Msg("Discarding malformed relay frame")
				continue
			}
			r.hub.Deliver(ctx, frame.Topic, []byte(msg.Payload))
		}
	}
}

// Publish sends the frame through Redis. If Redis is unreachable the frame
// is still delivered to local subscribers.
func (r *RedisRelay) Publish(ctx context.Context, topic Topic, payload any) error {
	frame, err := EncodeFrame(topic, payload)
	if err != nil {
		return err
	}

	if err := r.client.Publish(ctx, r.channel, frame).Err(); err != nil {
		telemetry.GetMetrics().RelayErrorsTotal.Add(ctx, 1)
		log.Warn().Err(err).Str("topic", string(topic)).Msg("Relay publish failed, delivering locally")
		r.hub.Deliver(ctx, topic, frame)
	}
	return nil
}

var _ Publisher = (*RedisRelay)(nil)
