package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/opsengine/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrHubClosed is returned when subscribing to a hub that is not running.
var ErrHubClosed = errors.New("broadcast hub is not running")

// Conn is one subscriber transport.
type Conn interface {
	// Ready reports whether the transport is open for writes.
	Ready() bool
	// Send writes one serialized frame.
	Send(ctx context.Context, frame []byte) error
}

// HubConfig configures a Hub.
type HubConfig struct {
	// QueueSize bounds each subscriber's outbound queue. Default: 32
	QueueSize int
}

// Hub is the in-process subscriber set.
type Hub struct {
	queueSize int

	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	nextID  uint64
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type subscriber struct {
	id    uint64
	conn  Conn
	queue chan []byte
	done  chan struct{}
	once  sync.Once

	delivered atomic.Int64
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// NewHub creates a stopped hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	return &Hub{
		queueSize: cfg.QueueSize,
		subs:      make(map[uint64]*subscriber),
	}
}

// Start makes the hub accept subscribers.
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return nil
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.running = true

	log.Info().Int("queue_size", h.queueSize).Msg("Broadcast hub started")
	return nil
}

// Stop disconnects every subscriber and waits for their writers to exit.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	h.cancel()
	subs := h.subs
	h.subs = make(map[uint64]*subscriber)
	h.mu.Unlock()

	for _, s := range subs {
		s.close()
		telemetry.GetMetrics().ActiveSubscribers.Add(context.Background(), -1)
	}
	h.wg.Wait()

	log.Info().Int("subscribers", len(subs)).Msg("Broadcast hub stopped")
	return nil
}

// Subscribe adds conn to the subscriber set and returns the func that
// removes it. The returned func is safe to call more than once.
func (h *Hub) Subscribe(conn Conn) (func(), error) {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.nextID++
	s := &subscriber{
		id:    h.nextID,
		conn:  conn,
		queue: make(chan []byte, h.queueSize),
		done:  make(chan struct{}),
	}
	h.subs[s.id] = s
	ctx := h.ctx
	h.wg.Add(1)
	h.mu.Unlock()

	telemetry.GetMetrics().ActiveSubscribers.Add(ctx, 1)
	go h.writeLoop(ctx, s)

	log.Debug().Uint64("subscriber", s.id).Msg("Subscriber joined")

	return func() { h.unsubscribe(s.id) }, nil
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	s, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	s.close()
	telemetry.GetMetrics().ActiveSubscribers.Add(context.Background(), -1)
	log.Debug().Uint64("subscriber", id).Int64("delivered", s.delivered.Load()).Msg("Subscriber left")
}

func (h *Hub) writeLoop(ctx context.Context, s *subscriber) {
	defer h.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case frame := <-s.queue:
			if !s.conn.Ready() {
				telemetry.GetMetrics().BroadcastSkippedTotal.Add(ctx, 1)
				continue
			}
			if err := s.conn.Send(ctx, frame); err != nil {
				log.Debug().Err(err).Uint64("subscriber", s.id).Msg("Subscriber write failed, disconnecting")
				h.unsubscribe(s.id)
				return
			}
			s.delivered.Add(1)
		}
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish serializes payload once and queues it to every ready subscriber.
// It never blocks on a subscriber.
func (h *Hub) Publish(ctx context.Context, topic Topic, payload any) error {
	frame, err := EncodeFrame(topic, payload)
	if err != nil {
		return err
	}
	h.Deliver(ctx, topic, frame)
	return nil
}

// Deliver queues an already serialized frame.
func (h *Hub) Deliver(ctx context.Context, topic Topic, frame []byte) {
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	m := telemetry.GetMetrics()
	attrs := metric.WithAttributes(attribute.String("topic", string(topic)))
	m.BroadcastPublishTotal.Add(ctx, 1, attrs)

	for _, s := range subs {
		if !s.conn.Ready() {
			m.BroadcastSkippedTotal.Add(ctx, 1, attrs)
			continue
		}
		select {
		case s.queue <- frame:
		case <-s.done:
		default:
			m.BroadcastDroppedTotal.Add(ctx, 1, attrs)
			log.Debug().Uint64("subscriber", s.id).Str("topic", string(topic)).Msg("Subscriber queue full, dropping frame")
		}
	}
}

var _ Publisher = (*Hub)(nil)
