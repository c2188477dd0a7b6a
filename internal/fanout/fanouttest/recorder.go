// Package fanouttest provides a fanout.Pusher double for tests.
package fanouttest

import (
	"context"
	"sync"

	"github.com/wolfeidau/opsengine/internal/broadcast"
	"github.com/wolfeidau/opsengine/internal/fanout"
)

var _ fanout.Pusher = (*Recorder)(nil)

// Recorder is a Pusher that remembers the topics it was asked to push.
// The zero value is ready to use and safe for concurrent callers.
type Recorder struct {
	mu     sync.Mutex
	topics []broadcast.Topic
}

// Publish appends topics in call order. Nothing is rendered or delivered.
func (r *Recorder) Publish(ctx context.Context, topics ...broadcast.Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topics...)
}

// Topics returns every topic pushed so far, in order.
func (r *Recorder) Topics() []broadcast.Topic {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]broadcast.Topic(nil), r.topics...)
}

// Count returns how many times topic was pushed.
func (r *Recorder) Count(topic broadcast.Topic) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.topics {
		if t == topic {
			n++
		}
	}
	return n
}

// Reset forgets every recorded topic.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = nil
}
