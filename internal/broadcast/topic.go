// Package broadcast fans state snapshots out to connected push subscribers.
//
// The hub keeps no domain state. Every publish is serialized once into a
// Frame and queued to each ready subscriber; delivery is best effort and a
// subscriber that misses frames is expected to pull current state again.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
)

// Topic identifies the kind of snapshot carried by a frame.
type Topic string

const (
	TopicDashboard        Topic = "dashboard"
	TopicInventory        Topic = "inventory"
	TopicAttendance       Topic = "attendance"
	TopicPurchaseRequests Topic = "purchase_requests"
	TopicNotifications    Topic = "notifications"
)

// Topics is the fixed set of publishable topics.
var Topics = []Topic{
	TopicDashboard,
	TopicInventory,
	TopicAttendance,
	TopicPurchaseRequests,
	TopicNotifications,
}

// Valid reports whether t is one of Topics.
func (t Topic) Valid() bool {
	return slices.Contains(Topics, t)
}

// Frame is the wire message delivered to subscribers.
type Frame struct {
	Topic   Topic           `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeFrame serializes payload under topic.
func EncodeFrame(topic Topic, payload any) ([]byte, error) {
	if !topic.Valid() {
		return nil, fmt.Errorf("unknown topic %q", topic)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", topic, err)
	}
	return json.Marshal(Frame{Topic: topic, Payload: raw})
}

// DecodeFrame parses a frame and validates its topic.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	if !f.Topic.Valid() {
		return Frame{}, fmt.Errorf("unknown topic %q", f.Topic)
	}
	return f, nil
}

// Publisher delivers a topic snapshot to subscribers.
type Publisher interface {
	Publish(ctx context.Context, topic Topic, payload any) error
}
