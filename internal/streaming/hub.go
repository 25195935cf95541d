// Package streaming provides in-process pub/sub for live run events, so
// callers can watch a run progress without polling the store.
package streaming

import "context"

// Event is a real-time notification emitted during graph execution. It
// mirrors the persisted run event log, minus the sequence number: delivery
// order to a single subscriber is publish order.
type Event struct {
	RunID     string `json:"run_id"`
	NodeID    string `json:"node_id,omitempty"`
	EventType string `json:"event_type"`
	Payload   any    `json:"payload,omitempty"`
}

// Filter specifies which events a subscriber wants to receive. Zero value
// matches everything.
type Filter struct {
	RunID      string   `json:"run_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// Hub provides pub/sub for live run events.
type Hub interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error)
}
