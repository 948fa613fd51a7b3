package streaming

import (
	"context"
	"time"
)

// RenderEvent is a real-time event emitted while diagrams progress
// through the render lifecycle.
type RenderEvent struct {
	SessionID string    `json:"session_id"`
	DiagramID string    `json:"diagram_id,omitempty"`
	EventType string    `json:"event_type"`
	Payload   any       `json:"payload,omitempty"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	SessionID  string   `json:"session_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time render events.
type EventHub interface {
	Publish(ctx context.Context, event RenderEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan RenderEvent, func(), error)
}
