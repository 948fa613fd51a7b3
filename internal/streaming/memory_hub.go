package streaming

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const defaultChannelBuffer = 64

// subscriber holds a channel and filter for a single subscriber.
type subscriber struct {
	ch     chan RenderEvent
	filter EventFilter
}

// MemoryHub is an in-memory EventHub implementation using channels.
// Events published for the same session carry a monotonically
// increasing sequence number so consumers can detect gaps.
type MemoryHub struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	seqs    map[string]uint64
	nextSub atomic.Uint64
}

// NewMemoryHub creates a new MemoryHub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		subs: make(map[uint64]*subscriber),
		seqs: make(map[string]uint64),
	}
}

// Publish stamps the event with a per-session sequence number and a
// timestamp, then sends it to all matching subscribers.
// Non-blocking: if a subscriber's channel is full the event is dropped.
func (h *MemoryHub) Publish(ctx context.Context, event RenderEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	h.seqs[event.SessionID]++
	event.Sequence = h.seqs[event.SessionID]
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	for _, sub := range h.subs {
		if !matchFilter(sub.filter, event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// backpressure: drop event for slow subscriber
		}
	}
	h.mu.Unlock()
	return nil
}

// Subscribe creates a new subscription filtered by the given EventFilter.
// Returns a receive-only channel, a cancel function, and any error.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan RenderEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	id := h.nextSub.Add(1)
	ch := make(chan RenderEvent, defaultChannelBuffer)

	h.mu.Lock()
	h.subs[id] = &subscriber{ch: ch, filter: filter}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}

	return ch, cancel, nil
}

// matchFilter returns true if the event passes the filter criteria.
func matchFilter(f EventFilter, e RenderEvent) bool {
	if f.SessionID != "" && f.SessionID != e.SessionID {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == e.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
