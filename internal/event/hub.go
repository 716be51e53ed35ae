// Package event provides the in-process pub/sub hub the inbox core uses to
// notify UI subscribers of cache changes, toasts, typing previews, and
// visitor presence.
package event

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

const (
	// DefaultBufferSize is the default per-subscriber channel buffer.
	DefaultBufferSize = 64
)

// Type identifies the event category published on the hub.
type Type string

const (
	// TypeStoreChanged is emitted after every successful cache mutation.
	TypeStoreChanged Type = "store_changed"
	// TypeToast carries a user-visible notice (send failures, rollbacks).
	TypeToast Type = "toast"
	// TypeTypingPreview carries the remote party's in-progress text.
	TypeTypingPreview Type = "typing_preview"
	// TypePresence is emitted when the live visitor snapshot changes.
	TypePresence Type = "presence"
)

// Event is the normalized payload delivered to hub subscribers.
type Event struct {
	Type           Type            `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// Publisher publishes events to subscribers.
type Publisher interface {
	Publish(event Event)
}

// Subscriber registers UI consumers on the hub.
type Subscriber interface {
	Subscribe(buffer int) (string, <-chan Event, func())
}

// Hub fans every published event out to all subscribers.
type Hub struct {
	mu      sync.RWMutex
	streams map[string]chan Event
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		streams: map[string]chan Event{},
	}
}

// Publish broadcasts one event to all subscribers. Slow subscribers are
// dropped in a non-blocking way so publishers never stall on a renderer.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.streams {
		select {
		case ch <- event:
		default:
			// Drop if receiver is slow.
		}
	}
}

// Subscribe registers one subscriber. It returns a stream ID, a read-only
// event channel, and a cancel function.
func (h *Hub) Subscribe(buffer int) (string, <-chan Event, func()) {
	if h == nil {
		ch := make(chan Event)
		close(ch)
		return "", ch, func() {}
	}
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}

	streamID := uuid.NewString()
	ch := make(chan Event, buffer)

	h.mu.Lock()
	h.streams[streamID] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if current, ok := h.streams[streamID]; ok {
				delete(h.streams, streamID)
				close(current)
			}
			h.mu.Unlock()
		})
	}

	return streamID, ch, cancel
}
