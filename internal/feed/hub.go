// Package feed fans dashboard events out to live subscribers (the WebSocket stream).
package feed

import (
	"sync"
	"time"
)

// Event kinds.
const (
	KindLog      = "log"
	KindAlert    = "alert"
	KindWorkflow = "workflow"
	KindService  = "service"
	KindMetrics  = "metrics"
)

// Event is one message on the feed.
type Event struct {
	Kind string    `json:"type"`
	Data any       `json:"data"`
	At   time.Time `json:"at"`
}

// Publisher is what producers depend on.
type Publisher interface {
	Publish(kind string, data any)
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(string, any) {}

// Hub is a Publisher with any number of buffered subscribers.
// Slow subscribers lose events rather than block producers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	buffer int
}

// NewHub returns a hub whose subscriber channels hold buffer events.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{subs: make(map[chan Event]struct{}), buffer: buffer}
}

// Publish delivers to every subscriber without blocking.
func (h *Hub) Publish(kind string, data any) {
	ev := Event{Kind: kind, Data: data, At: time.Now().UTC()}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a new subscriber. Call cancel to unregister; the
// channel is closed afterwards.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
