package server

import (
	"sync"

	"github.com/michaelbrown/sandboxer/internal/pipeline"
)

const (
	replaySize     = 1000
	subscriberSize = 256
)

// Hub fans the events of one run out to WebSocket subscribers. A subscriber
// that falls behind loses events; the pipeline is never blocked.
type Hub struct {
	mu     sync.Mutex
	replay []pipeline.Event
	subs   map[chan pipeline.Event]struct{}
	closed bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan pipeline.Event]struct{})}
}

// Observe implements pipeline.Observer.
func (h *Hub) Observe(e pipeline.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	if len(h.replay) == replaySize {
		copy(h.replay, h.replay[1:])
		h.replay = h.replay[:replaySize-1]
	}
	h.replay = append(h.replay, e)

	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns the events seen so far and a channel carrying the rest.
// The channel is closed when the hub closes or unsubscribe is called.
func (h *Hub) Subscribe() (past []pipeline.Event, ch <-chan pipeline.Event, unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := make(chan pipeline.Event, subscriberSize)
	past = append([]pipeline.Event(nil), h.replay...)
	if h.closed {
		close(c)
		return past, c, func() {}
	}
	h.subs[c] = struct{}{}

	var once sync.Once
	return past, c, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[c]; ok {
				delete(h.subs, c)
				close(c)
			}
		})
	}
}

// Close ends every subscription. Later events are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
}
