package ipc

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const subscriberBuffer = 16

type subscriber struct {
	id   uuid.UUID
	ch   chan Event
	once sync.Once
}

func (s *subscriber) close() { s.once.Do(func() { close(s.ch) }) }

// Hub fans events out to websocket subscribers. A subscriber that falls
// behind by more than its buffer is dropped rather than slowing the daemon.
type Hub struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[uuid.UUID]*subscriber
	last *Event
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{log: log, subs: make(map[uuid.UUID]*subscriber)}
}

// Subscribe registers a subscriber. The latest devices_changed event, if any,
// is queued first so new watchers start from the current state.
func (h *Hub) Subscribe() (uuid.UUID, <-chan Event) {
	s := &subscriber{id: uuid.New(), ch: make(chan Event, subscriberBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last != nil {
		s.ch <- *h.last
	}
	h.subs[s.id] = s
	h.log.Debug("event subscriber added", "subscriber", s.id, "subscribers", len(h.subs))
	return s.id, s.ch
}

func (h *Hub) Unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		s.close()
		h.log.Debug("event subscriber removed", "subscriber", id)
	}
}

// Broadcast never blocks.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ev.Type == EventDevicesChanged {
		h.last = &ev
	}
	for id, s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			h.log.Warn("event subscriber too slow, dropping", "subscriber", id)
			delete(h.subs, id)
			s.close()
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subs {
		delete(h.subs, id)
		s.close()
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
