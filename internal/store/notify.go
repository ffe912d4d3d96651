package store

import (
	"log/slog"
	"sync"
	"time"
)

const subscriberBuffer = 64

// Change describes a single storage mutation.
type Change struct {
	UserID  string    `json:"-"`
	Key     string    `json:"key"`
	Value   string    `json:"value,omitempty"`
	Removed bool      `json:"removed,omitempty"`
	At      time.Time `json:"at"`
}

// Hub fans storage changes out to per-user subscribers. It replaces
// polling: components subscribe once and receive every write.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]chan Change
}

// NewHub creates an empty change hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[uint64]chan Change)}
}

// Subscribe registers a subscriber for userID. The returned cancel func
// closes the channel and must be called once the subscriber is done.
func (h *Hub) Subscribe(userID string) (<-chan Change, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	ch := make(chan Change, subscriberBuffer)
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[uint64]chan Change)
	}
	h.subs[userID][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[userID], id)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers c to every subscriber of c.UserID. Slow subscribers
// lose the event rather than block the writer.
func (h *Hub) Publish(c Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs[c.UserID] {
		select {
		case ch <- c:
		default:
			slog.Warn("Dropping storage change for slow subscriber",
				"user_id", c.UserID, "subscriber", id, "key", c.Key)
		}
	}
}

// Subscribers returns the number of active subscribers for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

var _ Notifier = (*Hub)(nil)
