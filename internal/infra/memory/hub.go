package memory

import (
	"context"
	"sync"
)

// Envelope is one message routed by the Hub.
type Envelope struct {
	Topic    string `json:"topic"`
	Username string `json:"username,omitempty"` // empty for broadcasts
	Payload  any    `json:"payload"`
}

// Hub is an in-process delivery channel. Each subscription belongs to one participant and
// receives that participant's messages plus all broadcasts. Slow subscribers lose their
// oldest pending message instead of blocking the sender.
type Hub struct {
	buffer int

	mu     sync.RWMutex
	byUser map[string]map[chan Envelope]struct{}
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{buffer: buffer, byUser: make(map[string]map[chan Envelope]struct{})}
}

// Subscribe registers a subscription for the participant. The caller must invoke the returned
// cancel function to avoid leaks.
func (h *Hub) Subscribe(username string) (<-chan Envelope, func()) {
	ch := make(chan Envelope, h.buffer)

	h.mu.Lock()
	subs, ok := h.byUser[username]
	if !ok {
		subs = make(map[chan Envelope]struct{})
		h.byUser[username] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs, ok := h.byUser[username]; ok {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(h.byUser, username)
				}
			}
			close(ch)
		})
	}
	return ch, cancel
}

func (h *Hub) SendToUser(_ context.Context, username, topic string, payload any) error {
	msg := Envelope{Topic: topic, Username: username, Payload: payload}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.byUser[username] {
		push(ch, msg)
	}
	return nil
}

func (h *Hub) Broadcast(_ context.Context, topic string, payload any) error {
	msg := Envelope{Topic: topic, Payload: payload}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, subs := range h.byUser {
		for ch := range subs {
			push(ch, msg)
		}
	}
	return nil
}

// Subscribers counts live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.byUser {
		n += len(subs)
	}
	return n
}

// push must run under at least the read lock so the channel cannot be closed concurrently.
func push(ch chan Envelope, msg Envelope) {
	select {
	case ch <- msg:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- msg:
	default:
	}
}
