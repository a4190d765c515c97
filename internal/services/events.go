package services

import (
	"sync"
	"time"

	"github.com/leyline/core/internal/database/models"
)

// EventType identifies what happened to an email
type EventType string

const (
	// EventInserted is published once an email was persisted
	EventInserted EventType = "inserted"
	// EventStatus is published on every status transition
	EventStatus EventType = "status"
)

// EmailEvent is a live update for dashboard subscribers
type EmailEvent struct {
	Type    EventType          `json:"type"`
	EmailID string             `json:"email_id"`
	Status  models.EmailStatus `json:"status"`
	Subject string             `json:"subject,omitempty"`
	At      time.Time          `json:"at"`
}

// EventHub fans email events out to subscribers. Publishing never blocks;
// a subscriber whose buffer is full misses the event.
type EventHub struct {
	mu          sync.RWMutex
	subscribers map[int]chan EmailEvent
	nextID      int
}

// NewEventHub creates a new EventHub instance
func NewEventHub() *EventHub {
	return &EventHub{subscribers: make(map[int]chan EmailEvent)}
}

// Subscribe registers a subscriber; the returned func unsubscribes and closes the channel
func (h *EventHub) Subscribe(buffer int) (<-chan EmailEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan EmailEvent, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subscribers[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers event to every subscriber with buffer space
func (h *EventHub) Publish(event EmailEvent) {
	if h == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (h *EventHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
