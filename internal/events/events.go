// Package events provides in-process pub/sub for schedule notices:
// intent outcomes, window changes and overdue alerts fan out through a
// Bus to the audit log, the message queue bridge and the UI layer.
package events

import (
	"sync"
	"time"
)

// Topic identifies a class of notice.
type Topic string

const (
	TopicIntentResolved Topic = "intent.resolved"
	TopicIntentFailed   Topic = "intent.failed"
	TopicRangeChanged   Topic = "range.changed"
	TopicFetchFailed    Topic = "fetch.failed"
	TopicOverdueReturn  Topic = "overdue.return"
	TopicLateArrival    Topic = "late.arrival"
)

// Notice is a lightweight domain notification.
type Notice struct {
	Topic   Topic
	At      time.Time
	EventID int64
	Payload any
}

// Handler reacts to a notice. Handlers run synchronously on the
// publisher's goroutine; the caller decides the concurrency model.
type Handler func(Notice)

// Bus provides in-process pub/sub for notices.
type Bus struct {
	subscribers map[Topic][]Handler
	mu          sync.RWMutex
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[Topic][]Handler)}
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic Topic, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], handler)
}

// Publish notifies subscribers of the notice's topic.
func (b *Bus) Publish(notice Notice) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[notice.Topic]...)
	b.mu.RUnlock()

	if notice.At.IsZero() {
		notice.At = time.Now()
	}

	for _, handler := range handlers {
		handler(notice)
	}
}
