package pipeline

import (
	"sync"
	"time"
)

// EventKind identifies what happened in a session
type EventKind string

const (
	EventSessionOpened EventKind = "session_opened"
	EventFrame         EventKind = "frame"
	EventSessionClosed EventKind = "session_closed"
)

// Event is published for every session transition and every emitted frame
type Event struct {
	Kind           EventKind    `json:"kind"`
	SessionID      string       `json:"session_id"`
	Seq            uint64       `json:"seq,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
	Detections     DetectionSet `json:"detections,omitempty"`
	InferenceError string       `json:"inference_error,omitempty"`
	InferenceKind  string       `json:"inference_kind,omitempty"`
	Skipped        int          `json:"skipped,omitempty"`
	Reason         string       `json:"reason,omitempty"` // Why the session closed
}

// EventBus provides pub/sub for pipeline events
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
}

type eventSubscription struct {
	sessionFilter string // Empty string means receive all sessions
	channel       chan *Event
	handler       EventHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

// Subscribe registers a handler for events from all sessions.
// Returns an unsubscribe function.
func (b *EventBus) Subscribe(handler EventHandler) func() {
	return b.add(&eventSubscription{handler: handler})
}

// SubscribeChannel returns a buffered channel of events and an unsubscribe
// function. Events are dropped for a subscriber whose channel is full.
func (b *EventBus) SubscribeChannel(bufferSize int) (<-chan *Event, func()) {
	return b.subscribeChannel("", bufferSize)
}

// SubscribeSessionChannel is SubscribeChannel restricted to one session
func (b *EventBus) SubscribeSessionChannel(sessionID string, bufferSize int) (<-chan *Event, func()) {
	return b.subscribeChannel(sessionID, bufferSize)
}

func (b *EventBus) subscribeChannel(sessionID string, bufferSize int) (<-chan *Event, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan *Event, bufferSize)
	sub := &eventSubscription{
		sessionFilter: sessionID,
		channel:       ch,
	}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

func (b *EventBus) add(sub *eventSubscription) func() {
	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// Publish sends an event to all subscribers
func (b *EventBus) Publish(event *Event) {
	if b == nil || event == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.sessionFilter != "" && sub.sessionFilter != event.SessionID {
			continue
		}

		// Handlers run synchronously so that frame events keep their order
		if sub.handler != nil {
			sub.handler.OnEvent(event)
		} else if sub.channel != nil {
			select {
			case sub.channel <- event:
			default:
				// Channel full, skip this event
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes all subscribers and closes channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
