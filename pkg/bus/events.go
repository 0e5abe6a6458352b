package bus

import (
	"context"
	"sync"
	"time"
)

type EventType string

// Lifecycle events published by a session orchestrator. Payload keys are
// documented next to the publisher.
const (
	EventUtteranceAccepted EventType = "utterance_accepted"
	EventInputRejected     EventType = "input_rejected"
	EventRouted            EventType = "routed"
	EventDispatchCompleted EventType = "dispatch_completed"
	EventDispatchFailed    EventType = "dispatch_failed"
	EventDispatchTimedOut  EventType = "dispatch_timed_out"
	EventDispatchCancelled EventType = "dispatch_cancelled"
	EventDispatchLeaked    EventType = "dispatch_leaked"
	EventDeliveryFailed    EventType = "delivery_failed"
	EventSessionReset      EventType = "session_reset"
)

// Failed reports whether the event describes an operational fault.
func (t EventType) Failed() bool {
	switch t {
	case EventDispatchFailed, EventDispatchTimedOut, EventDispatchLeaked, EventDeliveryFailed:
		return true
	default:
		return false
	}
}

type Event struct {
	Type       EventType         `json:"type"`
	At         time.Time         `json:"at"`
	Channel    string            `json:"channel,omitempty"`
	ChatID     string            `json:"chat_id,omitempty"`
	SessionKey string            `json:"session_key,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Payload    map[string]string `json:"payload,omitempty"`
	Error      string            `json:"error,omitempty"`
}

func (mb *MessageBus) PublishEvent(ctx context.Context, event Event) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	if ctx.Err() != nil || isDone(mb.done) {
		return false
	}

	// Sends happen under the read lock so unsubscribe cannot close a channel
	// mid-send. Every send is non-blocking.
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	for _, ch := range mb.eventSubscribers {
		select {
		case ch <- event:
		default:
			// Slow subscriber: drop.
		}
	}

	return true
}

func (mb *MessageBus) SubscribeEvents(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Event, buffer)

	mb.mu.Lock()
	select {
	case <-mb.done:
		mb.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := mb.nextEventSubscriberID
	mb.nextEventSubscriberID++
	mb.eventSubscribers[id] = ch
	mb.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			mb.mu.Lock()
			if eventCh, ok := mb.eventSubscribers[id]; ok {
				delete(mb.eventSubscribers, id)
				close(eventCh)
			}
			mb.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-mb.done:
			unsubscribe()
		}
	}()

	return ch, unsubscribe
}
