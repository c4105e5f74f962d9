// Package events carries request-desk activity from the store to observers
// such as the audit log and notifiers.
package events

import (
	"sync"
	"time"

	"github.com/magiclamp/lampdesk/internal/model"
)

// EventType represents the type of event being published.
type EventType string

const (
	// EventPageLoaded is published when a fetched page replaced the store contents.
	EventPageLoaded EventType = "page_loaded"
	// EventFetchFailed is published when a page fetch failed and the store was cleared.
	EventFetchFailed EventType = "fetch_failed"
	// EventStatusChanged is published after a transition was committed by the backend.
	EventStatusChanged EventType = "status_changed"
	// EventTransitionFailed is published when the backend rejected a transition.
	EventTransitionFailed EventType = "transition_failed"
)

// Event describes one store occurrence. Fields that do not apply to the
// event type are left zero.
type Event struct {
	Type        EventType
	Timestamp   time.Time
	RequestID   int64
	RequestCode string
	From        model.RequestStatus
	To          model.RequestStatus
	Cursor      string
	Page        int
	Message     string
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking Publish/Subscribe event bus.
// Events are delivered asynchronously via buffered channels.
// If a subscriber's channel is full, the event is dropped for that subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	closed      bool
	delivering  sync.WaitGroup
}

// NewBus creates a new event bus with the specified buffer size per subscriber.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for the given event types and returns an
// unsubscribe function. fn runs on its own goroutine, one event at a time.
func (b *Bus) Subscribe(fn Subscriber, types ...EventType) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}

	b.delivering.Add(1)
	go func() {
		defer b.delivering.Done()
		for event := range ch {
			deliver(fn, event)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.closed {
				return
			}
			for _, t := range types {
				subs := b.subscribers[t]
				for i, subCh := range subs {
					if subCh == ch {
						b.subscribers[t] = append(subs[:i], subs[i+1:]...)
						break
					}
				}
			}
			close(ch)
		})
	}
}

// deliver isolates subscriber panics from the bus.
func deliver(fn Subscriber, event Event) {
	defer func() { _ = recover() }()
	fn(event)
}

// Publish sends an event to all subscribers of its type without blocking.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, ch := range b.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes all subscriber channels and waits until events already queued
// have been delivered. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.closeChannels()
	b.delivering.Wait()
}

func (b *Bus) closeChannels() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	seen := make(map[chan Event]bool)
	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			if !seen[ch] {
				seen[ch] = true
				close(ch)
			}
		}
		delete(b.subscribers, eventType)
	}
}
