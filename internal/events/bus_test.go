package events

import (
	"sync"
	"testing"
	"time"

	"github.com/magiclamp/lampdesk/internal/model"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 1s")
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	var received []Event

	unsub := bus.Subscribe(func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	}, EventStatusChanged)
	defer unsub()

	bus.Publish(Event{
		Type:        EventStatusChanged,
		RequestID:   1042,
		RequestCode: "REQ-1042",
		From:        model.StatusPending,
		To:          model.StatusAssigned,
	})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	got := received[0]
	if got.Type != EventStatusChanged {
		t.Errorf("expected type %s, got %s", EventStatusChanged, got.Type)
	}
	if got.RequestID != 1042 || got.To != model.StatusAssigned {
		t.Errorf("unexpected payload: %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Error("Publish should stamp events without a timestamp")
	}
}

func TestBus_MultipleTypesOneSubscriber(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	counts := map[EventType]int{}

	unsub := bus.Subscribe(func(e Event) {
		mu.Lock()
		counts[e.Type]++
		mu.Unlock()
	}, EventFetchFailed, EventTransitionFailed)
	defer unsub()

	bus.Publish(Event{Type: EventFetchFailed})
	bus.Publish(Event{Type: EventTransitionFailed})
	bus.Publish(Event{Type: EventPageLoaded}) // not subscribed

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts[EventFetchFailed] == 1 && counts[EventTransitionFailed] == 1
	})

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if counts[EventPageLoaded] != 0 {
		t.Errorf("received unsubscribed type: %v", counts)
	}
}

func TestBus_NonBlocking(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	unsub := bus.Subscribe(func(e Event) {
		time.Sleep(100 * time.Millisecond)
	}, EventPageLoaded)
	defer unsub()

	start := time.Now()
	for i := 0; i < 10; i++ {
		bus.Publish(Event{Type: EventPageLoaded, Page: i + 1})
	}
	elapsed := time.Since(start)

	if elapsed > 50*time.Millisecond {
		t.Errorf("publish blocked for %v, expected non-blocking", elapsed)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	count := 0

	unsub := bus.Subscribe(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}, EventStatusChanged)

	bus.Publish(Event{Type: EventStatusChanged})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	unsub()
	unsub() // idempotent

	bus.Publish(Event{Type: EventStatusChanged})
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("expected 1 event before unsubscribe, got %d", count)
	}
}

func TestBus_PanicRecovery(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	received := 0

	unsub := bus.Subscribe(func(e Event) {
		mu.Lock()
		received++
		mu.Unlock()
		if e.Page == 1 {
			panic("subscriber bug")
		}
	}, EventPageLoaded)
	defer unsub()

	bus.Publish(Event{Type: EventPageLoaded, Page: 1})
	bus.Publish(Event{Type: EventPageLoaded, Page: 2})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received == 2
	})
}

func TestBus_CloseDeliversQueuedEvents(t *testing.T) {
	bus := NewBus(10)

	var mu sync.Mutex
	var delivered []int64
	bus.Subscribe(func(e Event) {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		delivered = append(delivered, e.RequestID)
		mu.Unlock()
	}, EventStatusChanged)

	for i := int64(1); i <= 5; i++ {
		bus.Publish(Event{Type: EventStatusChanged, RequestID: i})
	}
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 5 {
		t.Fatalf("expected all 5 queued events delivered by Close, got %v", delivered)
	}
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := NewBus(10)
	unsub := bus.Subscribe(func(Event) {}, EventPageLoaded)
	bus.Close()
	bus.Close()

	bus.Publish(Event{Type: EventPageLoaded})
	unsub()
}

func BenchmarkBus_Publish(b *testing.B) {
	bus := NewBus(100)
	defer bus.Close()

	for i := 0; i < 5; i++ {
		bus.Subscribe(func(e Event) {}, EventStatusChanged)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bus.Publish(Event{Type: EventStatusChanged, RequestID: int64(i)})
	}
}
