package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := New()
	ch := bus.Subscribe(8)
	defer bus.Unsubscribe(ch)

	bus.Publish(Event{
		Source: SourceAgent,
		Kind:   KindRequestStart,
		Data:   map[string]any{"request_id": "abc"},
	})

	select {
	case e := <-ch:
		if e.Source != SourceAgent || e.Kind != KindRequestStart {
			t.Errorf("got %s/%s, want agent/request_start", e.Source, e.Kind)
		}
		if e.Timestamp.IsZero() {
			t.Error("timestamp should be stamped on publish")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestNilBusIsNoop(t *testing.T) {
	var bus *Bus
	bus.Publish(Event{Source: SourceAgent, Kind: KindLLMCall})
	if n := bus.SubscriberCount(); n != 0 {
		t.Errorf("nil bus subscriber count = %d, want 0", n)
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	bus := New()
	ch := bus.Subscribe(1)
	defer bus.Unsubscribe(ch)

	// Fill the buffer, then publish more. Must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(Event{Source: SourceExtractor, Kind: KindExtractionFailed})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	// Exactly one event should have landed.
	if len(ch) != 1 {
		t.Errorf("buffered events = %d, want 1", len(ch))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	ch := bus.Subscribe(1)
	bus.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}

	// Double unsubscribe is a no-op.
	bus.Unsubscribe(ch)

	if n := bus.SubscriberCount(); n != 0 {
		t.Errorf("subscriber count = %d, want 0", n)
	}
}
