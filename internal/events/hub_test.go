package events

import (
	"testing"
	"time"

	"github.com/akolesov/promptdeck/internal/domain"
)

func TestHubFanOut(t *testing.T) {
	hub := NewHub()

	ch1, cancel1 := hub.Subscribe()
	ch2, cancel2 := hub.Subscribe()
	defer cancel1()
	defer cancel2()

	hub.Publish(domain.Event{Type: domain.EventSessionCreated, SessionID: "s1"})

	for i, ch := range []<-chan domain.Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Type != domain.EventSessionCreated || ev.SessionID != "s1" {
				t.Errorf("subscriber %d got %+v", i, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive the event", i)
		}
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	hub := NewHub()

	ch, cancel := hub.Subscribe()
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}

	// Publishing after cancel must not panic or block.
	hub.Publish(domain.Event{Type: domain.EventSessionDeleted, SessionID: "s1"})

	// Double cancel is a no-op.
	cancel()
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub()

	ch, cancel := hub.Subscribe()
	defer cancel()

	// Overfill the subscriber buffer; publishers must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 64; i++ {
			hub.Publish(domain.Event{Type: domain.EventSessionCreated})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	// The buffered prefix is still deliverable.
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no events delivered")
	}
}
