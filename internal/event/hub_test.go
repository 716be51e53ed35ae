package event

import (
	"testing"
	"time"
)

func TestHubFanOut(t *testing.T) {
	hub := NewHub()
	_, first, cancelFirst := hub.Subscribe(8)
	defer cancelFirst()
	_, second, cancelSecond := hub.Subscribe(8)
	defer cancelSecond()

	hub.Publish(Event{Type: TypeStoreChanged, ConversationID: "c1"})

	for name, stream := range map[string]<-chan Event{"first": first, "second": second} {
		select {
		case ev := <-stream:
			if ev.ConversationID != "c1" {
				t.Fatalf("%s subscriber got conversation %q", name, ev.ConversationID)
			}
		case <-time.After(200 * time.Millisecond):
			t.Fatalf("%s subscriber did not receive event", name)
		}
	}
}

func TestHubCancelClosesStream(t *testing.T) {
	hub := NewHub()
	_, stream, cancel := hub.Subscribe(8)
	cancel()

	select {
	case _, ok := <-stream:
		if ok {
			t.Fatalf("expected stream to be closed after cancel")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timed out waiting for stream close")
	}
}

func TestHubSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	hub := NewHub()
	_, stream, cancel := hub.Subscribe(1)
	defer cancel()

	hub.Publish(Event{Type: TypeStoreChanged})
	hub.Publish(Event{Type: TypeStoreChanged})
	hub.Publish(Event{Type: TypeStoreChanged})

	select {
	case <-stream:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected at least one buffered event")
	}
}

func TestPublishToastNilSafe(t *testing.T) {
	PublishToast(nil, ToastError, "send failed")

	hub := NewHub()
	_, stream, cancel := hub.Subscribe(4)
	defer cancel()
	PublishToast(hub, ToastError, "send failed")

	select {
	case ev := <-stream:
		if ev.Type != TypeToast {
			t.Fatalf("expected toast event, got %q", ev.Type)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("toast was not published")
	}
}
