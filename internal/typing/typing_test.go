package typing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/omnidesk/inboxd/internal/conversation"
	"github.com/omnidesk/inboxd/internal/event"
	"github.com/omnidesk/inboxd/internal/gateway"
	"github.com/omnidesk/inboxd/internal/store"
)

type fakeTypingGateway struct {
	mu       sync.Mutex
	signals  []bool
	previews map[string]string
	polls    map[string]int
}

func newFakeTypingGateway() *fakeTypingGateway {
	return &fakeTypingGateway{
		previews: map[string]string{},
		polls:    map[string]int{},
	}
}

func (g *fakeTypingGateway) SendTyping(ctx context.Context, conversationID string, isTyping bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.signals = append(g.signals, isTyping)
	return nil
}

func (g *fakeTypingGateway) TypingPreview(ctx context.Context, conversationID string) (gateway.TypingPreview, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.polls[conversationID]++
	return gateway.TypingPreview{ConversationID: conversationID, Text: g.previews[conversationID]}, nil
}

func (g *fakeTypingGateway) signalCount(isTyping bool) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, s := range g.signals {
		if s == isTyping {
			n++
		}
	}
	return n
}

func (g *fakeTypingGateway) pollCount(conversationID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.polls[conversationID]
}

func seedCache(t *testing.T, channel conversation.Channel) *store.Store {
	t.Helper()
	cache := store.NewStore(nil)
	if err := cache.Apply(store.UpsertConversation{Conversation: conversation.Conversation{
		ID:          "c1",
		Channel:     channel,
		PhoneNumber: "visitor-1",
		Status:      conversation.StatusOpen,
	}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return cache
}

func TestComposingRateLimitsStartSignals(t *testing.T) {
	cache := seedCache(t, conversation.ChannelLiveChat)
	gw := newFakeTypingGateway()
	s := NewService(nil, cache, gw, nil, Config{
		SignalWindow: 200 * time.Millisecond,
		StopDelay:    500 * time.Millisecond,
	})
	defer s.Close()

	// A burst of keystrokes inside one window.
	for i := 0; i < 10; i++ {
		s.Composing("c1", false)
		time.Sleep(10 * time.Millisecond)
	}
	if got := gw.signalCount(true); got != 1 {
		t.Fatalf("expected exactly one typing=true in the window, got %d", got)
	}

	// After the window elapses the next keystroke signals again.
	time.Sleep(250 * time.Millisecond)
	s.Composing("c1", false)
	if got := gw.signalCount(true); got != 2 {
		t.Fatalf("expected a second typing=true after the window, got %d", got)
	}
}

func TestTrailingStopFiresAfterLastKeystroke(t *testing.T) {
	cache := seedCache(t, conversation.ChannelLiveChat)
	gw := newFakeTypingGateway()
	s := NewService(nil, cache, gw, nil, Config{
		SignalWindow: 50 * time.Millisecond,
		StopDelay:    150 * time.Millisecond,
	})
	defer s.Close()

	s.Composing("c1", false)
	time.Sleep(80 * time.Millisecond)
	s.Composing("c1", false) // keystroke resets the trailing timer

	time.Sleep(80 * time.Millisecond)
	if got := gw.signalCount(false); got != 0 {
		t.Fatalf("stop fired too early, got %d typing=false", got)
	}

	time.Sleep(150 * time.Millisecond)
	if got := gw.signalCount(false); got != 1 {
		t.Fatalf("expected one trailing typing=false, got %d", got)
	}
}

func TestStopSendsImmediately(t *testing.T) {
	cache := seedCache(t, conversation.ChannelLiveChat)
	gw := newFakeTypingGateway()
	s := NewService(nil, cache, gw, nil, Config{StopDelay: time.Hour})
	defer s.Close()

	s.Composing("c1", false)
	s.Stop("c1")
	if got := gw.signalCount(false); got != 1 {
		t.Fatalf("expected immediate typing=false on Stop, got %d", got)
	}

	// A second Stop is a no-op; composing state is already cleared.
	s.Stop("c1")
	if got := gw.signalCount(false); got != 1 {
		t.Fatalf("duplicate Stop must not signal again, got %d", got)
	}
}

func TestComposingIgnoredOutsideLiveChat(t *testing.T) {
	cache := seedCache(t, conversation.ChannelSMS)
	gw := newFakeTypingGateway()
	s := NewService(nil, cache, gw, nil, Config{})
	defer s.Close()

	s.Composing("c1", false)
	if len(gw.signals) != 0 {
		t.Fatalf("sms conversations must not emit typing signals")
	}
}

func TestComposingIgnoredForInternalNotes(t *testing.T) {
	cache := seedCache(t, conversation.ChannelLiveChat)
	gw := newFakeTypingGateway()
	s := NewService(nil, cache, gw, nil, Config{})
	defer s.Close()

	s.Composing("c1", true)
	if len(gw.signals) != 0 {
		t.Fatalf("internal note composing must not emit typing signals")
	}
}

func TestPreviewPollPublishesAndStops(t *testing.T) {
	cache := seedCache(t, conversation.ChannelLiveChat)
	gw := newFakeTypingGateway()
	gw.previews["c1"] = "I was wondering if"

	hub := event.NewHub()
	_, stream, cancel := hub.Subscribe(16)
	defer cancel()

	s := NewService(nil, cache, gw, hub, Config{PollInterval: 20 * time.Millisecond})
	defer s.Close()

	s.StartPreview("c1")

	select {
	case ev := <-stream:
		if ev.Type != event.TypeTypingPreview || ev.ConversationID != "c1" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no preview event published")
	}

	s.StopPreview()
	settled := gw.pollCount("c1")
	time.Sleep(100 * time.Millisecond)
	if got := gw.pollCount("c1"); got != settled {
		t.Fatalf("poller still running after StopPreview: %d -> %d", settled, got)
	}
}

func TestPreviewNeverStartsForNonLiveChat(t *testing.T) {
	cache := seedCache(t, conversation.ChannelWhatsApp)
	gw := newFakeTypingGateway()
	s := NewService(nil, cache, gw, nil, Config{PollInterval: 10 * time.Millisecond})
	defer s.Close()

	s.StartPreview("c1")
	time.Sleep(50 * time.Millisecond)
	if got := gw.pollCount("c1"); got != 0 {
		t.Fatalf("non-live-chat conversation must not be polled, got %d polls", got)
	}
}

func TestSwitchingPreviewStopsPreviousPoll(t *testing.T) {
	cache := seedCache(t, conversation.ChannelLiveChat)
	if err := cache.Apply(store.UpsertConversation{Conversation: conversation.Conversation{
		ID:          "c2",
		Channel:     conversation.ChannelLiveChat,
		PhoneNumber: "visitor-2",
		Status:      conversation.StatusOpen,
	}}); err != nil {
		t.Fatalf("seed c2: %v", err)
	}
	gw := newFakeTypingGateway()
	s := NewService(nil, cache, gw, nil, Config{PollInterval: 20 * time.Millisecond})
	defer s.Close()

	s.StartPreview("c1")
	time.Sleep(50 * time.Millisecond)
	s.StartPreview("c2")

	settled := gw.pollCount("c1")
	time.Sleep(100 * time.Millisecond)
	if got := gw.pollCount("c1"); got != settled {
		t.Fatalf("previous conversation still polled after switch: %d -> %d", settled, got)
	}
	if got := gw.pollCount("c2"); got == 0 {
		t.Fatalf("new conversation not polled")
	}
}
