package visitors

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/omnidesk/inboxd/internal/conversation"
	"github.com/omnidesk/inboxd/internal/event"
	"github.com/omnidesk/inboxd/internal/gateway"
)

type fakeVisitorGateway struct {
	mu      sync.Mutex
	list    []gateway.LiveVisitor
	err     error
	fetches int
}

func (g *fakeVisitorGateway) LiveVisitors(ctx context.Context) ([]gateway.LiveVisitor, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	if g.err != nil {
		return nil, g.err
	}
	out := make([]gateway.LiveVisitor, len(g.list))
	copy(out, g.list)
	return out, nil
}

func (g *fakeVisitorGateway) set(list []gateway.LiveVisitor, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.list = list
	g.err = err
}

func TestSnapshotFiltersInactiveAndSorts(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gw := &fakeVisitorGateway{list: []gateway.LiveVisitor{
		{VisitorID: "old", LastSeen: now.Add(-10 * time.Minute)},
		{VisitorID: "b", LastSeen: now.Add(-30 * time.Second)},
		{VisitorID: "a", LastSeen: now.Add(-5 * time.Second)},
	}}
	s := NewService(nil, gw, nil, Config{ActiveWindow: 2 * time.Minute})
	s.now = func() time.Time { return now }

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].VisitorID != "a" || snap[1].VisitorID != "b" {
		t.Fatalf("snapshot = %+v, want [a b]", snap)
	}
}

func TestFailedPollKeepsLastSnapshot(t *testing.T) {
	now := time.Now()
	gw := &fakeVisitorGateway{list: []gateway.LiveVisitor{
		{VisitorID: "v1", LastSeen: now},
	}}
	s := NewService(nil, gw, nil, Config{})
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	gw.set(nil, errors.New("gateway down"))
	if err := s.Refresh(context.Background()); err == nil {
		t.Fatalf("expected poll error")
	}
	if snap := s.Snapshot(); len(snap) != 1 || snap[0].VisitorID != "v1" {
		t.Fatalf("snapshot lost on failed poll: %+v", snap)
	}
}

func TestPresencePublishedOnlyOnChange(t *testing.T) {
	now := time.Now()
	gw := &fakeVisitorGateway{list: []gateway.LiveVisitor{
		{VisitorID: "v1", LastSeen: now},
	}}
	hub := event.NewHub()
	_, stream, cancel := hub.Subscribe(8)
	defer cancel()

	s := NewService(nil, gw, hub, Config{})
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	select {
	case ev := <-stream:
		if ev.Type != event.TypePresence {
			t.Fatalf("expected presence event, got %q", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("no presence event on first snapshot")
	}

	// Identical snapshot: no event.
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	select {
	case ev := <-stream:
		t.Fatalf("unchanged snapshot published %q", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}

	// Visitor leaves: event.
	gw.set(nil, nil)
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	select {
	case ev := <-stream:
		if ev.Type != event.TypePresence {
			t.Fatalf("expected presence event, got %q", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("no presence event after visitor left")
	}
}

func TestActiveWithPending(t *testing.T) {
	now := time.Now()
	gw := &fakeVisitorGateway{list: []gateway.LiveVisitor{
		{VisitorID: "visitor-1", LastSeen: now, PendingMessage: "hello?"},
		{VisitorID: "visitor-2", LastSeen: now},
		{VisitorID: "visitor-3", LastSeen: now.Add(-time.Hour), PendingMessage: "anyone?"},
	}}
	s := NewService(nil, gw, nil, Config{ActiveWindow: 2 * time.Minute})
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	liveChat := func(visitorID string) conversation.Conversation {
		return conversation.Conversation{
			ID:          "c-" + visitorID,
			Channel:     conversation.ChannelLiveChat,
			PhoneNumber: visitorID,
			Status:      conversation.StatusWaiting,
		}
	}

	if !s.ActiveWithPending(liveChat("visitor-1")) {
		t.Fatalf("active visitor with pending message should count")
	}
	if s.ActiveWithPending(liveChat("visitor-2")) {
		t.Fatalf("visitor without pending message must not count")
	}
	if s.ActiveWithPending(liveChat("visitor-3")) {
		t.Fatalf("inactive visitor must not count")
	}
	if s.ActiveWithPending(liveChat("ghost")) {
		t.Fatalf("unknown visitor must not count")
	}

	sms := conversation.Conversation{ID: "c9", Channel: conversation.ChannelSMS, PhoneNumber: "visitor-1"}
	if s.ActiveWithPending(sms) {
		t.Fatalf("non-live-chat conversation must not count")
	}
}

func TestRunPollsUntilCancelled(t *testing.T) {
	gw := &fakeVisitorGateway{}
	s := NewService(nil, gw, nil, Config{PollInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not exit on cancel")
	}

	gw.mu.Lock()
	fetches := gw.fetches
	gw.mu.Unlock()
	if fetches < 2 {
		t.Fatalf("expected repeated polls, got %d", fetches)
	}
}
