package store

import (
	"errors"
	"testing"
	"time"

	"github.com/omnidesk/inboxd/internal/conversation"
	"github.com/omnidesk/inboxd/internal/event"
)

func newConversation(id string, at time.Time) conversation.Conversation {
	return conversation.Conversation{
		ID:            id,
		Channel:       conversation.ChannelSMS,
		PhoneNumber:   "+15550001111",
		Status:        conversation.StatusOpen,
		LastMessageAt: at,
	}
}

func TestConversationsOrderedByActivity(t *testing.T) {
	s := NewStore(nil)
	now := time.Now()
	if err := s.Apply(ReplaceConversationList{Conversations: []conversation.Conversation{
		newConversation("old", now.Add(-time.Hour)),
		newConversation("new", now),
		newConversation("mid", now.Add(-time.Minute)),
	}}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	got := s.Conversations()
	if len(got) != 3 {
		t.Fatalf("expected 3 conversations, got %d", len(got))
	}
	if got[0].ID != "new" || got[1].ID != "mid" || got[2].ID != "old" {
		t.Fatalf("unexpected order: %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestMessagesOrderedOldestFirst(t *testing.T) {
	s := NewStore(nil)
	now := time.Now()
	if err := s.Apply(UpsertConversation{Conversation: newConversation("c1", now)}); err != nil {
		t.Fatalf("apply conversation: %v", err)
	}
	if err := s.Apply(ReplaceMessages{ConversationID: "c1", Messages: []conversation.Message{
		{ID: "m2", CreatedAt: now},
		{ID: "m1", CreatedAt: now.Add(-time.Minute)},
	}}); err != nil {
		t.Fatalf("apply messages: %v", err)
	}

	got := s.Messages("c1")
	if len(got) != 2 || got[0].ID != "m1" || got[1].ID != "m2" {
		t.Fatalf("unexpected transcript order: %+v", got)
	}
}

func TestChannelNeverChangesOnUpsert(t *testing.T) {
	s := NewStore(nil)
	c := newConversation("c1", time.Now())
	c.Channel = conversation.ChannelLiveChat
	if err := s.Apply(UpsertConversation{Conversation: c}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	c.Channel = conversation.ChannelSMS
	if err := s.Apply(UpsertConversation{Conversation: c}); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	got, ok := s.Get("c1")
	if !ok {
		t.Fatalf("conversation missing")
	}
	if got.Channel != conversation.ChannelLiveChat {
		t.Fatalf("channel changed to %q", got.Channel)
	}
}

func TestUpsertMessageRequiresKnownConversation(t *testing.T) {
	s := NewStore(nil)
	err := s.Apply(UpsertMessage{Message: conversation.Message{ID: "m1", ConversationID: "ghost"}})
	if !errors.Is(err, ErrUnknownConversation) {
		t.Fatalf("expected ErrUnknownConversation, got %v", err)
	}
}

func TestUpsertMessageReplacesByID(t *testing.T) {
	s := NewStore(nil)
	now := time.Now()
	if err := s.Apply(UpsertConversation{Conversation: newConversation("c1", now)}); err != nil {
		t.Fatalf("apply conversation: %v", err)
	}
	m := conversation.Message{ID: "m1", ConversationID: "c1", Text: "first", CreatedAt: now}
	if err := s.Apply(UpsertMessage{Message: m}); err != nil {
		t.Fatalf("apply message: %v", err)
	}
	m.Text = "edited"
	if err := s.Apply(UpsertMessage{Message: m}); err != nil {
		t.Fatalf("reapply message: %v", err)
	}

	got := s.Messages("c1")
	if len(got) != 1 || got[0].Text != "edited" {
		t.Fatalf("expected one edited message, got %+v", got)
	}
}

func TestRemoveMessageIsIdempotent(t *testing.T) {
	s := NewStore(nil)
	now := time.Now()
	if err := s.Apply(UpsertConversation{Conversation: newConversation("c1", now)}); err != nil {
		t.Fatalf("apply conversation: %v", err)
	}
	if err := s.Apply(RemoveMessage{ConversationID: "c1", MessageID: "never-existed"}); err != nil {
		t.Fatalf("removing a missing message should be harmless: %v", err)
	}
}

func TestPatchConversationFieldsClampsUnread(t *testing.T) {
	s := NewStore(nil)
	if err := s.Apply(UpsertConversation{Conversation: newConversation("c1", time.Now())}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	negative := -3
	name := "Ada"
	if err := s.Apply(PatchConversationFields{
		ConversationID: "c1",
		Fields:         FieldPatch{UnreadCount: &negative, DisplayName: &name},
	}); err != nil {
		t.Fatalf("patch: %v", err)
	}
	got, _ := s.Get("c1")
	if got.UnreadCount != 0 {
		t.Fatalf("unread count must never go negative, got %d", got.UnreadCount)
	}
	if got.DisplayName != "Ada" {
		t.Fatalf("display name not patched: %q", got.DisplayName)
	}
}

func TestPatchUnknownConversation(t *testing.T) {
	s := NewStore(nil)
	err := s.Apply(PatchConversationFields{ConversationID: "ghost"})
	if !errors.Is(err, ErrUnknownConversation) {
		t.Fatalf("expected ErrUnknownConversation, got %v", err)
	}
}

func TestReplaceListDropsOrphanTranscripts(t *testing.T) {
	s := NewStore(nil)
	now := time.Now()
	if err := s.Apply(UpsertConversation{Conversation: newConversation("gone", now)}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := s.Apply(ReplaceMessages{ConversationID: "gone", Messages: []conversation.Message{
		{ID: "m1", CreatedAt: now},
	}}); err != nil {
		t.Fatalf("apply messages: %v", err)
	}
	if err := s.Apply(ReplaceConversationList{Conversations: []conversation.Conversation{
		newConversation("kept", now),
	}}); err != nil {
		t.Fatalf("replace list: %v", err)
	}
	if got := s.Messages("gone"); len(got) != 0 {
		t.Fatalf("transcript for removed conversation should be dropped, got %d messages", len(got))
	}
}

func TestApplyPublishesStoreChanged(t *testing.T) {
	hub := event.NewHub()
	_, stream, cancel := hub.Subscribe(4)
	defer cancel()

	s := NewStore(nil, hub)
	if err := s.Apply(UpsertConversation{Conversation: newConversation("c1", time.Now())}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	select {
	case ev := <-stream:
		if ev.Type != event.TypeStoreChanged || ev.ConversationID != "c1" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("store change was not published")
	}
}

func TestApplyAfterClose(t *testing.T) {
	s := NewStore(nil)
	s.Close()
	err := s.Apply(UpsertConversation{Conversation: newConversation("c1", time.Now())})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
