// Package store holds the conversation cache: the single source of truth
// the UI renders from. Reads are synchronous and never touch the network;
// all writes go through Apply.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/omnidesk/inboxd/internal/conversation"
	"github.com/omnidesk/inboxd/internal/event"
)

var (
	// ErrClosed is returned by Apply after the store has been torn down.
	ErrClosed = errors.New("store is closed")
	// ErrUnknownConversation is returned when a patch targets a
	// conversation the cache does not hold.
	ErrUnknownConversation = errors.New("unknown conversation")
)

// Store is the in-memory conversation cache. It is constructed at session
// start and closed at logout.
type Store struct {
	logger    *slog.Logger
	publisher event.Publisher

	mu            sync.RWMutex
	closed        bool
	conversations map[string]conversation.Conversation
	messages      map[string][]conversation.Message
}

// NewStore creates an empty cache. The optional publisher receives a
// store_changed event after every successful Apply.
func NewStore(log *slog.Logger, publishers ...event.Publisher) *Store {
	if log == nil {
		log = slog.Default()
	}
	var publisher event.Publisher
	if len(publishers) > 0 {
		publisher = publishers[0]
	}
	return &Store{
		logger:        log.With(slog.String("service", "store")),
		publisher:     publisher,
		conversations: map[string]conversation.Conversation{},
		messages:      map[string][]conversation.Message{},
	}
}

// Apply mutates the cache with one patch. It is the only write path; the
// mutex gives writes the same one-at-a-time discipline an event loop would.
func (s *Store) Apply(patch Patch) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	var conversationID string
	var err error
	switch p := patch.(type) {
	case ReplaceConversationList:
		err = s.replaceConversationList(p)
	case UpsertConversation:
		conversationID = p.Conversation.ID
		err = s.upsertConversation(p)
	case RemoveConversation:
		conversationID = p.ConversationID
		err = s.removeConversation(p)
	case ReplaceMessages:
		conversationID = p.ConversationID
		err = s.replaceMessages(p)
	case UpsertMessage:
		conversationID = p.Message.ConversationID
		err = s.upsertMessage(p)
	case RemoveMessage:
		conversationID = p.ConversationID
		err = s.removeMessage(p)
	case PatchConversationFields:
		conversationID = p.ConversationID
		err = s.patchConversationFields(p)
	default:
		err = fmt.Errorf("unsupported patch type %T", patch)
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if s.publisher != nil {
		s.publisher.Publish(event.Event{Type: event.TypeStoreChanged, ConversationID: conversationID})
	}
	return nil
}

// Conversations returns all cached conversation summaries ordered by most
// recent activity first.
func (s *Store) Conversations() []conversation.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]conversation.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		list = append(list, c)
	}
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].LastMessageAt.Equal(list[j].LastMessageAt) {
			return list[i].LastMessageAt.After(list[j].LastMessageAt)
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// Get returns one conversation summary by ID.
func (s *Store) Get(conversationID string) (conversation.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	return c, ok
}

// Messages returns the transcript of one conversation, oldest first. The
// returned slice is a copy; callers cannot mutate cache state through it.
func (s *Store) Messages(conversationID string) []conversation.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.messages[conversationID]
	list := make([]conversation.Message, len(stored))
	copy(list, stored)
	return list
}

// Close tears the cache down. Later applies fail with ErrClosed.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.conversations = map[string]conversation.Conversation{}
	s.messages = map[string][]conversation.Message{}
}

func (s *Store) replaceConversationList(p ReplaceConversationList) error {
	next := make(map[string]conversation.Conversation, len(p.Conversations))
	for _, c := range p.Conversations {
		if c.ID == "" {
			continue
		}
		next[c.ID] = sanitize(c)
	}
	// Keep transcripts only for conversations that still exist.
	for id := range s.messages {
		if _, ok := next[id]; !ok {
			delete(s.messages, id)
		}
	}
	s.conversations = next
	return nil
}

func (s *Store) upsertConversation(p UpsertConversation) error {
	c := sanitize(p.Conversation)
	if c.ID == "" {
		return errors.New("conversation id is required")
	}
	if existing, ok := s.conversations[c.ID]; ok && existing.Channel != c.Channel {
		// A conversation's channel never changes after creation.
		s.logger.Warn("channel change rejected on upsert",
			slog.String("conversation_id", c.ID),
			slog.String("have", string(existing.Channel)),
			slog.String("got", string(c.Channel)),
		)
		c.Channel = existing.Channel
	}
	s.conversations[c.ID] = c
	return nil
}

func (s *Store) removeConversation(p RemoveConversation) error {
	delete(s.conversations, p.ConversationID)
	delete(s.messages, p.ConversationID)
	return nil
}

func (s *Store) replaceMessages(p ReplaceMessages) error {
	list := make([]conversation.Message, 0, len(p.Messages))
	for _, m := range p.Messages {
		if m.ID == "" {
			continue
		}
		m.ConversationID = p.ConversationID
		list = append(list, m)
	}
	sortMessages(list)
	s.messages[p.ConversationID] = list
	return nil
}

func (s *Store) upsertMessage(p UpsertMessage) error {
	m := p.Message
	if m.ID == "" || m.ConversationID == "" {
		return errors.New("message id and conversation id are required")
	}
	if _, ok := s.conversations[m.ConversationID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, m.ConversationID)
	}
	list := s.messages[m.ConversationID]
	replaced := false
	for i := range list {
		if list[i].ID == m.ID {
			list[i] = m
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, m)
	}
	sortMessages(list)
	s.messages[m.ConversationID] = list
	return nil
}

func (s *Store) removeMessage(p RemoveMessage) error {
	list := s.messages[p.ConversationID]
	for i := range list {
		if list[i].ID == p.MessageID {
			s.messages[p.ConversationID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	// Removing an already-gone message is harmless; a refetch may have
	// superseded it first.
	return nil
}

func (s *Store) patchConversationFields(p PatchConversationFields) error {
	c, ok := s.conversations[p.ConversationID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, p.ConversationID)
	}
	f := p.Fields
	if f.DisplayName != nil {
		c.DisplayName = *f.DisplayName
	}
	if f.Email != nil {
		c.Email = *f.Email
	}
	if f.JobTitle != nil {
		c.JobTitle = *f.JobTitle
	}
	if f.Organization != nil {
		c.Organization = *f.Organization
	}
	if f.Status != nil {
		if !f.Status.Valid() {
			return fmt.Errorf("invalid status %q", *f.Status)
		}
		c.Status = *f.Status
	}
	if f.AssigneeID != nil {
		c.AssigneeID = *f.AssigneeID
	}
	if f.UnreadCount != nil {
		c.UnreadCount = *f.UnreadCount
		if c.UnreadCount < 0 {
			c.UnreadCount = 0
		}
	}
	s.conversations[p.ConversationID] = c
	return nil
}

func sanitize(c conversation.Conversation) conversation.Conversation {
	if !c.Channel.Valid() {
		c.Channel = conversation.ParseChannel(string(c.Channel))
	}
	if !c.Status.Valid() {
		c.Status = conversation.ParseStatus(string(c.Status))
	}
	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}
	return c
}

func sortMessages(list []conversation.Message) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
