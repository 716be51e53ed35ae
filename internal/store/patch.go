package store

import "github.com/omnidesk/inboxd/internal/conversation"

// Patch is the sealed set of cache mutations. Every write to the store,
// whatever its origin (fetch, optimistic send, push refetch, lifecycle
// transition), is expressed as one of these and funneled through Apply.
type Patch interface {
	isPatch()
}

// ReplaceConversationList swaps the whole conversation summary set, e.g.
// after a list fetch. Message lists survive for conversations that remain.
type ReplaceConversationList struct {
	Conversations []conversation.Conversation
}

// UpsertConversation inserts or replaces one conversation summary.
type UpsertConversation struct {
	Conversation conversation.Conversation
}

// RemoveConversation deletes a conversation and its message list.
type RemoveConversation struct {
	ConversationID string
}

// ReplaceMessages swaps the full transcript of one conversation, e.g. after
// a message fetch. Supersedes any optimistic entries for that conversation.
type ReplaceMessages struct {
	ConversationID string
	Messages       []conversation.Message
}

// UpsertMessage inserts or replaces one message by ID.
type UpsertMessage struct {
	Message conversation.Message
}

// RemoveMessage deletes one message, used to roll back a failed optimistic
// send.
type RemoveMessage struct {
	ConversationID string
	MessageID      string
}

// FieldPatch is a partial update of conversation fields. Nil pointers leave
// the field untouched.
type FieldPatch struct {
	DisplayName  *string
	Email        *string
	JobTitle     *string
	Organization *string
	Status       *conversation.Status
	AssigneeID   *string
	UnreadCount  *int
}

// PatchConversationFields applies a FieldPatch to one conversation.
type PatchConversationFields struct {
	ConversationID string
	Fields         FieldPatch
}

func (ReplaceConversationList) isPatch() {}
func (UpsertConversation) isPatch()      {}
func (RemoveConversation) isPatch()      {}
func (ReplaceMessages) isPatch()         {}
func (UpsertMessage) isPatch()           {}
func (RemoveMessage) isPatch()           {}
func (PatchConversationFields) isPatch() {}
