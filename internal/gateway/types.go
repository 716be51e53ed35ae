package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/omnidesk/inboxd/internal/conversation"
)

// Conversation is the wire shape of a conversation summary as the backend
// gateway serves it.
type Conversation struct {
	ID            string    `json:"id"`
	Channel       string    `json:"channel,omitempty"`
	PhoneNumber   string    `json:"phoneNumber"`
	DisplayName   string    `json:"displayName,omitempty"`
	Email         string    `json:"email,omitempty"`
	JobTitle      string    `json:"jobTitle,omitempty"`
	Organization  string    `json:"organization,omitempty"`
	Status        string    `json:"status,omitempty"`
	AssigneeID    string    `json:"assigneeId,omitempty"`
	UnreadCount   int       `json:"unreadCount"`
	LastMessage   string    `json:"lastMessage,omitempty"`
	LastMessageAt time.Time `json:"lastMessageAt,omitempty"`
	LastMediaURLs []string  `json:"lastMediaUrls,omitempty"`
}

// ToModel converts the wire conversation to the domain model, normalizing
// loose wire strings into the closed channel/status sets.
func (c Conversation) ToModel() conversation.Conversation {
	return conversation.Conversation{
		ID:            c.ID,
		Channel:       conversation.ParseChannel(c.Channel),
		PhoneNumber:   c.PhoneNumber,
		DisplayName:   c.DisplayName,
		Email:         c.Email,
		JobTitle:      c.JobTitle,
		Organization:  c.Organization,
		Status:        conversation.ParseStatus(c.Status),
		AssigneeID:    c.AssigneeID,
		UnreadCount:   c.UnreadCount,
		LastMessage:   c.LastMessage,
		LastMessageAt: c.LastMessageAt,
		LastMediaURLs: c.LastMediaURLs,
	}
}

// Message is the wire shape of one transcript entry.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Direction      string    `json:"direction"`
	IsInternalNote bool      `json:"isInternalNote,omitempty"`
	DeliveryStatus string    `json:"deliveryStatus,omitempty"`
	Text           string    `json:"text,omitempty"`
	MediaURLs      []string  `json:"mediaUrls,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ToModel converts the wire message to the domain model.
func (m Message) ToModel() conversation.Message {
	kind := conversation.KindNormal
	if m.IsInternalNote {
		kind = conversation.KindInternalNote
	}
	direction := conversation.DirectionInbound
	if m.Direction == string(conversation.DirectionOutbound) {
		direction = conversation.DirectionOutbound
	}
	delivery := conversation.DeliveryStatus(m.DeliveryStatus)
	switch delivery {
	case conversation.DeliveryPending, conversation.DeliverySent,
		conversation.DeliveryDelivered, conversation.DeliveryFailed:
	default:
		delivery = ""
		if direction == conversation.DirectionOutbound && kind == conversation.KindNormal {
			delivery = conversation.DeliverySent
		}
	}
	return conversation.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Direction:      direction,
		Kind:           kind,
		Delivery:       delivery,
		Text:           m.Text,
		MediaURLs:      m.MediaURLs,
		CreatedAt:      m.CreatedAt,
	}
}

// Attachment is one file to upload with a send.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// SendRequest is the multipart payload of POST /conversations/{id}/messages.
type SendRequest struct {
	Text           string
	IsInternalNote bool
	Files          []Attachment
}

// CreateConversationRequest starts a new thread with a first message.
type CreateConversationRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	FromNumber  string `json:"fromNumber"`
	Text        string `json:"text"`
}

// UpdateConversationRequest is the PATCH body for conversation metadata and
// status transitions. Nil fields are omitted from the wire.
type UpdateConversationRequest struct {
	DisplayName  *string `json:"displayName,omitempty"`
	Email        *string `json:"email,omitempty"`
	JobTitle     *string `json:"jobTitle,omitempty"`
	Organization *string `json:"organization,omitempty"`
	Status       *string `json:"status,omitempty"`
}

// TypingPreview is the server-held buffer of the counterparty's unsent text.
type TypingPreview struct {
	ConversationID string    `json:"conversationId"`
	Text           string    `json:"text"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

// LiveVisitor is the wire shape of one widget presence entry.
type LiveVisitor struct {
	VisitorID      string    `json:"visitorId"`
	WidgetID       string    `json:"widgetId"`
	LastSeen       time.Time `json:"lastSeen"`
	PendingMessage string    `json:"pendingMessage,omitempty"`
}

// ToModel converts the wire visitor to the domain model.
func (v LiveVisitor) ToModel() conversation.LiveVisitor {
	return conversation.LiveVisitor{
		VisitorID:      v.VisitorID,
		WidgetID:       v.WidgetID,
		LastSeen:       v.LastSeen,
		PendingMessage: v.PendingMessage,
	}
}

// Push event types delivered over the persistent connection.
const (
	PushConversationUpdate = "conversation_update"
	PushNewMessage         = "new_message"
	PushTelnyxMessage      = "telnyx_message"
)

// PushEvent is one server-initiated notification. It carries only enough to
// know something changed, never a full delta.
type PushEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
}

// Recognized reports whether the event type triggers a cache refresh.
func (e PushEvent) Recognized() bool {
	switch e.Type {
	case PushConversationUpdate, PushNewMessage, PushTelnyxMessage:
		return true
	}
	return false
}

// APIError is a non-2xx gateway response. Message carries the backend's
// error text when it provided one.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway: %s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("gateway: request failed (status %d)", e.Status)
}

// UserMessage returns the text to surface in a toast: the backend message
// when present, a generic fallback otherwise.
func (e *APIError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Status >= http.StatusInternalServerError {
		return "The messaging service is unavailable. Please try again."
	}
	return "Request failed. Please try again."
}
