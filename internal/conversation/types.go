// Package conversation defines the inbox data model: conversations,
// messages, live visitors, and the conversation lifecycle state machine.
package conversation

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Channel is the transport a conversation runs over. A conversation's
// channel never changes after creation.
type Channel string

const (
	ChannelSMS       Channel = "sms"
	ChannelIMessage  Channel = "imessage"
	ChannelRCS       Channel = "rcs"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelFacebook  Channel = "facebook"
	ChannelInstagram Channel = "instagram"
	ChannelTelegram  Channel = "telegram"
	ChannelLiveChat  Channel = "live_chat"
)

// ParseChannel normalizes a wire channel string. The empty string maps to
// SMS, the backward-compatible default for records created before channels
// existed.
func ParseChannel(value string) Channel {
	switch Channel(strings.ToLower(strings.TrimSpace(value))) {
	case ChannelIMessage:
		return ChannelIMessage
	case ChannelRCS:
		return ChannelRCS
	case ChannelWhatsApp:
		return ChannelWhatsApp
	case ChannelFacebook:
		return ChannelFacebook
	case ChannelInstagram:
		return ChannelInstagram
	case ChannelTelegram:
		return ChannelTelegram
	case ChannelLiveChat:
		return ChannelLiveChat
	default:
		return ChannelSMS
	}
}

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelIMessage, ChannelRCS, ChannelWhatsApp,
		ChannelFacebook, ChannelInstagram, ChannelTelegram, ChannelLiveChat:
		return true
	}
	return false
}

// Status is the lifecycle state of a conversation.
type Status string

const (
	// StatusWaiting marks a live-chat visitor message pending agent
	// acceptance. Only reachable for ChannelLiveChat.
	StatusWaiting Status = "waiting"
	StatusOpen    Status = "open"
	StatusPending Status = "pending"
	StatusSolved  Status = "solved"
	StatusSnoozed Status = "snoozed"
	// StatusArchived is a terminal variant of solved, kept distinct for
	// filtering only.
	StatusArchived Status = "archived"
)

// ParseStatus normalizes a wire status string. The empty string maps to
// open, matching records that predate explicit statuses.
func ParseStatus(value string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusWaiting:
		return StatusWaiting
	case StatusPending:
		return StatusPending
	case StatusSolved:
		return StatusSolved
	case StatusSnoozed:
		return StatusSnoozed
	case StatusArchived:
		return StatusArchived
	default:
		return StatusOpen
	}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusOpen, StatusPending, StatusSolved, StatusSnoozed, StatusArchived:
		return true
	}
	return false
}

// Active reports whether the conversation is being worked (open or pending).
func (s Status) Active() bool {
	return s == StatusOpen || s == StatusPending
}

// Resolved reports whether the conversation is finished (solved or archived).
func (s Status) Resolved() bool {
	return s == StatusSolved || s == StatusArchived
}

// Conversation is the denormalized summary of one thread with a
// counterparty. Messages reference it by ID only.
type Conversation struct {
	ID           string    `json:"id"`
	Channel      Channel   `json:"channel"`
	PhoneNumber  string    `json:"phone_number"`
	DisplayName  string    `json:"display_name,omitempty"`
	Email        string    `json:"email,omitempty"`
	JobTitle     string    `json:"job_title,omitempty"`
	Organization string    `json:"organization,omitempty"`
	Status       Status    `json:"status"`
	AssigneeID   string    `json:"assignee_id,omitempty"`
	UnreadCount  int       `json:"unread_count"`
	LastMessage  string    `json:"last_message,omitempty"`
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
	LastMediaURLs []string  `json:"last_media_urls,omitempty"`
}

// Identifier is the raw counterparty identifier used for search: the phone
// number for carrier channels, the visitor ID for live chat.
func (c Conversation) Identifier() string {
	return c.PhoneNumber
}

// Direction says which side produced a message.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Kind separates deliverable messages from agent-only internal notes.
type Kind string

const (
	KindNormal       Kind = "normal"
	KindInternalNote Kind = "internal_note"
)

// DeliveryStatus tracks an outbound, non-note message through the gateway.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// OptimisticIDPrefix namespaces locally generated message IDs so they can
// never collide with server-assigned ones.
const OptimisticIDPrefix = "local-"

// NewOptimisticID returns a session-unique local message ID.
func NewOptimisticID() string {
	return OptimisticIDPrefix + uuid.NewString()
}

// IsOptimisticID reports whether id was generated locally.
func IsOptimisticID(id string) bool {
	return strings.HasPrefix(id, OptimisticIDPrefix)
}

// Message is one entry in a conversation transcript.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Direction      Direction      `json:"direction"`
	Kind           Kind           `json:"kind"`
	Delivery       DeliveryStatus `json:"delivery,omitempty"`
	Text           string         `json:"text,omitempty"`
	MediaURLs      []string       `json:"media_urls,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Empty reports whether the message carries neither text nor media.
func (m Message) Empty() bool {
	return strings.TrimSpace(m.Text) == "" && len(m.MediaURLs) == 0
}

// RenderSide returns the transcript side the message renders on. Internal
// notes always render outbound regardless of their stored direction.
func (m Message) RenderSide() Direction {
	if m.Kind == KindInternalNote {
		return DirectionOutbound
	}
	return m.Direction
}

// LiveVisitor is a browser session on a chat widget that has not become a
// conversation yet. Presence only; it expires by inactivity.
type LiveVisitor struct {
	VisitorID      string    `json:"visitor_id"`
	WidgetID       string    `json:"widget_id"`
	LastSeen       time.Time `json:"last_seen"`
	PendingMessage string    `json:"pending_message,omitempty"`
}

// ActiveWithin reports whether the visitor was seen within window of now.
func (v LiveVisitor) ActiveWithin(window time.Duration, now time.Time) bool {
	if v.LastSeen.IsZero() {
		return false
	}
	return now.Sub(v.LastSeen) <= window
}
