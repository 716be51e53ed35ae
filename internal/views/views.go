// Package views derives the named conversation subsets the inbox renders.
// Membership is a pure function of conversation fields; nothing here is
// persisted or stateful.
package views

import (
	"fmt"
	"strings"

	"github.com/omnidesk/inboxd/internal/conversation"
)

// View names one derived subset of the conversation list.
type View string

const (
	ViewOpen       View = "open"
	ViewUnread     View = "unread"
	ViewAssigned   View = "assigned"
	ViewUnassigned View = "unassigned"
	ViewWaiting    View = "waiting"
	ViewSolved     View = "solved"
	ViewAll        View = "all"

	ViewSMS       View = "sms"
	ViewIMessage  View = "imessage"
	ViewRCS       View = "rcs"
	ViewWhatsApp  View = "whatsapp"
	ViewFacebook  View = "facebook"
	ViewInstagram View = "instagram"
	ViewTelegram  View = "telegram"
	ViewLiveChat  View = "live_chat"
)

// All enumerates every view, in display order.
var All = []View{
	ViewOpen, ViewUnread, ViewAssigned, ViewUnassigned, ViewWaiting, ViewSolved,
	ViewSMS, ViewIMessage, ViewRCS, ViewWhatsApp, ViewFacebook, ViewInstagram,
	ViewTelegram, ViewLiveChat, ViewAll,
}

// Parse validates a view name.
func Parse(value string) (View, error) {
	v := View(strings.ToLower(strings.TrimSpace(value)))
	if value == "" {
		return ViewOpen, nil
	}
	for _, known := range All {
		if v == known {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown view %q", value)
}

// channel returns the channel a per-channel view filters on, or false for
// the status views.
func (v View) channel() (conversation.Channel, bool) {
	switch v {
	case ViewSMS:
		return conversation.ChannelSMS, true
	case ViewIMessage:
		return conversation.ChannelIMessage, true
	case ViewRCS:
		return conversation.ChannelRCS, true
	case ViewWhatsApp:
		return conversation.ChannelWhatsApp, true
	case ViewFacebook:
		return conversation.ChannelFacebook, true
	case ViewInstagram:
		return conversation.ChannelInstagram, true
	case ViewTelegram:
		return conversation.ChannelTelegram, true
	case ViewLiveChat:
		return conversation.ChannelLiveChat, true
	}
	return "", false
}

// Matches reports whether one conversation belongs to the view. agentID
// scopes the assigned view to the signed-in agent.
func Matches(c conversation.Conversation, v View, agentID string) bool {
	if ch, ok := v.channel(); ok {
		return c.Channel == ch
	}
	switch v {
	case ViewOpen:
		return c.Status.Active()
	case ViewUnread:
		return c.UnreadCount > 0 && c.Status != conversation.StatusWaiting
	case ViewAssigned:
		return c.AssigneeID != "" && c.AssigneeID == agentID
	case ViewUnassigned:
		return c.AssigneeID == ""
	case ViewWaiting:
		return c.Channel == conversation.ChannelLiveChat && c.Status == conversation.StatusWaiting
	case ViewSolved:
		return c.Status.Resolved()
	case ViewAll:
		return true
	default:
		return false
	}
}

// Filter returns the conversations belonging to the view, preserving input
// order.
func Filter(conversations []conversation.Conversation, v View, agentID string) []conversation.Conversation {
	out := make([]conversation.Conversation, 0, len(conversations))
	for _, c := range conversations {
		if Matches(c, v, agentID) {
			out = append(out, c)
		}
	}
	return out
}

// Search intersects a free-text query with a conversation list, matching
// display name, raw identifier, or last-message text, case-insensitively.
// An empty query matches everything.
func Search(conversations []conversation.Conversation, query string) []conversation.Conversation {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return conversations
	}
	out := make([]conversation.Conversation, 0, len(conversations))
	for _, c := range conversations {
		if strings.Contains(strings.ToLower(c.DisplayName), query) ||
			strings.Contains(strings.ToLower(c.Identifier()), query) ||
			strings.Contains(strings.ToLower(c.LastMessage), query) {
			out = append(out, c)
		}
	}
	return out
}

// Counts computes the badge number for every view. The waiting badge uses a
// stricter predicate than waiting list membership: only conversations whose
// visitor is still active with a pending message are counted, so the badge
// never advertises chats whose visitor already left, while the list keeps
// them reachable for manual recovery.
func Counts(conversations []conversation.Conversation, agentID string, visitorActive func(conversation.Conversation) bool) map[View]int {
	counts := make(map[View]int, len(All))
	for _, v := range All {
		counts[v] = 0
	}
	for _, c := range conversations {
		for _, v := range All {
			if !Matches(c, v, agentID) {
				continue
			}
			if v == ViewWaiting && visitorActive != nil && !visitorActive(c) {
				continue
			}
			counts[v]++
		}
	}
	return counts
}
