package conversation

import "errors"

// ErrInvalidTransition is returned when a lifecycle transition is requested
// from a status that does not permit it.
var ErrInvalidTransition = errors.New("invalid status transition")

// CanTransition reports whether a conversation may move from one status to
// another. Reopening a solved conversation happens through inbound activity
// on the gateway side, so solved -> open is allowed here as the local echo
// of that event.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusWaiting:
		return to == StatusOpen
	case StatusOpen:
		return to == StatusPending || to == StatusSolved || to == StatusSnoozed
	case StatusPending:
		return to == StatusOpen || to == StatusSolved || to == StatusSnoozed
	case StatusSnoozed:
		return to == StatusOpen
	case StatusSolved:
		return to == StatusArchived || to == StatusOpen
	case StatusArchived:
		return false
	default:
		return false
	}
}

// CanAccept reports whether the accept transition is valid for the
// conversation: live chat only, and only from waiting.
func CanAccept(c Conversation) bool {
	return c.Channel == ChannelLiveChat && c.Status == StatusWaiting
}

// CanSolve reports whether the solve transition is valid for the
// conversation.
func CanSolve(c Conversation) bool {
	return c.Status.Active()
}
