// Package session holds the agent's working state: which conversation is
// selected, which view is active, and the lifecycle transitions driven from
// the inbox. Transitions are optimistic with per-conversation in-flight
// guards.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/omnidesk/inboxd/internal/conversation"
	"github.com/omnidesk/inboxd/internal/dispatch"
	"github.com/omnidesk/inboxd/internal/event"
	"github.com/omnidesk/inboxd/internal/gateway"
	"github.com/omnidesk/inboxd/internal/optimistic"
	"github.com/omnidesk/inboxd/internal/store"
	"github.com/omnidesk/inboxd/internal/views"
)

var (
	// ErrUnknownConversation rejects operations on conversations the cache
	// does not hold.
	ErrUnknownConversation = errors.New("unknown conversation")
	// ErrTransitionInFlight rejects a second transition on a conversation
	// whose previous transition has not settled.
	ErrTransitionInFlight = errors.New("a transition is already in flight for this conversation")
	// ErrConfirmRequired rejects deletes without the explicit confirm flag.
	ErrConfirmRequired = errors.New("delete requires confirmation")
)

// Gateway is the slice of the gateway client the session needs.
type Gateway interface {
	AcceptConversation(ctx context.Context, conversationID string) error
	UpdateConversation(ctx context.Context, conversationID string, req gateway.UpdateConversationRequest) (gateway.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// Typing is the slice of the typing service selection changes drive.
type Typing interface {
	Stop(conversationID string)
	StartPreview(conversationID string)
	StopPreview()
}

// Service is the per-agent session state.
type Service struct {
	cache     *store.Store
	gateway   Gateway
	refresher *dispatch.Refresher
	typing    Typing
	publisher event.Publisher
	logger    *slog.Logger
	agentID   string

	mu         sync.Mutex
	selectedID string
	activeView views.View
	inFlight   map[string]bool
}

// NewService creates a session for the signed-in agent. The initial view is
// open.
func NewService(log *slog.Logger, cache *store.Store, gw Gateway, refresher *dispatch.Refresher, typing Typing, publisher event.Publisher, agentID string) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cache:      cache,
		gateway:    gw,
		refresher:  refresher,
		typing:     typing,
		publisher:  publisher,
		logger:     log.With(slog.String("service", "session")),
		agentID:    agentID,
		activeView: views.ViewOpen,
		inFlight:   map[string]bool{},
	}
}

// AgentID returns the signed-in agent's identity.
func (s *Service) AgentID() string { return s.agentID }

// Selected returns the selected conversation ID, or "" when none is.
func (s *Service) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedID
}

// ActiveView returns the view the inbox list is showing.
func (s *Service) ActiveView() views.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeView
}

// SetView switches the active view. Selection is untouched; a selected
// conversation may fall outside the new view.
func (s *Service) SetView(v views.View) {
	s.mu.Lock()
	s.activeView = v
	s.mu.Unlock()
}

// Select makes the conversation current: the previous conversation's typing
// state and preview poll stop, the new conversation's unread count resets
// locally, its transcript is refetched, and its preview poll starts. The
// gateway marks the conversation read as a side effect of the transcript
// fetch, so no explicit mark-read call goes out. Selecting "" deselects.
func (s *Service) Select(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	previous := s.selectedID
	s.mu.Unlock()

	if previous != "" && previous != conversationID && s.typing != nil {
		s.typing.Stop(previous)
	}
	if s.typing != nil {
		s.typing.StopPreview()
	}

	if conversationID == "" {
		s.mu.Lock()
		s.selectedID = ""
		s.mu.Unlock()
		return nil
	}

	if _, ok := s.cache.Get(conversationID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}

	s.mu.Lock()
	s.selectedID = conversationID
	s.mu.Unlock()

	zero := 0
	if err := s.cache.Apply(store.PatchConversationFields{
		ConversationID: conversationID,
		Fields:         store.FieldPatch{UnreadCount: &zero},
	}); err != nil {
		s.logger.Warn("reset unread failed",
			slog.String("conversation_id", conversationID),
			slog.Any("error", err),
		)
	}

	s.refresher.RefreshMessages(ctx, conversationID)
	if s.typing != nil {
		s.typing.StartPreview(conversationID)
	}
	return nil
}

// Accept takes a waiting live chat. The conversation opens in the cache
// immediately; on gateway failure it reverts to waiting. On success the
// conversation is selected and the view switches to open.
func (s *Service) Accept(ctx context.Context, conversationID string) error {
	release, err := s.acquire(conversationID)
	if err != nil {
		return err
	}
	defer release()

	conv, ok := s.cache.Get(conversationID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}
	if !conversation.CanAccept(conv) {
		return fmt.Errorf("%w: accept from %s/%s", conversation.ErrInvalidTransition, conv.Channel, conv.Status)
	}

	err = optimistic.Run(ctx, optimistic.Op{
		Apply:    s.statusPatch(conversationID, conversation.StatusOpen),
		Request:  func(ctx context.Context) error { return s.gateway.AcceptConversation(ctx, conversationID) },
		Rollback: s.statusRollback(conversationID, conv.Status),
		OnSuccess: func(ctx context.Context) {
			s.SetView(views.ViewOpen)
			if err := s.Select(ctx, conversationID); err != nil {
				s.logger.Warn("select accepted conversation", slog.Any("error", err))
			}
			s.refresher.RefreshConversations(ctx)
		},
	})
	if err != nil {
		event.PublishToast(s.publisher, event.ToastError, "Could not accept the chat. It may have been taken by another agent.")
		return err
	}
	return nil
}

// Solve closes out an active conversation. Optimistic like Accept; on
// success the conversation is deselected and the view switches to solved.
func (s *Service) Solve(ctx context.Context, conversationID string) error {
	release, err := s.acquire(conversationID)
	if err != nil {
		return err
	}
	defer release()

	conv, ok := s.cache.Get(conversationID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}
	if !conversation.CanSolve(conv) {
		return fmt.Errorf("%w: solve from %s", conversation.ErrInvalidTransition, conv.Status)
	}

	solved := string(conversation.StatusSolved)
	err = optimistic.Run(ctx, optimistic.Op{
		Apply: s.statusPatch(conversationID, conversation.StatusSolved),
		Request: func(ctx context.Context) error {
			_, err := s.gateway.UpdateConversation(ctx, conversationID, gateway.UpdateConversationRequest{Status: &solved})
			return err
		},
		Rollback: s.statusRollback(conversationID, conv.Status),
		OnSuccess: func(ctx context.Context) {
			if s.Selected() == conversationID {
				if err := s.Select(ctx, ""); err != nil {
					s.logger.Warn("deselect solved conversation", slog.Any("error", err))
				}
			}
			s.SetView(views.ViewSolved)
			s.refresher.RefreshConversations(ctx)
		},
	})
	if err != nil {
		event.PublishToast(s.publisher, event.ToastError, "Could not mark the conversation solved.")
		return err
	}
	return nil
}

// Delete permanently removes a conversation. Irreversible, so it is not
// optimistic: the cache changes only after the gateway confirms, and the
// caller must pass confirm explicitly.
func (s *Service) Delete(ctx context.Context, conversationID string, confirm bool) error {
	if !confirm {
		return ErrConfirmRequired
	}
	release, err := s.acquire(conversationID)
	if err != nil {
		return err
	}
	defer release()

	if _, ok := s.cache.Get(conversationID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}
	if err := s.gateway.DeleteConversation(ctx, conversationID); err != nil {
		event.PublishToast(s.publisher, event.ToastError, "Could not delete the conversation.")
		return err
	}

	if s.Selected() == conversationID {
		if err := s.Select(ctx, ""); err != nil {
			s.logger.Warn("deselect deleted conversation", slog.Any("error", err))
		}
	}
	if err := s.cache.Apply(store.RemoveConversation{ConversationID: conversationID}); err != nil {
		s.logger.Warn("remove deleted conversation", slog.Any("error", err))
	}
	return nil
}

// acquire takes the per-conversation transition guard.
func (s *Service) acquire(conversationID string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[conversationID] {
		return nil, fmt.Errorf("%w: %s", ErrTransitionInFlight, conversationID)
	}
	s.inFlight[conversationID] = true
	return func() {
		s.mu.Lock()
		delete(s.inFlight, conversationID)
		s.mu.Unlock()
	}, nil
}

func (s *Service) statusPatch(conversationID string, to conversation.Status) func() error {
	return func() error {
		return s.cache.Apply(store.PatchConversationFields{
			ConversationID: conversationID,
			Fields:         store.FieldPatch{Status: &to},
		})
	}
}

func (s *Service) statusRollback(conversationID string, previous conversation.Status) func() {
	return func() {
		if err := s.cache.Apply(store.PatchConversationFields{
			ConversationID: conversationID,
			Fields:         store.FieldPatch{Status: &previous},
		}); err != nil {
			s.logger.Warn("status rollback failed",
				slog.String("conversation_id", conversationID),
				slog.Any("error", err),
			)
		}
	}
}
