// Package contacts edits the contact profile attached to a conversation,
// optimistically: the cache reflects the edit before the gateway confirms
// it, and reverts if the PATCH fails.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/omnidesk/inboxd/internal/conversation"
	"github.com/omnidesk/inboxd/internal/dispatch"
	"github.com/omnidesk/inboxd/internal/gateway"
	"github.com/omnidesk/inboxd/internal/optimistic"
	"github.com/omnidesk/inboxd/internal/store"
)

var (
	// ErrUnknownConversation rejects edits to conversations the cache does
	// not hold.
	ErrUnknownConversation = errors.New("unknown conversation")
	// ErrEmptyEdit rejects edits that change nothing.
	ErrEmptyEdit = errors.New("edit changes no fields")
	// ErrInvalidEmail rejects malformed email values. Clearing is allowed.
	ErrInvalidEmail = errors.New("invalid email address")
)

// Gateway is the slice of the gateway client contact edits need.
type Gateway interface {
	UpdateConversation(ctx context.Context, conversationID string, req gateway.UpdateConversationRequest) (gateway.Conversation, error)
}

// Service applies contact profile edits.
type Service struct {
	cache     *store.Store
	gateway   Gateway
	refresher *dispatch.Refresher
	logger    *slog.Logger
}

// NewService creates the contact editor.
func NewService(log *slog.Logger, cache *store.Store, gw Gateway, refresher *dispatch.Refresher) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cache:     cache,
		gateway:   gw,
		refresher: refresher,
		logger:    log.With(slog.String("service", "contacts")),
	}
}

// Update applies an edit to the conversation's contact profile. The cache
// changes immediately; on gateway failure the previous values are restored
// and the error returned.
func (s *Service) Update(ctx context.Context, conversationID string, edit Edit) (conversation.Conversation, error) {
	edit = normalize(edit)
	if edit.Empty() {
		return conversation.Conversation{}, ErrEmptyEdit
	}
	if edit.Email != nil && *edit.Email != "" && !plausibleEmail(*edit.Email) {
		return conversation.Conversation{}, fmt.Errorf("%w: %q", ErrInvalidEmail, *edit.Email)
	}
	prev, ok := s.cache.Get(conversationID)
	if !ok {
		return conversation.Conversation{}, fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}

	err := optimistic.Run(ctx, optimistic.Op{
		Apply: func() error {
			return s.cache.Apply(store.PatchConversationFields{
				ConversationID: conversationID,
				Fields: store.FieldPatch{
					DisplayName:  edit.DisplayName,
					Email:        edit.Email,
					JobTitle:     edit.JobTitle,
					Organization: edit.Organization,
				},
			})
		},
		Request: func(ctx context.Context) error {
			_, err := s.gateway.UpdateConversation(ctx, conversationID, gateway.UpdateConversationRequest{
				DisplayName:  edit.DisplayName,
				Email:        edit.Email,
				JobTitle:     edit.JobTitle,
				Organization: edit.Organization,
			})
			return err
		},
		Rollback: func() {
			if err := s.cache.Apply(store.PatchConversationFields{
				ConversationID: conversationID,
				Fields: store.FieldPatch{
					DisplayName:  &prev.DisplayName,
					Email:        &prev.Email,
					JobTitle:     &prev.JobTitle,
					Organization: &prev.Organization,
				},
			}); err != nil {
				s.logger.Warn("contact edit rollback failed",
					slog.String("conversation_id", conversationID),
					slog.Any("error", err),
				)
			}
		},
		OnSuccess: func(ctx context.Context) {
			s.refresher.RefreshConversations(ctx)
		},
	})
	if err != nil {
		return conversation.Conversation{}, err
	}

	updated, ok := s.cache.Get(conversationID)
	if !ok {
		return conversation.Conversation{}, fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}
	return updated, nil
}

// ProfileOf extracts the contact profile from a conversation.
func ProfileOf(c conversation.Conversation) Profile {
	return Profile{
		DisplayName:  c.DisplayName,
		Email:        c.Email,
		JobTitle:     c.JobTitle,
		Organization: c.Organization,
	}
}

func normalize(edit Edit) Edit {
	trim := func(p *string) *string {
		if p == nil {
			return nil
		}
		v := strings.TrimSpace(*p)
		return &v
	}
	return Edit{
		DisplayName:  trim(edit.DisplayName),
		Email:        trim(edit.Email),
		JobTitle:     trim(edit.JobTitle),
		Organization: trim(edit.Organization),
	}
}

// plausibleEmail is a sanity check, not validation; the gateway has the
// final say.
func plausibleEmail(value string) bool {
	at := strings.Index(value, "@")
	if at <= 0 || at == len(value)-1 {
		return false
	}
	return !strings.ContainsAny(value, " \t")
}
