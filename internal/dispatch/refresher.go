// Package dispatch keeps the conversation cache in sync with the gateway:
// it consumes push events and turns them into coalesced refetches.
package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/omnidesk/inboxd/internal/gateway"
	"github.com/omnidesk/inboxd/internal/store"
)

// Fetcher is the slice of the gateway client the refresher needs.
type Fetcher interface {
	ListConversations(ctx context.Context) ([]gateway.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]gateway.Message, error)
}

// refreshState tracks one resource's fetch cycle. While a fetch is in
// flight further requests only mark the resource dirty; the in-flight
// fetcher loops until the resource is clean, so responses are applied in
// fetch order and the last one wins.
type refreshState struct {
	inFlight bool
	dirty    bool
}

// Refresher refetches gateway resources into the cache with per-resource
// coalescing: stale-then-refetch cycles triggered in quick succession never
// produce two in-flight requests for the same resource.
type Refresher struct {
	store   *store.Store
	fetcher Fetcher
	logger  *slog.Logger

	mu       sync.Mutex
	convList refreshState
	messages map[string]*refreshState
}

// NewRefresher creates a refresher over the cache and gateway client.
func NewRefresher(log *slog.Logger, cache *store.Store, fetcher Fetcher) *Refresher {
	if log == nil {
		log = slog.Default()
	}
	return &Refresher{
		store:    cache,
		fetcher:  fetcher,
		logger:   log.With(slog.String("service", "refresh")),
		messages: map[string]*refreshState{},
	}
}

// RefreshConversations refetches the conversation list. If a fetch is
// already in flight the call coalesces into it and returns immediately.
func (r *Refresher) RefreshConversations(ctx context.Context) {
	r.mu.Lock()
	if r.convList.inFlight {
		r.convList.dirty = true
		r.mu.Unlock()
		return
	}
	r.convList.inFlight = true
	r.mu.Unlock()

	for {
		list, err := r.fetcher.ListConversations(ctx)
		if err != nil {
			r.logger.Warn("conversation list refetch failed", slog.Any("error", err))
		} else {
			applyConversations(r.store, r.logger, list)
		}

		r.mu.Lock()
		if !r.convList.dirty {
			r.convList.inFlight = false
			r.mu.Unlock()
			return
		}
		r.convList.dirty = false
		r.mu.Unlock()
	}
}

// RefreshMessages refetches one conversation's transcript with the same
// coalescing discipline as RefreshConversations.
func (r *Refresher) RefreshMessages(ctx context.Context, conversationID string) {
	if conversationID == "" {
		return
	}
	r.mu.Lock()
	state, ok := r.messages[conversationID]
	if !ok {
		state = &refreshState{}
		r.messages[conversationID] = state
	}
	if state.inFlight {
		state.dirty = true
		r.mu.Unlock()
		return
	}
	state.inFlight = true
	r.mu.Unlock()

	for {
		list, err := r.fetcher.ListMessages(ctx, conversationID)
		if err != nil {
			r.logger.Warn("message refetch failed",
				slog.String("conversation_id", conversationID),
				slog.Any("error", err),
			)
		} else {
			applyMessages(r.store, r.logger, conversationID, list)
		}

		r.mu.Lock()
		if !state.dirty {
			state.inFlight = false
			r.mu.Unlock()
			return
		}
		state.dirty = false
		r.mu.Unlock()
	}
}

func applyConversations(cache *store.Store, log *slog.Logger, list []gateway.Conversation) {
	patch := store.ReplaceConversationList{}
	for _, c := range list {
		patch.Conversations = append(patch.Conversations, c.ToModel())
	}
	if err := cache.Apply(patch); err != nil {
		log.Warn("apply conversation list failed", slog.Any("error", err))
	}
}

func applyMessages(cache *store.Store, log *slog.Logger, conversationID string, list []gateway.Message) {
	patch := store.ReplaceMessages{ConversationID: conversationID}
	for _, m := range list {
		patch.Messages = append(patch.Messages, m.ToModel())
	}
	if err := cache.Apply(patch); err != nil {
		log.Warn("apply messages failed",
			slog.String("conversation_id", conversationID),
			slog.Any("error", err),
		)
	}
}
