// Package send implements the optimistic send pipeline: a provisional
// message is applied to the cache before the network round trip, then
// superseded by a refetch on success or removed on failure.
package send

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/omnidesk/inboxd/internal/conversation"
	"github.com/omnidesk/inboxd/internal/dispatch"
	"github.com/omnidesk/inboxd/internal/drafts"
	"github.com/omnidesk/inboxd/internal/event"
	"github.com/omnidesk/inboxd/internal/gateway"
	"github.com/omnidesk/inboxd/internal/optimistic"
	"github.com/omnidesk/inboxd/internal/store"
)

var (
	// ErrEmptyMessage rejects sends with neither text nor attachments.
	ErrEmptyMessage = errors.New("message needs text or an attachment")
	// ErrUnknownConversation rejects sends to conversations the cache does
	// not hold.
	ErrUnknownConversation = errors.New("unknown conversation")
	// ErrMissingRecipient rejects new-conversation starts without a number.
	ErrMissingRecipient = errors.New("recipient phone number is required")
)

// Gateway is the slice of the gateway client the pipeline needs.
type Gateway interface {
	SendMessage(ctx context.Context, conversationID string, req gateway.SendRequest) (gateway.Message, error)
	CreateConversation(ctx context.Context, req gateway.CreateConversationRequest) (gateway.Conversation, error)
}

// DraftSaver preserves the content of failed sends.
type DraftSaver interface {
	Save(ctx context.Context, draft drafts.Draft) (drafts.Draft, error)
}

// Input describes one send.
type Input struct {
	ConversationID string
	Text           string
	Attachments    []gateway.Attachment
	IsInternalNote bool
}

// StartInput describes a new conversation with its first message.
type StartInput struct {
	PhoneNumber string
	FromNumber  string
	Text        string
}

// Pipeline runs optimistic sends against the cache and gateway.
type Pipeline struct {
	cache      *store.Store
	gateway    Gateway
	refresher  *dispatch.Refresher
	draftStore DraftSaver
	publisher  event.Publisher
	logger     *slog.Logger
	timeout    time.Duration
	now        func() time.Time
	wg         sync.WaitGroup
}

// NewPipeline creates a send pipeline. The publisher receives toast events
// for failed sends; the draft saver keeps their content recoverable.
func NewPipeline(log *slog.Logger, cache *store.Store, gw Gateway, refresher *dispatch.Refresher, draftStore DraftSaver, publisher event.Publisher) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		cache:      cache,
		gateway:    gw,
		refresher:  refresher,
		draftStore: draftStore,
		publisher:  publisher,
		logger:     log.With(slog.String("service", "send")),
		timeout:    30 * time.Second,
		now:        time.Now,
	}
}

// Send validates the input, applies a provisional pending message to the
// cache, and returns it immediately. The network send and its
// reconciliation run in the background; the caller clears the composer as
// soon as Send returns, whatever the network outcome.
func (p *Pipeline) Send(ctx context.Context, in Input) (conversation.Message, error) {
	text := in.Text
	if (conversation.Message{Text: text, MediaURLs: attachmentNames(in.Attachments)}).Empty() {
		return conversation.Message{}, ErrEmptyMessage
	}
	conv, ok := p.cache.Get(in.ConversationID)
	if !ok {
		return conversation.Message{}, fmt.Errorf("%w: %s", ErrUnknownConversation, in.ConversationID)
	}

	kind := conversation.KindNormal
	if in.IsInternalNote {
		kind = conversation.KindInternalNote
	}
	provisional := conversation.Message{
		ID:             conversation.NewOptimisticID(),
		ConversationID: conv.ID,
		Direction:      conversation.DirectionOutbound,
		Kind:           kind,
		Delivery:       conversation.DeliveryPending,
		Text:           text,
		MediaURLs:      attachmentNames(in.Attachments),
		CreatedAt:      p.now(),
	}
	if err := p.cache.Apply(store.UpsertMessage{Message: provisional}); err != nil {
		return conversation.Message{}, fmt.Errorf("apply provisional message: %w", err)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reconcile(provisional, in)
	}()

	return provisional, nil
}

// reconcile runs the network send for one provisional message. It uses a
// detached context: the send must finish (or fail) on its own schedule even
// if the caller moved on to another conversation.
func (p *Pipeline) reconcile(provisional conversation.Message, in Input) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	_, err := p.gateway.SendMessage(ctx, provisional.ConversationID, gateway.SendRequest{
		Text:           in.Text,
		IsInternalNote: in.IsInternalNote,
		Files:          in.Attachments,
	})
	if err != nil {
		p.rollback(ctx, provisional, in, err)
		return
	}

	// The refetched transcript supersedes the provisional entry; its
	// optimistic id is never reused.
	p.refresher.RefreshMessages(ctx, provisional.ConversationID)
	p.refresher.RefreshConversations(ctx)
}

func (p *Pipeline) rollback(ctx context.Context, provisional conversation.Message, in Input, cause error) {
	if err := p.cache.Apply(store.RemoveMessage{
		ConversationID: provisional.ConversationID,
		MessageID:      provisional.ID,
	}); err != nil {
		p.logger.Warn("optimistic rollback failed", slog.Any("error", err))
	}

	reason := userMessage(cause)
	if p.draftStore != nil {
		if _, err := p.draftStore.Save(ctx, drafts.Draft{
			ConversationID: provisional.ConversationID,
			Text:           in.Text,
			MediaURLs:      attachmentNames(in.Attachments),
			Reason:         reason,
			FailedAt:       p.now().UTC(),
		}); err != nil {
			p.logger.Warn("save failed draft", slog.Any("error", err))
		}
	}

	p.logger.Warn("send failed",
		slog.String("conversation_id", provisional.ConversationID),
		slog.Any("error", cause),
	)
	event.PublishToast(p.publisher, event.ToastError, reason)
}

// Start creates a new conversation with its first message. Unlike Send it
// is synchronous: there is no cache entry to be optimistic about until the
// gateway assigns the conversation its identity.
func (p *Pipeline) Start(ctx context.Context, in StartInput) (conversation.Conversation, error) {
	if in.PhoneNumber == "" {
		return conversation.Conversation{}, ErrMissingRecipient
	}
	if (conversation.Message{Text: in.Text}).Empty() {
		return conversation.Conversation{}, ErrEmptyMessage
	}

	var created conversation.Conversation
	err := optimistic.Run(ctx, optimistic.Op{
		Request: func(ctx context.Context) error {
			wire, err := p.gateway.CreateConversation(ctx, gateway.CreateConversationRequest{
				PhoneNumber: in.PhoneNumber,
				FromNumber:  in.FromNumber,
				Text:        in.Text,
			})
			if err != nil {
				return err
			}
			created = wire.ToModel()
			return nil
		},
		OnSuccess: func(ctx context.Context) {
			if err := p.cache.Apply(store.UpsertConversation{Conversation: created}); err != nil {
				p.logger.Warn("apply created conversation", slog.Any("error", err))
			}
			p.refresher.RefreshMessages(ctx, created.ID)
		},
	})
	if err != nil {
		event.PublishToast(p.publisher, event.ToastError, userMessage(err))
		return conversation.Conversation{}, err
	}
	return created, nil
}

// Wait blocks until all in-flight sends have reconciled. Called at
// teardown so no send is abandoned mid-flight.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func attachmentNames(files []gateway.Attachment) []string {
	if len(files) == 0 {
		return nil
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	return names
}

func userMessage(err error) string {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		return apiErr.UserMessage()
	}
	return "Message could not be sent. Please try again."
}
