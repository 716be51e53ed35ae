// Package typing implements both halves of the live-chat typing protocol:
// debounced outgoing composing signals and the incoming preview poller.
package typing

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/omnidesk/inboxd/internal/conversation"
	"github.com/omnidesk/inboxd/internal/event"
	"github.com/omnidesk/inboxd/internal/gateway"
	"github.com/omnidesk/inboxd/internal/store"
)

// Gateway is the slice of the gateway client the typing service needs.
type Gateway interface {
	SendTyping(ctx context.Context, conversationID string, isTyping bool) error
	TypingPreview(ctx context.Context, conversationID string) (gateway.TypingPreview, error)
}

// Preview is the payload published on typing_preview events: the remote
// party's in-progress text for one conversation.
type Preview struct {
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

// Config tunes the protocol timings. Zero values take the defaults the
// live-chat widget expects.
type Config struct {
	// SignalWindow bounds outgoing typing=true signals to one per window.
	SignalWindow time.Duration
	// StopDelay is how long after the last keystroke typing=false fires.
	StopDelay time.Duration
	// PollInterval is the cadence of the preview poller.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.SignalWindow <= 0 {
		c.SignalWindow = 2 * time.Second
	}
	if c.StopDelay <= 0 {
		c.StopDelay = 3 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

// Service owns the typing state for the currently composed conversation and
// the preview poll for the currently selected one.
type Service struct {
	gateway   Gateway
	cache     *store.Store
	publisher event.Publisher
	logger    *slog.Logger
	cfg       Config

	mu            sync.Mutex
	composingIn   string
	limiter       *rate.Limiter
	stopTimer     *time.Timer
	previewIn     string
	previewCancel context.CancelFunc
	previewDone   chan struct{}
}

// NewService creates the typing service.
func NewService(log *slog.Logger, cache *store.Store, gw Gateway, publisher event.Publisher, cfg Config) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		gateway:   gw,
		cache:     cache,
		publisher: publisher,
		logger:    log.With(slog.String("service", "typing")),
		cfg:       cfg.withDefaults(),
	}
}

// Composing records one keystroke in the given conversation's composer.
// Signals go out only for live chat and never while composing an internal
// note. At most one typing=true is sent per signal window; typing=false
// fires StopDelay after the last keystroke.
func (s *Service) Composing(conversationID string, internalNote bool) {
	if internalNote {
		return
	}
	conv, ok := s.cache.Get(conversationID)
	if !ok || conv.Channel != conversation.ChannelLiveChat {
		return
	}

	s.mu.Lock()
	if s.composingIn != conversationID {
		// Keystrokes moved to another conversation; close out the old one
		// so a stale timer cannot emit into it.
		s.stopLocked()
		s.composingIn = conversationID
		s.limiter = rate.NewLimiter(rate.Every(s.cfg.SignalWindow), 1)
	}
	sendStart := s.limiter.Allow()
	if s.stopTimer != nil {
		s.stopTimer.Stop()
	}
	s.stopTimer = time.AfterFunc(s.cfg.StopDelay, func() {
		s.Stop(conversationID)
	})
	s.mu.Unlock()

	if sendStart {
		s.signal(conversationID, true)
	}
}

// Stop sends typing=false immediately for the conversation if it is the one
// being composed in. Called on send, on selection change, and by the
// trailing stop timer.
func (s *Service) Stop(conversationID string) {
	s.mu.Lock()
	if s.composingIn != conversationID {
		s.mu.Unlock()
		return
	}
	s.stopLocked()
	s.mu.Unlock()

	s.signal(conversationID, false)
}

// stopLocked clears composing state without emitting; the caller decides
// whether a typing=false signal goes out. Must hold s.mu.
func (s *Service) stopLocked() {
	if s.stopTimer != nil {
		s.stopTimer.Stop()
		s.stopTimer = nil
	}
	s.composingIn = ""
	s.limiter = nil
}

func (s *Service) signal(conversationID string, isTyping bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.gateway.SendTyping(ctx, conversationID, isTyping); err != nil {
		s.logger.Debug("typing signal failed",
			slog.String("conversation_id", conversationID),
			slog.Bool("is_typing", isTyping),
			slog.Any("error", err),
		)
	}
}

// StartPreview begins polling the server-held preview buffer for the
// conversation. Any previous poll stops first. Non-live-chat conversations
// never poll.
func (s *Service) StartPreview(conversationID string) {
	s.StopPreview()

	conv, ok := s.cache.Get(conversationID)
	if !ok || conv.Channel != conversation.ChannelLiveChat {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.previewIn = conversationID
	s.previewCancel = cancel
	s.previewDone = done
	s.mu.Unlock()

	go s.poll(ctx, conversationID, done)
}

// StopPreview halts the current preview poll, if any, and waits for its
// goroutine to exit so no tick lands after the selection changed.
func (s *Service) StopPreview() {
	s.mu.Lock()
	cancel := s.previewCancel
	done := s.previewDone
	s.previewIn = ""
	s.previewCancel = nil
	s.previewDone = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Service) poll(ctx context.Context, conversationID string, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			preview, err := s.gateway.TypingPreview(ctx, conversationID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Debug("preview poll failed",
					slog.String("conversation_id", conversationID),
					slog.Any("error", err),
				)
				continue
			}
			s.publishPreview(conversationID, Preview{
				Text:      preview.Text,
				UpdatedAt: preview.UpdatedAt,
			})
		}
	}
}

func (s *Service) publishPreview(conversationID string, preview Preview) {
	if s.publisher == nil {
		return
	}
	preview.ConversationID = conversationID
	payload, err := json.Marshal(preview)
	if err != nil {
		return
	}
	s.publisher.Publish(event.Event{
		Type:           event.TypeTypingPreview,
		ConversationID: conversationID,
		Data:           payload,
	})
}

// Close stops all timers and polls.
func (s *Service) Close() {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
	s.StopPreview()
}
