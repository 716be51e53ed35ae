// Package visitors polls widget presence and holds the latest live-visitor
// snapshot. The snapshot backs the live-visitor panel and the waiting-badge
// predicate.
package visitors

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/omnidesk/inboxd/internal/conversation"
	"github.com/omnidesk/inboxd/internal/event"
	"github.com/omnidesk/inboxd/internal/gateway"
)

// Gateway is the slice of the gateway client the presence poller needs.
type Gateway interface {
	LiveVisitors(ctx context.Context) ([]gateway.LiveVisitor, error)
}

// Config tunes the presence poller.
type Config struct {
	// PollInterval is the presence fetch cadence.
	PollInterval time.Duration
	// ActiveWindow is how recently a visitor must have been seen to count
	// as present.
	ActiveWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.ActiveWindow <= 0 {
		c.ActiveWindow = 2 * time.Minute
	}
	return c
}

// Service polls live-visitor presence and exposes the latest snapshot.
type Service struct {
	gateway   Gateway
	publisher event.Publisher
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time

	mu       sync.RWMutex
	snapshot map[string]conversation.LiveVisitor
}

// NewService creates the presence poller.
func NewService(log *slog.Logger, gw Gateway, publisher event.Publisher, cfg Config) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		gateway:   gw,
		publisher: publisher,
		logger:    log.With(slog.String("service", "visitors")),
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		snapshot:  map[string]conversation.LiveVisitor{},
	}
}

// Run polls until ctx is cancelled. One fetch happens immediately so the
// panel is populated before the first tick.
func (s *Service) Run(ctx context.Context) {
	s.refresh(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

// Refresh fetches presence once, outside the poll loop. Used by the HTTP
// surface to force an update.
func (s *Service) Refresh(ctx context.Context) error {
	return s.refresh(ctx)
}

func (s *Service) refresh(ctx context.Context) error {
	wire, err := s.gateway.LiveVisitors(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Presence is best effort; a failed poll keeps the last snapshot.
		s.logger.Debug("presence poll failed", slog.Any("error", err))
		return err
	}

	next := make(map[string]conversation.LiveVisitor, len(wire))
	for _, v := range wire {
		model := v.ToModel()
		if model.VisitorID == "" {
			continue
		}
		next[model.VisitorID] = model
	}

	s.mu.Lock()
	changed := !snapshotsEqual(s.snapshot, next)
	s.snapshot = next
	s.mu.Unlock()

	if changed {
		s.publishPresence()
	}
	return nil
}

// Snapshot returns the visitors seen within the active window, most recent
// first.
func (s *Service) Snapshot() []conversation.LiveVisitor {
	now := s.now()
	s.mu.RLock()
	out := make([]conversation.LiveVisitor, 0, len(s.snapshot))
	for _, v := range s.snapshot {
		if v.ActiveWithin(s.cfg.ActiveWindow, now) {
			out = append(out, v)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].VisitorID < out[j].VisitorID
	})
	return out
}

// ActiveWithPending reports whether the visitor behind the conversation is
// still present and has an undelivered message. The waiting badge counts
// only these; waiting list membership is looser on purpose.
func (s *Service) ActiveWithPending(c conversation.Conversation) bool {
	if c.Channel != conversation.ChannelLiveChat {
		return false
	}
	s.mu.RLock()
	v, ok := s.snapshot[c.Identifier()]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return v.ActiveWithin(s.cfg.ActiveWindow, s.now()) && v.PendingMessage != ""
}

func (s *Service) publishPresence() {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(s.Snapshot())
	if err != nil {
		return
	}
	s.publisher.Publish(event.Event{
		Type: event.TypePresence,
		Data: payload,
	})
}

func snapshotsEqual(a, b map[string]conversation.LiveVisitor) bool {
	if len(a) != len(b) {
		return false
	}
	for id, av := range a {
		bv, ok := b[id]
		if !ok {
			return false
		}
		if !av.LastSeen.Equal(bv.LastSeen) || av.PendingMessage != bv.PendingMessage || av.WidgetID != bv.WidgetID {
			return false
		}
	}
	return true
}
