package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/omnidesk/inboxd/internal/gateway"
)

// Selection exposes the currently open conversation. Implemented by the
// session service.
type Selection interface {
	Selected() string
}

// Dispatcher consumes push events and invalidates the affected cache
// entries. The policy is deliberately coarse: a push event only proves
// something changed, so the dispatcher refetches instead of guessing at a
// delta.
type Dispatcher struct {
	refresher *Refresher
	selection Selection
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the refresher.
func NewDispatcher(log *slog.Logger, refresher *Refresher, selection Selection) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		refresher: refresher,
		selection: selection,
		logger:    log.With(slog.String("service", "dispatch")),
	}
}

// Run consumes events until the channel closes or ctx is cancelled. It
// returns after all triggered refetches have settled.
func (d *Dispatcher) Run(ctx context.Context, events <-chan gateway.PushEvent) {
	defer d.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.Handle(ctx, ev)
		}
	}
}

// Handle processes one push event. Unrecognized types are ignored; stale or
// duplicate events are harmless because a refetch of current data is a
// no-op.
func (d *Dispatcher) Handle(ctx context.Context, ev gateway.PushEvent) {
	if !ev.Recognized() {
		d.logger.Debug("ignoring push event", slog.String("type", ev.Type))
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.refresher.RefreshConversations(ctx)
	}()

	if ev.ConversationID == "" || d.selection == nil {
		return
	}
	if selected := d.selection.Selected(); selected != "" && selected == ev.ConversationID {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.refresher.RefreshMessages(ctx, ev.ConversationID)
		}()
	}
}

// Wait blocks until in-flight refetches finish. Used at teardown and in
// tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
