package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/omnidesk/inboxd/internal/event"
)

const (
	eventWriteWait  = 10 * time.Second
	eventPingPeriod = 30 * time.Second
)

// EventsHandler streams hub events to the UI over a websocket. Every
// connection gets its own hub subscription; a slow or dead connection only
// loses its own events.
type EventsHandler struct {
	hub      event.Subscriber
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewEventsHandler creates the event stream handler.
func NewEventsHandler(log *slog.Logger, hub event.Subscriber) *EventsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &EventsHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The server binds loopback only; the UI connects from a
			// file:// or localhost origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log.With(slog.String("handler", "events")),
	}
}

// Register mounts GET /inbox/events on the Echo instance.
func (h *EventsHandler) Register(e *echo.Echo) {
	e.GET("/inbox/events", h.Stream)
}

// Stream upgrades the connection and forwards hub events until the client
// disconnects.
func (h *EventsHandler) Stream(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	streamID, events, cancel := h.hub.Subscribe(event.DefaultBufferSize)
	defer cancel()
	h.logger.Debug("event stream opened", slog.String("stream_id", streamID))

	// Reads are discarded; they only detect the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			h.logger.Debug("event stream closed", slog.String("stream_id", streamID))
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("event stream write failed",
					slog.String("stream_id", streamID),
					slog.Any("error", err),
				)
				return nil
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}
