package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	minReconnectDelay = time.Second
	maxReconnectDelay = 30 * time.Second
)

// Stream is the persistent push channel from the gateway. It keeps a
// websocket connected (reconnecting with backoff) and delivers decoded push
// events until its context is cancelled.
type Stream struct {
	url    string
	token  string
	logger *slog.Logger
	events chan PushEvent
	dialer *websocket.Dialer
}

// NewStream creates a push stream for the given websocket URL.
func NewStream(log *slog.Logger, wsURL, token string) *Stream {
	if log == nil {
		log = slog.Default()
	}
	return &Stream{
		url:    wsURL,
		token:  token,
		logger: log.With(slog.String("client", "push")),
		events: make(chan PushEvent, 16),
		dialer: websocket.DefaultDialer,
	}
}

// Events returns the channel push events are delivered on. It is closed
// when Run returns.
func (s *Stream) Events() <-chan PushEvent {
	return s.events
}

// Run connects and pumps events until ctx is cancelled. Connection loss is
// not fatal; the stream reconnects with exponential backoff.
func (s *Stream) Run(ctx context.Context) {
	defer close(s.events)

	delay := minReconnectDelay
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := s.dial(ctx)
		if err != nil {
			s.logger.Warn("push connect failed", slog.Any("error", err), slog.Duration("retry_in", delay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			continue
		}

		s.logger.Info("push channel connected")
		delay = minReconnectDelay
		s.pump(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("push channel lost, reconnecting")
	}
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	conn, resp, err := s.dialer.DialContext(ctx, s.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// pump reads events from one connection until it fails or ctx is done. A
// ping loop keeps the connection alive; missed pongs time the read out.
func (s *Stream) pump(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()
	defer close(done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("push read failed", slog.Any("error", err))
			}
			return
		}
		var ev PushEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			s.logger.Debug("push event decode failed", slog.Any("error", err))
			continue
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
