package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/omnidesk/inboxd/internal/config"
	"github.com/omnidesk/inboxd/internal/contacts"
	"github.com/omnidesk/inboxd/internal/dispatch"
	"github.com/omnidesk/inboxd/internal/drafts"
	"github.com/omnidesk/inboxd/internal/event"
	"github.com/omnidesk/inboxd/internal/gateway"
	"github.com/omnidesk/inboxd/internal/handlers"
	"github.com/omnidesk/inboxd/internal/logger"
	"github.com/omnidesk/inboxd/internal/send"
	"github.com/omnidesk/inboxd/internal/server"
	"github.com/omnidesk/inboxd/internal/session"
	"github.com/omnidesk/inboxd/internal/store"
	"github.com/omnidesk/inboxd/internal/typing"
	"github.com/omnidesk/inboxd/internal/version"
	"github.com/omnidesk/inboxd/internal/visitors"
)

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideSession(cfg config.Config, log *slog.Logger) (gateway.Session, error) {
	sess, err := gateway.ParseSession(cfg.Gateway.Token)
	if err != nil {
		return gateway.Session{}, fmt.Errorf("gateway token: %w", err)
	}
	if sess.Expired(time.Now()) {
		return gateway.Session{}, fmt.Errorf("gateway token expired at %s", sess.ExpiresAt)
	}
	sess.WarnIfExpiring(log, 24*time.Hour, time.Now())
	return sess, nil
}

func provideGatewayClient(cfg config.Config, log *slog.Logger) (*gateway.Client, error) {
	return gateway.NewClient(log, cfg.Gateway.BaseURL, cfg.Gateway.Token, cfg.Gateway.Timeout())
}

func provideStream(cfg config.Config, log *slog.Logger) *gateway.Stream {
	return gateway.NewStream(log, cfg.Gateway.WSURL, cfg.Gateway.Token)
}

func provideStore(log *slog.Logger, hub *event.Hub) *store.Store {
	return store.NewStore(log, hub)
}

func provideDrafts(lc fx.Lifecycle, cfg config.Config, log *slog.Logger) (*drafts.Store, error) {
	draftStore, err := drafts.Open(log, cfg.Drafts.Path)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return draftStore.Close()
		},
	})
	return draftStore, nil
}

func provideRefresher(log *slog.Logger, cache *store.Store, client *gateway.Client) *dispatch.Refresher {
	return dispatch.NewRefresher(log, cache, client)
}

func provideTyping(lc fx.Lifecycle, cfg config.Config, log *slog.Logger, cache *store.Store, client *gateway.Client, hub *event.Hub) *typing.Service {
	svc := typing.NewService(log, cache, client, hub, typing.Config{
		SignalWindow: time.Duration(cfg.Typing.SignalWindowSeconds) * time.Second,
		StopDelay:    time.Duration(cfg.Typing.StopDelaySeconds) * time.Second,
		PollInterval: time.Duration(cfg.Typing.PollIntervalSeconds) * time.Second,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			svc.Close()
			return nil
		},
	})
	return svc
}

func provideVisitors(cfg config.Config, log *slog.Logger, client *gateway.Client, hub *event.Hub) *visitors.Service {
	return visitors.NewService(log, client, hub, visitors.Config{
		PollInterval: time.Duration(cfg.Presence.PollIntervalSeconds) * time.Second,
		ActiveWindow: time.Duration(cfg.Presence.ActiveWindowSeconds) * time.Second,
	})
}

func provideSessionService(log *slog.Logger, cache *store.Store, client *gateway.Client, refresher *dispatch.Refresher, typingSvc *typing.Service, hub *event.Hub, sess gateway.Session) *session.Service {
	return session.NewService(log, cache, client, refresher, typingSvc, hub, sess.AgentID)
}

func providePipeline(log *slog.Logger, cache *store.Store, client *gateway.Client, refresher *dispatch.Refresher, draftStore *drafts.Store, hub *event.Hub) *send.Pipeline {
	return send.NewPipeline(log, cache, client, refresher, draftStore, hub)
}

func provideContacts(log *slog.Logger, cache *store.Store, client *gateway.Client, refresher *dispatch.Refresher) *contacts.Service {
	return contacts.NewService(log, cache, client, refresher)
}

func provideDispatcher(log *slog.Logger, refresher *dispatch.Refresher, sessionSvc *session.Service) *dispatch.Dispatcher {
	return dispatch.NewDispatcher(log, refresher, sessionSvc)
}

func provideInboxHandler(log *slog.Logger, cache *store.Store, sessionSvc *session.Service, pipeline *send.Pipeline, contactSvc *contacts.Service, typingSvc *typing.Service, visitorSvc *visitors.Service, draftStore *drafts.Store) *handlers.InboxHandler {
	return handlers.NewInboxHandler(log, cache, sessionSvc, pipeline, contactSvc, typingSvc, visitorSvc, draftStore)
}

func provideEventsHandler(log *slog.Logger, hub *event.Hub) *handlers.EventsHandler {
	return handlers.NewEventsHandler(log, hub)
}

func main() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideSession,

			event.NewHub,
			provideGatewayClient,
			provideStream,
			provideStore,
			provideDrafts,
			provideRefresher,
			provideTyping,
			provideVisitors,
			provideSessionService,
			providePipeline,
			provideContacts,
			provideDispatcher,

			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideInboxHandler),
			provideServerHandler(provideEventsHandler),

			provideServer,
		),
		fx.Invoke(
			startPushStream,
			startVisitorPoller,
			startInitialSync,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

// startPushStream runs the gateway websocket and the dispatcher consuming
// its events. Both stop with the lifecycle context.
func startPushStream(lc fx.Lifecycle, stream *gateway.Stream, dispatcher *dispatch.Dispatcher, pipeline *send.Pipeline) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go stream.Run(runCtx)
			go func() {
				defer close(done)
				dispatcher.Run(runCtx, stream.Events())
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
			pipeline.Wait()
			return nil
		},
	})
}

func startVisitorPoller(lc fx.Lifecycle, visitorSvc *visitors.Service) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer close(done)
				visitorSvc.Run(runCtx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			<-done
			return nil
		},
	})
}

// startInitialSync fills the cache before the server accepts UI requests.
func startInitialSync(lc fx.Lifecycle, refresher *dispatch.Refresher, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				refresher.RefreshConversations(context.Background())
				logger.Info("initial conversation sync done")
			}()
			return nil
		},
	})
}

func startServer(
	lc fx.Lifecycle,
	logger *slog.Logger,
	srv *server.Server,
	shutdowner fx.Shutdowner,
) {
	fmt.Printf("Starting inboxd %s\n", version.GetInfo())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil { // block until server is stopped
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown() // shutdown the application if the server fails to start
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			// graceful shutdown
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
