package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/mahesararslan/merge-communication-server/internal/auth"
	"github.com/mahesararslan/merge-communication-server/internal/engine"
	"github.com/mahesararslan/merge-communication-server/internal/feature"
	"github.com/mahesararslan/merge-communication-server/internal/relay"
	"github.com/mahesararslan/merge-communication-server/internal/router"
	"github.com/mahesararslan/merge-communication-server/internal/server/middleware"
	"github.com/mahesararslan/merge-communication-server/pkg/config"
	"github.com/mahesararslan/merge-communication-server/pkg/state"
	"github.com/mahesararslan/merge-communication-server/pkg/state/statemanager"
	"github.com/mahesararslan/merge-communication-server/pkg/transport"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	errShutdown = errors.New("graceful shutdown")
	errCycled   = errors.New("connection cycled by new connection")
)

// Deps are the collaborators the App is built from.
type Deps struct {
	Config    *config.Config
	Features  []feature.Descriptor
	Relay     *relay.Relay
	Backend   engine.Backend
	Validator auth.Validator
}

// gateway is one feature family: its engine and the router feeding it.
type gateway struct {
	engine *engine.Engine
	router *router.EventRouter
}

type App struct {
	logger   *slog.Logger
	config   *config.Config
	relay    *relay.Relay
	gateways map[string]*gateway
	names    []string // gateway names in start order
	http     *http.Server

	// wg counts upgrade handlers; closing stops new ones joining it.
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, deps Deps) (*App, error) {
	if len(deps.Features) == 0 {
		return nil, errors.New("no features to serve")
	}
	cfg := deps.Config
	app := &App{
		logger:   logger.With(slog.String("component", "server")),
		config:   cfg,
		relay:    deps.Relay,
		gateways: make(map[string]*gateway, len(deps.Features)),
		ctx:      rootCtx,
	}

	extractor := auth.NewExtractor(cfg.Auth.CookieName)
	mux := http.NewServeMux()
	for _, desc := range deps.Features {
		eng := engine.New(engine.Options{
			Feature:        desc,
			Registry:       statemanager.NewInMemoryRegistry(logger.With(slog.String("feature", desc.Name))),
			Hub:            transport.NewHub(logger.With(slog.String("feature", desc.Name))),
			Backend:        deps.Backend,
			Relay:          deps.Relay,
			PublishTimeout: cfg.Transport.PublishTimeout,
			EventRate:      rate.Limit(cfg.Transport.EventRate),
			EventBurst:     cfg.Transport.EventBurst,
			Logger:         logger,
		})
		gw := &gateway{engine: eng, router: router.NewEventRouter(logger, eng)}
		app.gateways[desc.Name] = gw
		app.names = append(app.names, desc.Name)

		mux.Handle("GET "+desc.Path,
			middleware.Chain(app.upgradeHandler(gw),
				middleware.WithRequestMetadata(),
				middleware.NewUpgradeLogger(app.logger),
				middleware.NewAuthMiddleware(logger, extractor, deps.Validator, cfg.Auth.QueryParam),
				middleware.NewConnectionLimiter(
					logger,
					eng.Registry().ConnectionCount,
					app.connCycler(gw),
					cfg.Server.ConnectionLimit,
				),
			),
		)
		app.logger.Info("Feature gateway registered",
			slog.String("feature", desc.Name),
			slog.String("path", desc.Path),
			slog.String("channel", desc.Channel),
		)
	}
	app.registerInternalRoutes(mux)

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}
	return app, nil
}

// Handler exposes the mux, e.g. for httptest servers.
func (a *App) Handler() http.Handler { return a.http.Handler }

// Subscribe starts consuming every feature's bus channel. It returns once
// the bus confirmed all subscriptions, so envelopes published afterwards are
// not missed.
func (a *App) Subscribe(ctx context.Context) error {
	for _, name := range a.names {
		eng := a.gateways[name].engine
		desc := eng.Feature()
		if err := a.relay.Subscribe(ctx, desc.Channel, desc.Schema, eng.Dispatch); err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", name, err)
		}
	}
	return nil
}

func (a *App) Run() error {
	if err := a.Subscribe(a.ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(a.ctx)
	g.Go(func() error {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return a.Shutdown()
	})
	return g.Wait()
}

func (a *App) connCycler(gw *gateway) middleware.UserConnectionCycler {
	return func(userID string) {
		oldest, found := gw.engine.Registry().FindOldestConnection(userID)
		if found {
			a.logger.Info("Cycling connection: closing oldest", slog.String("userID", userID), slog.String("connID", oldest.ID.String()))
			oldest.Socket.Close(errCycled)
		}
	}
}

func (a *App) upgradeHandler(gw *gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqMeta, ok := middleware.MetadataFrom(r.Context())
		if !ok || reqMeta.Identity.UserID == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		connLogger := a.logger.With(
			slog.String("feature", gw.engine.Name()),
			slog.String("remoteAddr", reqMeta.IP),
			slog.String("userID", reqMeta.Identity.UserID),
		)

		if !a.track() {
			http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
			return
		}
		defer a.wg.Done()

		wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: a.config.Server.AllowedOrigins,
		})
		if err != nil {
			connLogger.Error("Failed to accept websocket connection", slog.Any("error", err))
			return
		}

		conn := transport.NewConnection(
			r.Context(),
			wsConn,
			transport.ConnectionConfig{
				ReadTimeout:  a.config.Transport.ReadTimeout,
				WriteTimeout: a.config.Transport.WriteTimeout,
				PingInterval: a.config.Transport.PingInterval,
				SendBuffer:   a.config.Transport.SendBuffer,
				MaxFrameSize: a.config.Transport.MaxFrameBytes,
			},
			connLogger,
		)
		conn.SetOnMessageHandler(gw.router.HandleMessage)
		conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
			connLogger.Info("Deregistering connection due to closure", slog.String("connID", id.String()))
			gw.engine.Disconnect(id)
		})

		stateConn := &state.Connection{
			ID:        conn.ID(),
			Identity:  reqMeta.Identity,
			Token:     reqMeta.Token,
			IPAddress: reqMeta.IP,
			Socket:    conn,
			CreatedAt: time.Now(),
		}
		if err := gw.engine.Connect(r.Context(), stateConn); err != nil {
			connLogger.Error("Failed to register connection state", slog.Any("error", err))
			conn.Close(err)
			return
		}

		// CloseAll may have run before Connect registered us.
		if a.shuttingDown() {
			conn.Close(errShutdown)
			return
		}

		connLogger.Info("User connection fully established", slog.String("connID", conn.ID().String()))
		conn.Run()
		<-conn.Done()
	}
}

// track registers an upgrade handler with the shutdown wait group. It refuses
// once shutdown has begun.
func (a *App) track() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closing {
		return false
	}
	a.wg.Add(1)
	return true
}

func (a *App) shuttingDown() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closing
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	timeout := a.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	a.mu.Lock()
	a.closing = true
	a.mu.Unlock()

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, name := range a.names {
		a.gateways[name].engine.CloseAll(errShutdown)
	}

	// wait for all connection goroutines to finish their cleanup.
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.logger.Warn("Timed out waiting for connections to close")
	}

	a.relay.Close()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
