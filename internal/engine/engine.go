// Package engine runs one feature family: it owns the feature's connection
// registry and hub, executes command descriptors against the backend, and
// dispatches bus envelopes to local sockets.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mahesararslan/merge-communication-server/internal/backend"
	"github.com/mahesararslan/merge-communication-server/internal/feature"
	"github.com/mahesararslan/merge-communication-server/internal/metrics"
	"github.com/mahesararslan/merge-communication-server/pkg/envelope"
	"github.com/mahesararslan/merge-communication-server/pkg/pipeline"
	"github.com/mahesararslan/merge-communication-server/pkg/state"
	"github.com/mahesararslan/merge-communication-server/pkg/transport"
	"golang.org/x/time/rate"
)

// Backend is the part of the backend API the engine calls.
type Backend interface {
	Do(ctx context.Context, req backend.Request) ([]byte, error)
	MyRooms(ctx context.Context, token string) ([]string, error)
}

// Publisher hands envelopes to the bus.
type Publisher interface {
	Publish(ctx context.Context, channel string, env *envelope.Envelope) error
}

type Options struct {
	Feature  feature.Descriptor
	Registry state.Registry
	Hub      *transport.Hub
	Backend  Backend
	Relay    Publisher
	// bounds each publish; the backend client bounds its own calls
	PublishTimeout time.Duration
	// per-connection inbound event rate; zero disables limiting
	EventRate  rate.Limit
	EventBurst int
	Logger     *slog.Logger
}

type Engine struct {
	desc     feature.Descriptor
	registry state.Registry
	hub      *transport.Hub
	backend  Backend
	relay    Publisher
	logger   *slog.Logger

	publishTimeout time.Duration

	handlers  map[string]pipeline.HandlerFunc
	modifiers []pipeline.ModifierFunc
	limiter   *eventLimiter
}

func New(opts Options) *Engine {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	e := &Engine{
		desc:           opts.Feature,
		registry:       opts.Registry,
		hub:            opts.Hub,
		backend:        opts.Backend,
		relay:          opts.Relay,
		publishTimeout: opts.PublishTimeout,
		handlers:       make(map[string]pipeline.HandlerFunc),
		logger:         opts.Logger.With(slog.String("component", "engine"), slog.String("feature", opts.Feature.Name)),
	}

	e.registerCoreModifiers(opts.EventRate, opts.EventBurst)
	e.registerCoreHandlers()
	return e
}

func (e *Engine) registerCoreModifiers(limit rate.Limit, burst int) {
	e.modifiers = append(e.modifiers, authenticated)
	if limit > 0 {
		e.limiter = newEventLimiter(limit, burst)
		e.modifiers = append(e.modifiers, e.limiter.modifier)
	}
	e.logger.Debug("Registered core modifiers", slog.Int("count", len(e.modifiers)))
}

func (e *Engine) registerCoreHandlers() {
	if e.desc.Rooms {
		e.RegisterHandler("joinRoom", e.joinRoom)
		e.RegisterHandler("leaveRoom", e.leaveRoom)
	}
	for _, cmd := range e.desc.Commands {
		e.RegisterHandler(cmd.Event, e.commandHandler(cmd))
	}
	e.logger.Debug("Registered handlers", slog.Int("count", len(e.handlers)))
}

// RegisterHandler binds an inbound event name. Names are registered once.
func (e *Engine) RegisterHandler(event string, fn pipeline.HandlerFunc) {
	if _, exists := e.handlers[event]; exists {
		panic("handler already registered: " + event)
	}
	e.handlers[event] = fn
}

func (e *Engine) Handler(event string) (pipeline.HandlerFunc, bool) {
	fn, ok := e.handlers[event]
	return fn, ok
}

func (e *Engine) Modifiers() []pipeline.ModifierFunc { return e.modifiers }

func (e *Engine) Feature() feature.Descriptor { return e.desc }

func (e *Engine) Name() string { return e.desc.Name }

func (e *Engine) Registry() state.Registry { return e.registry }

func (e *Engine) Hub() *transport.Hub { return e.hub }

// Connect registers an authenticated connection and joins its user channel.
// For features that bootstrap rooms it also joins every room the backend
// lists for the user; a failed lookup is logged and the connection kept.
func (e *Engine) Connect(ctx context.Context, conn *state.Connection) error {
	if conn.Socket == nil {
		return errors.New("connection has no socket")
	}
	e.hub.Join(conn.Socket, transport.UserChannel(conn.Identity.UserID))
	if err := e.registry.OnConnect(conn); err != nil {
		e.hub.LeaveAll(conn.ID)
		return fmt.Errorf("failed to register connection: %w", err)
	}
	metrics.ConnectionsActive.WithLabelValues(e.desc.Name).Inc()

	if e.desc.BootstrapRooms {
		e.bootstrapRooms(ctx, conn)
	}
	return nil
}

func (e *Engine) bootstrapRooms(ctx context.Context, conn *state.Connection) {
	logger := e.logger.With(slog.String("connID", conn.ID.String()), slog.String("userID", conn.Identity.UserID))
	rooms, err := e.backend.MyRooms(context.WithoutCancel(ctx), conn.Token)
	if err != nil {
		logger.Warn("Failed to bootstrap room memberships", slog.Any("error", err))
		return
	}
	for _, roomID := range rooms {
		e.hub.Join(conn.Socket, transport.RoomChannel(roomID))
		e.registry.JoinRoom(roomID, conn.Identity.UserID)
	}
	logger.Debug("Bootstrapped room memberships",
		slog.Int("rooms", len(rooms)),
		slog.Int("channels", len(e.hub.Channels(conn.ID))),
	)
}

// Disconnect removes every trace of the connection from this instance.
func (e *Engine) Disconnect(connID uuid.UUID) {
	e.hub.LeaveAll(connID)
	conn, ok := e.registry.OnDisconnect(connID)
	if e.limiter != nil {
		e.limiter.forget(connID)
	}
	if !ok {
		return
	}
	metrics.ConnectionsActive.WithLabelValues(e.desc.Name).Dec()
	e.logger.Debug("Connection deregistered",
		slog.String("connID", connID.String()),
		slog.String("userID", conn.Identity.UserID),
		slog.Int("remaining", e.registry.ConnectionCount(conn.Identity.UserID)),
	)
}

// Inject publishes a server-originated envelope as if a command produced it.
func (e *Engine) Inject(ctx context.Context, env *envelope.Envelope) error {
	if _, ok := e.desc.Schema[env.EventType]; !ok {
		return fmt.Errorf("%w: %q for %s", envelope.ErrUnknownEvent, env.EventType, e.desc.Name)
	}
	if err := env.Target.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, e.publishTimeout)
	defer cancel()
	return e.relay.Publish(ctx, e.desc.Channel, env)
}

// CloseAll closes every registered socket.
func (e *Engine) CloseAll(reason error) {
	for _, conn := range e.registry.AllConnections() {
		conn.Socket.Close(reason)
	}
}
