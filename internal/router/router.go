// Package router decodes client frames and runs them through the feature
// engine's modifiers and handlers.
package router

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mahesararslan/merge-communication-server/internal/metrics"
	"github.com/mahesararslan/merge-communication-server/pkg/pipeline"
	"github.com/mahesararslan/merge-communication-server/pkg/state"
	"github.com/mahesararslan/merge-communication-server/pkg/transport"
)

const (
	msgMalformedFrame = "Malformed frame"
	msgUnknownEvent   = "Unknown event"
)

// Dispatcher is the engine side of the router.
type Dispatcher interface {
	Name() string
	Handler(event string) (pipeline.HandlerFunc, bool)
	Modifiers() []pipeline.ModifierFunc
	Registry() state.Registry
}

type EventRouter struct {
	logger *slog.Logger
	engine Dispatcher
}

func NewEventRouter(logger *slog.Logger, engine Dispatcher) *EventRouter {
	return &EventRouter{
		logger: logger.With(slog.String("component", "event_router"), slog.String("feature", engine.Name())),
		engine: engine,
	}
}

// HandleMessage processes one inbound frame. It is called from the
// connection's read loop, so frames of one socket are handled in order.
func (r *EventRouter) HandleMessage(ctx context.Context, sock transport.Socket, msg []byte) {
	var frame transport.Frame
	if err := json.Unmarshal(msg, &frame); err != nil || frame.Event == "" {
		r.logger.Warn("Failed to unmarshal client frame", slog.String("connID", sock.ID().String()), slog.Any("error", err))
		r.notifyOrigin(sock, r.logger, "", msgMalformedFrame)
		metrics.CommandsTotal.WithLabelValues(r.engine.Name(), "unknown", "malformed").Inc()
		return
	}
	logger := r.logger.With(slog.String("connID", sock.ID().String()), slog.String("event", frame.Event))

	fn, ok := r.engine.Handler(frame.Event)
	if !ok {
		logger.Warn("Received unknown event")
		r.notifyOrigin(sock, logger, frame.Event, msgUnknownEvent)
		r.acknowledge(sock, logger, frame.ID, pipeline.Fail(msgUnknownEvent))
		metrics.CommandsTotal.WithLabelValues(r.engine.Name(), "unknown", "unknown").Inc()
		return
	}

	var conn *state.Connection
	if c, ok := r.engine.Registry().Connection(sock.ID()); ok {
		conn = c
		logger = logger.With(slog.String("userID", conn.Identity.UserID))
	}
	cargo := &pipeline.Cargo{
		Logger:  logger,
		Ctx:     ctx,
		Event:   frame.Event,
		Socket:  sock,
		Conn:    conn,
		Payload: frame.Payload,
	}

	for _, modifier := range r.engine.Modifiers() {
		if err := modifier(cargo); err != nil {
			logger.Warn("Event rejected", slog.Any("error", err))
			r.notifyOrigin(sock, logger, frame.Event, err.Error())
			r.acknowledge(sock, logger, frame.ID, pipeline.Fail(err.Error()))
			metrics.CommandsTotal.WithLabelValues(r.engine.Name(), frame.Event, "rejected").Inc()
			return
		}
	}

	logger.Debug("Executing event handler")
	res := fn(cargo)
	outcome := "ok"
	if !res.Success {
		outcome = "failed"
	}
	metrics.CommandsTotal.WithLabelValues(r.engine.Name(), frame.Event, outcome).Inc()
	r.acknowledge(sock, logger, frame.ID, res)
}
