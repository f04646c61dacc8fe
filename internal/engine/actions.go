package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mahesararslan/merge-communication-server/internal/backend"
	"github.com/mahesararslan/merge-communication-server/internal/feature"
	"github.com/mahesararslan/merge-communication-server/pkg/envelope"
	"github.com/mahesararslan/merge-communication-server/pkg/pipeline"
	"github.com/mahesararslan/merge-communication-server/pkg/transport"
	"github.com/tidwall/gjson"
)

const (
	msgUnauthorized  = "Unauthorized"
	msgNoToken       = "Authentication token not found"
	msgJoinFailed    = "Failed to join room"
	msgLeaveFailed   = "Failed to leave room"
	eventJoinRoom    = "joinRoom"
	eventLeaveRoom   = "leaveRoom"
	roomIDPayloadKey = "roomId"
)

// commandHandler builds the handler for one mutating command: validate,
// forward to the backend with the caller's token, publish the resulting
// envelope, then acknowledge. The caller sees its own change through the
// bus like everyone else.
func (e *Engine) commandHandler(cmd feature.Command) pipeline.HandlerFunc {
	return func(c *pipeline.Cargo) pipeline.Result {
		id := c.Identity()
		if id == nil {
			return e.fail(c, cmd.Event, cmd.EntityKey, msgUnauthorized)
		}
		if c.Conn.Token == "" {
			return e.fail(c, cmd.Event, cmd.EntityKey, msgNoToken)
		}

		in := cmd.Input()
		if err := feature.DecodeInput(c.Payload, in); err != nil {
			return e.fail(c, cmd.Event, cmd.EntityKey, err.Error())
		}
		path, err := resolveRoute(cmd.Route, c.Payload)
		if err != nil {
			c.Logger.Error("Failed to resolve backend route", slog.String("route", cmd.Route), slog.Any("error", err))
			return e.fail(c, cmd.Event, cmd.EntityKey, cmd.Fallback)
		}

		// A disconnect must not abort a call already in flight.
		callCtx := context.WithoutCancel(c.Ctx)
		body, err := e.backend.Do(callCtx, backend.Request{
			Method: cmd.Method,
			Path:   path,
			Token:  c.Conn.Token,
			Body:   in.Body(),
		})
		if err != nil {
			c.Logger.Warn("Backend rejected command", slog.String("event", cmd.Event), slog.Any("error", err))
			return e.fail(c, cmd.Event, cmd.EntityKey, backend.MessageOr(err, cmd.Fallback))
		}

		var entity any
		if cmd.Entity != nil {
			entity = cmd.Entity()
			if err := json.Unmarshal(body, entity); err != nil {
				c.Logger.Error("Backend returned an unreadable entity", slog.String("event", cmd.Event), slog.Any("error", err))
				return e.fail(c, cmd.Event, cmd.EntityKey, cmd.Fallback)
			}
			if n, ok := entity.(envelope.Normalizer); ok {
				n.Normalize()
			}
		}

		if cmd.Publish != nil {
			e.publish(c, cmd, feature.Outcome{Input: in, Entity: entity, Response: body, Actor: *id})
		}

		if cmd.ResultKey == "" {
			return pipeline.OK()
		}
		return pipeline.OKWith(cmd.ResultKey, entity)
	}
}

// publish fans the outcome out. Failures are logged only: the backend write
// has been applied and the caller still gets its acknowledgment.
func (e *Engine) publish(c *pipeline.Cargo, cmd feature.Command, o feature.Outcome) {
	env, err := cmd.Publish(o)
	if err != nil {
		c.Logger.Warn("Command produced no envelope", slog.String("event", cmd.Event), slog.Any("error", err))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Ctx), e.publishTimeout)
	defer cancel()
	if err := e.relay.Publish(ctx, e.desc.Channel, env); err != nil {
		c.Logger.Error("Failed to publish envelope", slog.String("event", cmd.Event), slog.Any("error", err))
	}
}

func (e *Engine) joinRoom(c *pipeline.Cargo) pipeline.Result {
	id := c.Identity()
	if id == nil {
		return e.fail(c, eventJoinRoom, roomIDPayloadKey, msgUnauthorized)
	}
	var req feature.RoomRequest
	if err := feature.DecodeInput(c.Payload, &req); err != nil {
		return e.fail(c, eventJoinRoom, roomIDPayloadKey, msgJoinFailed)
	}

	// transport first: registry membership never exceeds what the socket joined
	e.hub.Join(c.Socket, transport.RoomChannel(req.RoomID))
	e.registry.JoinRoom(req.RoomID, id.UserID)
	c.Logger.Info("User joined room",
		slog.String("roomID", req.RoomID),
		slog.Int("roomSockets", e.hub.Size(transport.RoomChannel(req.RoomID))),
	)
	return pipeline.OK()
}

func (e *Engine) leaveRoom(c *pipeline.Cargo) pipeline.Result {
	id := c.Identity()
	if id == nil {
		return e.fail(c, eventLeaveRoom, roomIDPayloadKey, msgUnauthorized)
	}
	var req feature.RoomRequest
	if err := feature.DecodeInput(c.Payload, &req); err != nil {
		return e.fail(c, eventLeaveRoom, roomIDPayloadKey, msgLeaveFailed)
	}

	e.registry.LeaveRoom(req.RoomID, id.UserID)
	e.hub.Leave(c.Socket.ID(), transport.RoomChannel(req.RoomID))
	c.Logger.Info("User left room", slog.String("roomID", req.RoomID))
	return pipeline.OK()
}

// fail emits an error event to the originating socket and returns the
// failure for the acknowledgment.
func (e *Engine) fail(c *pipeline.Cargo, action, entityKey, message string) pipeline.Result {
	var entityID string
	if entityKey != "" && len(c.Payload) > 0 {
		entityID = gjson.GetBytes(c.Payload, entityKey).String()
	}
	NotifyError(c.Socket, c.Logger, action, message, entityKey, entityID)
	return pipeline.Fail(message)
}

// NotifyError sends an error event to one socket.
func NotifyError(sock transport.Socket, logger *slog.Logger, action, message, key, value string) {
	msg, err := transport.EncodeError(action, message, key, value)
	if err != nil {
		logger.Error("Failed to encode error event", slog.Any("error", err))
		return
	}
	sock.Send(msg)
}
