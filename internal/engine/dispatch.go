package engine

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mahesararslan/merge-communication-server/internal/metrics"
	"github.com/mahesararslan/merge-communication-server/pkg/envelope"
	"github.com/mahesararslan/merge-communication-server/pkg/transport"
)

// Dispatch delivers a bus envelope to the matching local connections. Room
// targets go through the hub, whose membership is authoritative for
// broadcasts. User targets resolve through the registry, so every device of
// the user receives it, along with any users the payload names as its
// audience; each socket gets the envelope at most once.
func (e *Engine) Dispatch(_ context.Context, env *envelope.Envelope) {
	event, ok := e.desc.Schema.ClientEvent(env.EventType)
	if !ok {
		e.logger.Warn("No client event for envelope", slog.String("eventType", string(env.EventType)))
		return
	}
	frame, err := transport.EncodeEvent(event, env.Payload)
	if err != nil {
		e.logger.Error("Failed to encode envelope for delivery", slog.String("eventType", string(env.EventType)), slog.Any("error", err))
		return
	}

	var delivered int
	switch env.Target.Kind {
	case envelope.TargetRoom:
		delivered = e.hub.Broadcast(transport.RoomChannel(env.Target.ID), frame)
	case envelope.TargetUser:
		delivered = e.deliverToUsers(frame, e.recipients(env)...)
	default:
		e.logger.Warn("Envelope has no deliverable target", slog.String("kind", string(env.Target.Kind)))
		return
	}

	metrics.Deliveries.WithLabelValues(e.desc.Name, string(env.Target.Kind)).Add(float64(delivered))
	e.logger.Debug("Dispatched envelope",
		slog.String("event", event),
		slog.String("target", string(env.Target.Kind)+":"+env.Target.ID),
		slog.Int("connections", delivered),
	)
}

func (e *Engine) recipients(env *envelope.Envelope) []string {
	users := []string{env.Target.ID}
	if e.desc.EchoOriginator && env.OriginatorUserID != "" {
		users = append(users, env.OriginatorUserID)
	}
	if a, ok := env.Payload.(envelope.Audience); ok {
		users = append(users, a.Audience()...)
	}
	return users
}

func (e *Engine) deliverToUsers(frame []byte, userIDs ...string) int {
	seen := make(map[uuid.UUID]struct{})
	for _, userID := range userIDs {
		if userID == "" {
			continue
		}
		for _, connID := range e.registry.ConnectionsOf(userID) {
			if _, dup := seen[connID]; dup {
				continue
			}
			seen[connID] = struct{}{}
			conn, ok := e.registry.Connection(connID)
			if !ok {
				continue
			}
			conn.Socket.Send(frame)
		}
	}
	return len(seen)
}
