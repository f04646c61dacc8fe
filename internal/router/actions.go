package router

import (
	"log/slog"

	"github.com/mahesararslan/merge-communication-server/pkg/pipeline"
	"github.com/mahesararslan/merge-communication-server/pkg/transport"
)

// acknowledge answers a frame that asked for a response. Frames without an
// id get none.
func (r *EventRouter) acknowledge(sock transport.Socket, logger *slog.Logger, id string, res pipeline.Result) {
	if id == "" {
		return
	}
	msg, err := transport.EncodeAck(id, res)
	if err != nil {
		logger.Error("Failed to marshal acknowledgment", slog.Any("error", err))
		return
	}
	sock.Send(msg)
}

func (r *EventRouter) notifyOrigin(sock transport.Socket, logger *slog.Logger, action, message string) {
	msg, err := transport.EncodeError(action, message, "", "")
	if err != nil {
		logger.Error("Failed to marshal error event", slog.Any("error", err))
		return
	}
	sock.Send(msg)
}
