package feature

import (
	"net/http"

	"github.com/mahesararslan/merge-communication-server/pkg/envelope"
)

// GeneralChat is the per-room chat. Envelopes target the room.
var GeneralChat = Descriptor{
	Name:    "general-chat",
	Path:    "/general-chat",
	Channel: "general-chat",
	Rooms:   true,
	Schema: envelope.Schema{
		EventNewMessage:     {ClientEvent: "newMessage", New: func() any { return &RoomMessage{} }},
		EventMessageUpdated: {ClientEvent: "messageUpdated", New: func() any { return &RoomMessage{} }},
		EventMessageDeleted: {ClientEvent: "messageDeleted", New: func() any { return &RoomMessageDeleted{} }},
	},
	Commands: []Command{
		{
			Event:     "sendMessage",
			Method:    http.MethodPost,
			Route:     "/general-chat",
			Input:     func() Input { return &SendRoomMessage{} },
			Entity:    func() any { return &RoomMessage{} },
			ResultKey: "message",
			Fallback:  "Failed to send message",
			Publish:   publishRoomMessage(EventNewMessage),
		},
		{
			Event:     "updateMessage",
			Method:    http.MethodPatch,
			Route:     "/general-chat/{.payload.messageId}?roomId={.payload.roomId}",
			Input:     func() Input { return &UpdateRoomMessage{} },
			Entity:    func() any { return &RoomMessage{} },
			ResultKey: "message",
			EntityKey: "messageId",
			Fallback:  "Failed to update message",
			Publish:   publishRoomMessage(EventMessageUpdated),
		},
		{
			Event:     "deleteForMe",
			Method:    http.MethodDelete,
			Route:     "/general-chat/{.payload.messageId}/for-me?roomId={.payload.roomId}",
			Input:     func() Input { return &DeleteRoomMessage{} },
			EntityKey: "messageId",
			Fallback:  "Failed to delete message",
		},
		{
			Event:     "deleteForEveryone",
			Method:    http.MethodDelete,
			Route:     "/general-chat/{.payload.messageId}/for-everyone?roomId={.payload.roomId}",
			Input:     func() Input { return &DeleteRoomMessage{} },
			EntityKey: "messageId",
			Fallback:  "Failed to delete message for everyone",
			Publish: func(o Outcome) (*envelope.Envelope, error) {
				in := o.Input.(*DeleteRoomMessage)
				authorID := responseID(o.Response, "author.id")
				if authorID == "" {
					authorID = o.Actor.UserID
				}
				return &envelope.Envelope{
					EventType: EventMessageDeleted,
					Payload: &RoomMessageDeleted{
						MessageID:  in.MessageID,
						DeletedFor: "everyone",
						RoomID:     in.RoomID,
						AuthorID:   authorID,
					},
					Target:           envelope.Room(in.RoomID),
					OriginatorUserID: o.Actor.UserID,
				}, nil
			},
		},
	},
}

// roomScoped is implemented by inputs addressed to one room.
type roomScoped interface {
	Room() string
}

func publishRoomMessage(t envelope.EventType) PublishFunc {
	return func(o Outcome) (*envelope.Envelope, error) {
		return &envelope.Envelope{
			EventType:        t,
			Payload:          o.Entity,
			Target:           envelope.Room(o.Input.(roomScoped).Room()),
			OriginatorUserID: o.Actor.UserID,
		}, nil
	}
}

type SendRoomMessage struct {
	RoomID      string       `json:"roomId"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
	ReplyToID   string       `json:"replyToId"`
}

func (m *SendRoomMessage) Room() string { return m.RoomID }

func (m *SendRoomMessage) Validate() error {
	if err := firstError(
		requireUUIDv4("roomId", m.RoomID),
		maxLength("content", &m.Content, MaxContentLength),
		optionalUUIDv4("replyToId", m.ReplyToID),
	); err != nil {
		return err
	}
	if m.Content == "" && len(m.Attachments) == 0 {
		return invalid("content", "Either content or attachments must be provided")
	}
	return nil
}

func (m *SendRoomMessage) Body() any {
	return struct {
		RoomID      string       `json:"roomId"`
		Content     *string      `json:"content"`
		Attachments []Attachment `json:"attachments"`
		ReplyToID   *string      `json:"replyToId"`
	}{m.RoomID, nullable(m.Content), m.Attachments, nullable(m.ReplyToID)}
}

type UpdateRoomMessage struct {
	MessageID   string       `json:"messageId"`
	RoomID      string       `json:"roomId"`
	Content     *string      `json:"content,omitempty"`
	Attachments []Attachment `json:"attachments"`
}

func (m *UpdateRoomMessage) Room() string { return m.RoomID }

func (m *UpdateRoomMessage) Validate() error {
	return firstError(
		requireUUIDv4("messageId", m.MessageID),
		requireUUIDv4("roomId", m.RoomID),
		maxLength("content", m.Content, MaxContentLength),
	)
}

func (m *UpdateRoomMessage) Body() any {
	return struct {
		Content     *string      `json:"content,omitempty"`
		Attachments []Attachment `json:"attachments"`
	}{m.Content, m.Attachments}
}

type DeleteRoomMessage struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
}

func (m *DeleteRoomMessage) Validate() error {
	return firstError(
		requireUUIDv4("messageId", m.MessageID),
		requireUUIDv4("roomId", m.RoomID),
	)
}

func (m *DeleteRoomMessage) Body() any { return nil }
