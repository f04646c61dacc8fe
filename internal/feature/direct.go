package feature

import (
	"errors"
	"net/http"

	"github.com/mahesararslan/merge-communication-server/pkg/envelope"
)

const (
	EventNewMessage     envelope.EventType = "new-message"
	EventMessageUpdated envelope.EventType = "message-updated"
	EventMessageDeleted envelope.EventType = "message-deleted"
)

// DirectChat is 1:1 messaging. Envelopes target the counterpart user and
// reach both participants on every device.
var DirectChat = Descriptor{
	Name:           "direct-chat",
	Path:           "/direct-chat",
	Channel:        "direct-messages",
	EchoOriginator: true,
	Schema: envelope.Schema{
		EventNewMessage:     {ClientEvent: "newMessage", New: func() any { return &DirectMessage{} }},
		EventMessageUpdated: {ClientEvent: "messageUpdated", New: func() any { return &DirectMessage{} }},
		EventMessageDeleted: {ClientEvent: "messageDeleted", New: func() any { return &DirectMessageDeleted{} }},
	},
	Commands: []Command{
		{
			Event:     "sendMessage",
			Method:    http.MethodPost,
			Route:     "/direct-messages",
			Input:     func() Input { return &SendDirectMessage{} },
			Entity:    func() any { return &DirectMessage{} },
			ResultKey: "message",
			Fallback:  "Failed to send message",
			Publish: func(o Outcome) (*envelope.Envelope, error) {
				in := o.Input.(*SendDirectMessage)
				return &envelope.Envelope{
					EventType:        EventNewMessage,
					Payload:          o.Entity,
					Target:           envelope.User(in.RecipientID),
					OriginatorUserID: o.Actor.UserID,
				}, nil
			},
		},
		{
			Event:     "updateMessage",
			Method:    http.MethodPatch,
			Route:     "/direct-messages/{.payload.messageId}",
			Input:     func() Input { return &UpdateDirectMessage{} },
			Entity:    func() any { return &DirectMessage{} },
			ResultKey: "message",
			EntityKey: "messageId",
			Fallback:  "Failed to update message",
			Publish: func(o Outcome) (*envelope.Envelope, error) {
				msg := o.Entity.(*DirectMessage)
				recipientID := msg.Get("recipient.id")
				if recipientID == "" {
					return nil, errors.New("updated message has no recipient")
				}
				return &envelope.Envelope{
					EventType:        EventMessageUpdated,
					Payload:          msg,
					Target:           envelope.User(recipientID),
					OriginatorUserID: o.Actor.UserID,
				}, nil
			},
		},
		{
			Event:     "deleteForMe",
			Method:    http.MethodDelete,
			Route:     "/direct-messages/{.payload.messageId}/for-me",
			Input:     func() Input { return &DeleteDirectMessage{} },
			EntityKey: "messageId",
			Fallback:  "Failed to delete message",
		},
		{
			Event:     "deleteForEveryone",
			Method:    http.MethodDelete,
			Route:     "/direct-messages/{.payload.messageId}/for-everyone",
			Input:     func() Input { return &DeleteDirectMessage{} },
			EntityKey: "messageId",
			Fallback:  "Failed to delete message for everyone",
			Publish: func(o Outcome) (*envelope.Envelope, error) {
				in := o.Input.(*DeleteDirectMessage)
				// The participants come from the message, not the actor.
				senderID := responseID(o.Response, "sender.id")
				if senderID == "" {
					senderID = o.Actor.UserID
				}
				recipientID := responseID(o.Response, "recipient.id")
				target := recipientID
				if target == "" {
					target = senderID
				}
				return &envelope.Envelope{
					EventType: EventMessageDeleted,
					Payload: &DirectMessageDeleted{
						MessageID:   in.MessageID,
						DeletedFor:  "everyone",
						SenderID:    senderID,
						RecipientID: recipientID,
					},
					Target:           envelope.User(target),
					OriginatorUserID: o.Actor.UserID,
				}, nil
			},
		},
	},
}

type SendDirectMessage struct {
	RecipientID   string `json:"recipientId"`
	Content       string `json:"content"`
	AttachmentURL string `json:"attachmentURL"`
	ReplyToID     string `json:"replyToId"`
}

func (m *SendDirectMessage) Validate() error {
	if err := firstError(
		requireUUIDv4("recipientId", m.RecipientID),
		maxLength("content", &m.Content, MaxContentLength),
		optionalUUIDv4("replyToId", m.ReplyToID),
	); err != nil {
		return err
	}
	if m.Content == "" && m.AttachmentURL == "" {
		return invalid("content", "Either content or attachmentURL must be provided")
	}
	return nil
}

func (m *SendDirectMessage) Body() any {
	return map[string]*string{
		"recipientId":   &m.RecipientID,
		"content":       nullable(m.Content),
		"attachmentURL": nullable(m.AttachmentURL),
		"replyToId":     nullable(m.ReplyToID),
	}
}

type UpdateDirectMessage struct {
	MessageID     string  `json:"messageId"`
	Content       *string `json:"content,omitempty"`
	AttachmentURL *string `json:"attachmentURL,omitempty"`
}

func (m *UpdateDirectMessage) Validate() error {
	return firstError(
		requireUUIDv4("messageId", m.MessageID),
		maxLength("content", m.Content, MaxContentLength),
	)
}

func (m *UpdateDirectMessage) Body() any {
	return struct {
		Content       *string `json:"content,omitempty"`
		AttachmentURL *string `json:"attachmentURL,omitempty"`
	}{m.Content, m.AttachmentURL}
}

type DeleteDirectMessage struct {
	MessageID string `json:"messageId"`
}

func (m *DeleteDirectMessage) Validate() error { return requireUUIDv4("messageId", m.MessageID) }

func (m *DeleteDirectMessage) Body() any { return nil }
