package feature

import (
	"errors"
	"fmt"

	"github.com/mahesararslan/merge-communication-server/pkg/envelope"
	"github.com/tidwall/gjson"
)

const EventNotification envelope.EventType = "notification"

// Notifications has no client commands. Connections are pre-joined to the
// user's rooms so room-wide notifications reach them.
var Notifications = Descriptor{
	Name:           "notifications",
	Path:           "/notifications",
	Channel:        "notifications",
	Rooms:          true,
	BootstrapRooms: true,
	Schema: envelope.Schema{
		EventNotification: {ClientEvent: "notification", New: func() any { return &Notification{} }},
	},
}

// ErrNoTarget rejects a server-originated event with neither user nor room.
var ErrNoTarget = errors.New("either userId or roomId is required")

var ErrNoNotification = errors.New("notification must be an object")

// NotificationRequest is the body of an internal notification injection.
type NotificationRequest struct {
	UserID       string       `json:"userId"`
	RoomID       string       `json:"roomId"`
	Notification Notification `json:"notification"`
}

// Envelope addresses the notification to exactly one of the user or the room.
func (r NotificationRequest) Envelope() (*envelope.Envelope, error) {
	var target envelope.Target
	switch {
	case r.UserID != "" && r.RoomID != "":
		return nil, fmt.Errorf("%w, not both", ErrNoTarget)
	case r.UserID != "":
		target = envelope.User(r.UserID)
	case r.RoomID != "":
		target = envelope.Room(r.RoomID)
	default:
		return nil, ErrNoTarget
	}
	if !gjson.ParseBytes(r.Notification.Raw()).IsObject() {
		return nil, ErrNoNotification
	}
	n := r.Notification
	return &envelope.Envelope{EventType: EventNotification, Payload: &n, Target: target}, nil
}
