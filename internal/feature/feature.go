// Package feature describes the gateway's feature families as data: the bus
// channel, the envelope schema, and every client command with its backend
// route, payload shape and fan-out rule. The engine executes descriptors; it
// knows nothing about messages or announcements.
package feature

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mahesararslan/merge-communication-server/pkg/envelope"
	"github.com/mahesararslan/merge-communication-server/pkg/state"
	"github.com/tidwall/gjson"
)

var ErrUnknownFeature = errors.New("unknown feature")

// Input is a decoded command payload.
type Input interface {
	Validate() error
	// Body is the backend request body; nil sends none.
	Body() any
}

// Outcome is what a command produced once the backend accepted it.
type Outcome struct {
	Input Input
	// Entity is the decoded backend response, nil if the command declares none.
	Entity any
	// Response is the raw backend response body.
	Response []byte
	Actor    state.Identity
}

// PublishFunc turns an outcome into the envelope to fan out.
type PublishFunc func(o Outcome) (*envelope.Envelope, error)

// Command is one mutating client event.
type Command struct {
	Event  string
	Method string
	// Route is the backend path; {.payload.<field>} placeholders are replaced
	// with the path-escaped payload value.
	Route string
	Input func() Input
	// Entity allocates the type the backend response decodes into; nil
	// ignores the response body.
	Entity func() any
	// ResultKey names the entity in a successful acknowledgment. Empty
	// acknowledges with {success:true} alone.
	ResultKey string
	// EntityKey is the payload field echoed in error events.
	EntityKey string
	// Fallback is the error text when the backend gives no message.
	Fallback string
	// Publish is nil for commands that fan nothing out.
	Publish PublishFunc
}

// Descriptor is one feature family served on its own websocket path.
type Descriptor struct {
	Name string
	// Path is the websocket endpoint, e.g. "/general-chat".
	Path    string
	Channel string
	Schema  envelope.Schema
	// Rooms enables joinRoom/leaveRoom.
	Rooms bool
	// BootstrapRooms joins every room the user belongs to at connect time.
	BootstrapRooms bool
	// EchoOriginator delivers user-targeted envelopes to the originator's
	// connections as well as the target's.
	EchoOriginator bool
	Commands       []Command
}

// Catalog returns the built-in descriptors keyed by name.
func Catalog() map[string]Descriptor {
	return map[string]Descriptor{
		DirectChat.Name:    DirectChat,
		GeneralChat.Name:   GeneralChat,
		Announcements.Name: Announcements,
		Notifications.Name: Notifications,
	}
}

// Names lists the catalog in a stable order.
func Names() []string {
	cat := Catalog()
	names := make([]string, 0, len(cat))
	for name := range cat {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Lookup(name string) (Descriptor, error) {
	d, ok := Catalog()[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownFeature, name)
	}
	return d, nil
}

// RoomRequest is the payload of joinRoom and leaveRoom.
type RoomRequest struct {
	RoomID string `json:"roomId"`
}

func (r *RoomRequest) Validate() error { return requireNonEmpty("roomId", r.RoomID) }

func (r *RoomRequest) Body() any { return nil }

// responseID reads a nested id from a backend response, e.g. "recipient.id".
func responseID(raw []byte, path string) string {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return ""
	}
	return gjson.GetBytes(raw, path).String()
}
