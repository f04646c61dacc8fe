// Package envelope defines the unit exchanged over the cross-instance bus.
//
// An Envelope carries an event type, a typed payload and a delivery target.
// On the wire the payload is plain JSON; a Schema maps each event type of a
// bus channel to the concrete Go type it decodes into, so payloads are decoded
// exactly once, where they leave the bus.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

type TargetKind string

const (
	TargetRoom TargetKind = "room"
	TargetUser TargetKind = "user"
)

type EventType string

// Target addresses either a room or a single user.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

func (t Target) Validate() error {
	if t.Kind != TargetRoom && t.Kind != TargetUser {
		return fmt.Errorf("%w: unknown target kind %q", ErrInvalidTarget, t.Kind)
	}
	if t.ID == "" {
		return fmt.Errorf("%w: empty target id", ErrInvalidTarget)
	}
	return nil
}

func Room(id string) Target { return Target{Kind: TargetRoom, ID: id} }
func User(id string) Target { return Target{Kind: TargetUser, ID: id} }

var (
	ErrUnknownEvent  = errors.New("unknown event type")
	ErrInvalidTarget = errors.New("invalid target")
)

// Envelope is one logically-produced event. Payload holds the concrete type
// registered for EventType in the channel's Schema.
type Envelope struct {
	EventType        EventType
	Payload          any
	Target           Target
	OriginatorUserID string
}

type wireEnvelope struct {
	EventType        EventType       `json:"eventType"`
	Payload          json.RawMessage `json:"payload"`
	Target           Target          `json:"target"`
	OriginatorUserID string          `json:"originatorUserId,omitempty"`
}

func (e *Envelope) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", e.EventType, err)
	}
	return json.Marshal(wireEnvelope{
		EventType:        e.EventType,
		Payload:          raw,
		Target:           e.Target,
		OriginatorUserID: e.OriginatorUserID,
	})
}

// Normalizer is implemented by payloads that fix up backend representations
// after decoding.
type Normalizer interface {
	Normalize()
}

// Audience is implemented by payloads that name further users who must
// receive a user-targeted envelope, e.g. both participants of a direct message.
type Audience interface {
	Audience() []string
}

// Variant describes one event type of a channel.
type Variant struct {
	// ClientEvent is the event name emitted to sockets.
	ClientEvent string
	// New allocates the payload value to decode into; it must return a pointer.
	New func() any
}

// Schema is the closed set of event types carried by one bus channel.
type Schema map[EventType]Variant

// Decode parses a wire envelope and its payload into the registered type.
func (s Schema) Decode(data []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	return s.build(w)
}

func (s Schema) build(w wireEnvelope) (*Envelope, error) {
	variant, ok := s[w.EventType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, w.EventType)
	}
	if err := w.Target.Validate(); err != nil {
		return nil, err
	}

	payload := variant.New()
	if len(w.Payload) > 0 && string(w.Payload) != "null" {
		if err := json.Unmarshal(w.Payload, payload); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", w.EventType, err)
		}
	}
	if n, ok := payload.(Normalizer); ok {
		n.Normalize()
	}
	return &Envelope{
		EventType:        w.EventType,
		Payload:          payload,
		Target:           w.Target,
		OriginatorUserID: w.OriginatorUserID,
	}, nil
}

// ClientEvent returns the socket event name for an event type.
func (s Schema) ClientEvent(t EventType) (string, bool) {
	v, ok := s[t]
	return v.ClientEvent, ok
}
