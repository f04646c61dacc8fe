package envelope_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/mahesararslan/merge-communication-server/pkg/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type note struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

func (n *note) Normalize() {
	if n.Body == "" {
		n.Body = "(empty)"
	}
}

var schema = envelope.Schema{
	"note-created": {ClientEvent: "newNote", New: func() any { return &note{} }},
}

func TestDecodeKnownVariant(t *testing.T) {
	raw := []byte(`{"eventType":"note-created","payload":{"id":"n1"},"target":{"kind":"room","id":"r1"},"originatorUserId":"u1"}`)

	env, err := schema.Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, envelope.EventType("note-created"), env.EventType)
	assert.Equal(t, envelope.Room("r1"), env.Target)
	assert.Equal(t, "u1", env.OriginatorUserID)
	n, ok := env.Payload.(*note)
	require.True(t, ok, "payload decoded into %T", env.Payload)
	assert.Equal(t, "n1", n.ID)
	assert.Equal(t, "(empty)", n.Body, "normalizer runs after decode")
}

func TestDecodeRejectsUnknownEventAndBadTarget(t *testing.T) {
	_, err := schema.Decode([]byte(`{"eventType":"other","payload":{},"target":{"kind":"room","id":"r1"}}`))
	assert.True(t, errors.Is(err, envelope.ErrUnknownEvent))

	_, err = schema.Decode([]byte(`{"eventType":"note-created","payload":{},"target":{"kind":"planet","id":"x"}}`))
	assert.True(t, errors.Is(err, envelope.ErrInvalidTarget))

	_, err = schema.Decode([]byte(`{"eventType":"note-created","payload":{},"target":{"kind":"user"}}`))
	assert.True(t, errors.Is(err, envelope.ErrInvalidTarget))

	_, err = schema.Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestMarshalProducesWireShape(t *testing.T) {
	env := &envelope.Envelope{
		EventType:        "note-created",
		Payload:          &note{ID: "n1", Body: "hi"},
		Target:           envelope.User("u2"),
		OriginatorUserID: "u1",
	}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"eventType":"note-created","payload":{"id":"n1","body":"hi"},"target":{"kind":"user","id":"u2"},"originatorUserId":"u1"}`, string(data))

	back, err := schema.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, env.Payload, back.Payload)
}

func TestClientEvent(t *testing.T) {
	name, ok := schema.ClientEvent("note-created")
	assert.True(t, ok)
	assert.Equal(t, "newNote", name)

	_, ok = schema.ClientEvent("missing")
	assert.False(t, ok)
}
