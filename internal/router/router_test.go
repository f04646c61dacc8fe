package router

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mahesararslan/merge-communication-server/pkg/logging"
	"github.com/mahesararslan/merge-communication-server/pkg/pipeline"
	"github.com/mahesararslan/merge-communication-server/pkg/state"
	"github.com/mahesararslan/merge-communication-server/pkg/state/statemanager"
	"github.com/mahesararslan/merge-communication-server/pkg/transport"
	"github.com/mahesararslan/merge-communication-server/pkg/transport/transporttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	registry  state.Registry
	handlers  map[string]pipeline.HandlerFunc
	modifiers []pipeline.ModifierFunc
}

func (f *fakeEngine) Name() string { return "test" }

func (f *fakeEngine) Handler(event string) (pipeline.HandlerFunc, bool) {
	fn, ok := f.handlers[event]
	return fn, ok
}

func (f *fakeEngine) Modifiers() []pipeline.ModifierFunc { return f.modifiers }

func (f *fakeEngine) Registry() state.Registry { return f.registry }

func setup(t *testing.T) (*EventRouter, *fakeEngine, *transporttest.Socket) {
	t.Helper()
	eng := &fakeEngine{
		registry: statemanager.NewInMemoryRegistry(logging.Discard()),
		handlers: map[string]pipeline.HandlerFunc{},
	}
	sock := transporttest.NewSocket()
	require.NoError(t, eng.registry.OnConnect(&state.Connection{
		ID:        sock.ID(),
		Identity:  state.Identity{UserID: "u1"},
		Token:     "t",
		Socket:    sock,
		CreatedAt: time.Now(),
	}))
	return NewEventRouter(logging.Discard(), eng), eng, sock
}

func TestHandleMessageAcknowledgesWithResult(t *testing.T) {
	r, eng, sock := setup(t)
	var seen *pipeline.Cargo
	eng.handlers["echo"] = func(c *pipeline.Cargo) pipeline.Result {
		seen = c
		return pipeline.OKWith("message", map[string]string{"id": "m1"})
	}

	r.HandleMessage(context.Background(), sock, []byte(`{"event":"echo","id":"7","payload":{"x":1}}`))

	require.NotNil(t, seen)
	assert.Equal(t, "u1", seen.Identity().UserID)
	assert.JSONEq(t, `{"x":1}`, string(seen.Payload))

	acks := sock.Events(transport.AckEvent)
	require.Len(t, acks, 1)
	assert.Equal(t, "7", acks[0].ID)
	assert.JSONEq(t, `{"success":true,"message":{"id":"m1"}}`, string(acks[0].Payload))
}

func TestHandleMessageWithoutIDSendsNoAck(t *testing.T) {
	r, eng, sock := setup(t)
	eng.handlers["echo"] = func(*pipeline.Cargo) pipeline.Result { return pipeline.OK() }

	r.HandleMessage(context.Background(), sock, []byte(`{"event":"echo","payload":{}}`))
	assert.Empty(t, sock.Frames())
}

func TestHandleMessageMalformedFrame(t *testing.T) {
	r, _, sock := setup(t)

	r.HandleMessage(context.Background(), sock, []byte(`not json`))
	r.HandleMessage(context.Background(), sock, []byte(`{"payload":{}}`))

	errs := sock.Events(transport.ErrorEvent)
	require.Len(t, errs, 2)
	assert.JSONEq(t, `{"action":"","error":"Malformed frame"}`, string(errs[0].Payload))
}

func TestHandleMessageUnknownEvent(t *testing.T) {
	r, _, sock := setup(t)

	r.HandleMessage(context.Background(), sock, []byte(`{"event":"nope","id":"1"}`))

	errs := sock.Events(transport.ErrorEvent)
	require.Len(t, errs, 1)
	assert.JSONEq(t, `{"action":"nope","error":"Unknown event"}`, string(errs[0].Payload))
	acks := sock.Events(transport.AckEvent)
	require.Len(t, acks, 1)
	assert.JSONEq(t, `{"success":false,"error":"Unknown event"}`, string(acks[0].Payload))
}

func TestModifierRejectionSkipsHandler(t *testing.T) {
	r, eng, sock := setup(t)
	called := false
	eng.handlers["echo"] = func(*pipeline.Cargo) pipeline.Result {
		called = true
		return pipeline.OK()
	}
	eng.modifiers = append(eng.modifiers, func(*pipeline.Cargo) error { return errors.New("Unauthorized") })

	r.HandleMessage(context.Background(), sock, []byte(`{"event":"echo","id":"2"}`))

	assert.False(t, called)
	acks := sock.Events(transport.AckEvent)
	require.Len(t, acks, 1)
	var res map[string]any
	require.NoError(t, json.Unmarshal(acks[0].Payload, &res))
	assert.Equal(t, false, res["success"])
	assert.Equal(t, "Unauthorized", res["error"])
}

func TestUnregisteredSocketHasNoIdentity(t *testing.T) {
	r, eng, _ := setup(t)
	var seen *pipeline.Cargo
	eng.handlers["echo"] = func(c *pipeline.Cargo) pipeline.Result {
		seen = c
		return pipeline.OK()
	}
	stranger := transporttest.NewSocket()

	r.HandleMessage(context.Background(), stranger, []byte(`{"event":"echo"}`))

	require.NotNil(t, seen)
	assert.Nil(t, seen.Conn)
	assert.Nil(t, seen.Identity())
}
