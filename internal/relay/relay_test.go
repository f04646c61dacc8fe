package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mahesararslan/merge-communication-server/pkg/envelope"
	"github.com/mahesararslan/merge-communication-server/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID string `json:"id"`
}

var testSchema = envelope.Schema{
	"item-created": {ClientEvent: "newItem", New: func() any { return &item{} }},
}

type collector struct {
	mu   sync.Mutex
	got  []*envelope.Envelope
	seen chan struct{}
}

func newCollector() *collector { return &collector{seen: make(chan struct{}, 64)} }

func (c *collector) handle(_ context.Context, env *envelope.Envelope) {
	c.mu.Lock()
	c.got = append(c.got, env)
	c.mu.Unlock()
	c.seen <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []*envelope.Envelope {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for envelope %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*envelope.Envelope(nil), c.got...)
}

func TestRelayDeliversOwnPublishInOrder(t *testing.T) {
	bus := NewMemoryBus()
	r := New(bus, logging.Discard())
	defer r.Close()

	c := newCollector()
	require.NoError(t, r.Subscribe(context.Background(), "items", testSchema, c.handle))

	for _, id := range []string{"a", "b", "c"} {
		env := &envelope.Envelope{EventType: "item-created", Payload: &item{ID: id}, Target: envelope.Room("r1"), OriginatorUserID: "u1"}
		require.NoError(t, r.Publish(context.Background(), "items", env))
	}

	got := c.wait(t, 3)
	for i, id := range []string{"a", "b", "c"} {
		assert.Equal(t, id, got[i].Payload.(*item).ID)
		assert.Equal(t, "u1", got[i].OriginatorUserID)
	}
}

func TestRelayCrossInstance(t *testing.T) {
	bus := NewMemoryBus()
	a := New(bus, logging.Discard())
	b := New(bus, logging.Discard())
	defer a.Close()
	defer b.Close()

	ca, cb := newCollector(), newCollector()
	require.NoError(t, a.Subscribe(context.Background(), "items", testSchema, ca.handle))
	require.NoError(t, b.Subscribe(context.Background(), "items", testSchema, cb.handle))

	env := &envelope.Envelope{EventType: "item-created", Payload: &item{ID: "x"}, Target: envelope.User("u2")}
	require.NoError(t, a.Publish(context.Background(), "items", env))

	assert.Len(t, ca.wait(t, 1), 1)
	assert.Len(t, cb.wait(t, 1), 1)
}

func TestRelayDropsUndecodable(t *testing.T) {
	bus := NewMemoryBus()
	r := New(bus, logging.Discard())
	defer r.Close()

	c := newCollector()
	require.NoError(t, r.Subscribe(context.Background(), "items", testSchema, c.handle))

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, "items", []byte(`not json`)))
	require.NoError(t, bus.Publish(ctx, "items", []byte(`{"eventType":"unknown","payload":{},"target":{"kind":"room","id":"r"}}`)))
	require.NoError(t, bus.Publish(ctx, "items", []byte(`{"eventType":"item-created","payload":{"id":"ok"},"target":{"kind":"room","id":"r"}}`)))

	got := c.wait(t, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].Payload.(*item).ID)
}

func TestRelaySurvivesPanickingHandler(t *testing.T) {
	bus := NewMemoryBus()
	r := New(bus, logging.Discard())
	defer r.Close()

	c := newCollector()
	first := true
	require.NoError(t, r.Subscribe(context.Background(), "items", testSchema, func(ctx context.Context, env *envelope.Envelope) {
		if first {
			first = false
			panic("boom")
		}
		c.handle(ctx, env)
	}))

	for _, id := range []string{"1", "2"} {
		env := &envelope.Envelope{EventType: "item-created", Payload: &item{ID: id}, Target: envelope.Room("r")}
		require.NoError(t, r.Publish(context.Background(), "items", env))
	}
	got := c.wait(t, 1)
	assert.Equal(t, "2", got[0].Payload.(*item).ID)
}

func TestRelayDuplicateSubscribe(t *testing.T) {
	r := New(NewMemoryBus(), logging.Discard())
	defer r.Close()

	require.NoError(t, r.Subscribe(context.Background(), "items", testSchema, func(context.Context, *envelope.Envelope) {}))
	err := r.Subscribe(context.Background(), "items", testSchema, func(context.Context, *envelope.Envelope) {})
	var re *RelayError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "subscribe", re.Op)
	assert.ElementsMatch(t, []string{"items"}, r.Channels())
}

func TestPublishFailureIsRelayError(t *testing.T) {
	bus := NewMemoryBus()
	r := New(bus, logging.Discard())
	defer r.Close()
	require.NoError(t, bus.Close())

	err := r.Publish(context.Background(), "items", &envelope.Envelope{EventType: "item-created", Payload: &item{}, Target: envelope.Room("r")})
	var re *RelayError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "publish", re.Op)
	assert.True(t, errors.Is(err, ErrBusClosed))
	assert.Error(t, r.Ping(context.Background()))
}

func TestCloseStopsConsumers(t *testing.T) {
	r := New(NewMemoryBus(), logging.Discard())
	require.NoError(t, r.Subscribe(context.Background(), "items", testSchema, func(context.Context, *envelope.Envelope) {}))

	done := make(chan struct{})
	go func() {
		r.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.Error(t, r.Subscribe(context.Background(), "other", testSchema, func(context.Context, *envelope.Envelope) {}))
}
