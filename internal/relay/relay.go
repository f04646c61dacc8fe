package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mahesararslan/merge-communication-server/internal/metrics"
	"github.com/mahesararslan/merge-communication-server/pkg/envelope"
)

// Handler receives each decoded envelope of a channel, one at a time, in the
// order the bus delivered them.
type Handler func(ctx context.Context, env *envelope.Envelope)

// Relay publishes envelopes to the bus and feeds subscribed channels into
// their handlers. One goroutine drains each channel.
type Relay struct {
	bus    Bus
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[string]Subscription
	wg     sync.WaitGroup
	closed bool
}

func New(bus Bus, logger *slog.Logger) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		bus:    bus,
		logger: logger.With(slog.String("component", "relay")),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]Subscription),
	}
}

// Publish hands the envelope to the bus. It does not wait for delivery.
func (r *Relay) Publish(ctx context.Context, channel string, env *envelope.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		metrics.EnvelopesPublished.WithLabelValues(channel, "error").Inc()
		return &RelayError{Op: "encode", Channel: channel, Err: err}
	}
	if err := r.bus.Publish(ctx, channel, data); err != nil {
		metrics.EnvelopesPublished.WithLabelValues(channel, "error").Inc()
		return &RelayError{Op: "publish", Channel: channel, Err: err}
	}
	metrics.EnvelopesPublished.WithLabelValues(channel, "ok").Inc()
	r.logger.Debug("Published envelope",
		slog.String("channel", channel),
		slog.String("eventType", string(env.EventType)),
		slog.String("target", string(env.Target.Kind)+":"+env.Target.ID),
	)
	return nil
}

// Subscribe blocks until the bus confirms the subscription, then starts the
// channel's consumer. A channel can be subscribed once.
func (r *Relay) Subscribe(ctx context.Context, channel string, schema envelope.Schema, handler Handler) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return &RelayError{Op: "subscribe", Channel: channel, Err: ErrBusClosed}
	}
	if _, exists := r.subs[channel]; exists {
		r.mu.Unlock()
		return &RelayError{Op: "subscribe", Channel: channel, Err: errors.New("already subscribed")}
	}
	r.mu.Unlock()

	sub, err := r.bus.Subscribe(ctx, channel)
	if err != nil {
		return &RelayError{Op: "subscribe", Channel: channel, Err: err}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		sub.Close()
		return &RelayError{Op: "subscribe", Channel: channel, Err: ErrBusClosed}
	}
	r.subs[channel] = sub
	r.wg.Add(1)
	r.mu.Unlock()

	go r.consume(channel, sub, schema, handler)
	r.logger.Info("Subscribed to bus channel", slog.String("channel", channel))
	return nil
}

func (r *Relay) consume(channel string, sub Subscription, schema envelope.Schema, handler Handler) {
	defer r.wg.Done()
	logger := r.logger.With(slog.String("channel", channel))

	for {
		select {
		case <-r.ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				logger.Warn("Bus subscription ended")
				return
			}
			env, err := schema.Decode(msg)
			if err != nil {
				metrics.EnvelopesReceived.WithLabelValues(channel, "rejected").Inc()
				logger.Warn("Dropping undecodable envelope", slog.Any("error", err))
				continue
			}
			metrics.EnvelopesReceived.WithLabelValues(channel, "ok").Inc()
			r.handle(logger, handler, env)
		}
	}
}

// handle runs the handler, recovering a panic so the channel keeps draining.
func (r *Relay) handle(logger *slog.Logger, handler Handler, env *envelope.Envelope) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Envelope handler panicked", slog.String("eventType", string(env.EventType)), slog.Any("panic", p))
		}
	}()
	handler(r.ctx, env)
}

// Ping checks that the bus is reachable.
func (r *Relay) Ping(ctx context.Context) error {
	if err := r.bus.Ping(ctx); err != nil {
		return fmt.Errorf("bus unreachable: %w", err)
	}
	return nil
}

// Channels lists the subscribed channel names.
func (r *Relay) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.subs))
	for name := range r.subs {
		out = append(out, name)
	}
	return out
}

// Close stops every consumer and waits for them to return. The bus itself is
// left open; its owner closes it.
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	subs := r.subs
	r.mu.Unlock()

	r.cancel()
	for channel, sub := range subs {
		if err := sub.Close(); err != nil {
			r.logger.Warn("Failed to close subscription", slog.String("channel", channel), slog.Any("error", err))
		}
	}
	r.wg.Wait()
}
