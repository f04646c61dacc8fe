package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mahesararslan/merge-communication-server/pkg/pipeline"
	"golang.org/x/time/rate"
)

var errUnauthorized = errors.New(msgUnauthorized)

// authenticated rejects events from sockets without a registered identity.
// The identity comes from the registry entry made at accept time; it is not
// validated again.
func authenticated(c *pipeline.Cargo) error {
	if c.Identity() == nil {
		return errUnauthorized
	}
	return nil
}

// eventLimiter is a token bucket per connection.
type eventLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
}

func newEventLimiter(limit rate.Limit, burst int) *eventLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &eventLimiter{limit: limit, burst: burst, limiters: make(map[uuid.UUID]*rate.Limiter)}
}

func (l *eventLimiter) modifier(c *pipeline.Cargo) error {
	id := c.Socket.ID()
	l.mu.Lock()
	lim, ok := l.limiters[id]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[id] = lim
	}
	l.mu.Unlock()

	if !lim.Allow() {
		return fmt.Errorf("rate limit for event '%s' exceeded", c.Event)
	}
	return nil
}

func (l *eventLimiter) forget(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, id)
}
