// Package relay moves envelopes between gateway instances over a pub/sub bus.
package relay

import (
	"context"
	"errors"
	"fmt"
)

var ErrBusClosed = errors.New("bus closed")

// Subscription delivers the raw messages of one bus channel in publish order.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Bus is a fan-out pub/sub transport. A publish reaches every subscription of
// the channel, including ones held by the publishing process.
type Bus interface {
	Publish(ctx context.Context, channel string, msg []byte) error
	// Subscribe returns once the bus has confirmed the subscription, so no
	// message published afterwards can be missed.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// RelayError is a bus failure. It is only ever logged: by the time a publish
// fails the backend write it reports has already been applied.
type RelayError struct {
	Op      string
	Channel string
	Err     error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay: %s %s: %v", e.Op, e.Channel, e.Err)
}

func (e *RelayError) Unwrap() error { return e.Err }
