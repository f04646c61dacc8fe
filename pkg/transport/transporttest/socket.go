// Package transporttest provides an in-memory Socket for tests.
package transporttest

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/mahesararslan/merge-communication-server/pkg/transport"
)

// Socket records every frame sent to it.
type Socket struct {
	id uuid.UUID

	mu       sync.Mutex
	frames   []transport.Frame
	closed   bool
	closeErr error
}

var _ transport.Socket = (*Socket)(nil)

func NewSocket() *Socket {
	return &Socket{id: uuid.New()}
}

func (s *Socket) ID() uuid.UUID { return s.id }

func (s *Socket) Send(message []byte) {
	var f transport.Frame
	if err := json.Unmarshal(message, &f); err != nil {
		f = transport.Frame{Event: "<invalid>", Payload: message}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.frames = append(s.frames, f)
}

func (s *Socket) Close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeErr = err
}

// Frames returns a snapshot of everything received so far.
func (s *Socket) Frames() []transport.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Events returns the received frames with the given event name.
func (s *Socket) Events(event string) []transport.Frame {
	var out []transport.Frame
	for _, f := range s.Frames() {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func (s *Socket) Closed() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.closeErr
}
