package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mahesararslan/merge-communication-server/pkg/state"
	"github.com/mahesararslan/merge-communication-server/pkg/transport"
)

/*
 * The purpose of this is to detach the implementation of command handlers and
 * modifiers from the router that decodes client frames.
 */

// Cargo is everything a handler may look at for one inbound event.
type Cargo struct {
	Logger *slog.Logger
	Ctx    context.Context
	Event  string
	// Socket is always set, even when Conn is not.
	Socket transport.Socket
	// Conn is nil when the socket is not in the registry.
	Conn    *state.Connection
	Payload json.RawMessage
}

// Identity returns the caller's identity, or nil if the connection was never
// authenticated.
func (c *Cargo) Identity() *state.Identity {
	if c.Conn == nil || c.Conn.Identity.UserID == "" {
		return nil
	}
	return &c.Conn.Identity
}

// HandlerFunc executes one inbound command and produces its response.
type HandlerFunc func(c *Cargo) Result

// ModifierFunc runs before a handler; a non-nil error rejects the event with
// the error's message.
type ModifierFunc func(c *Cargo) error

// Result is the direct response to a command: {success, error} plus,
// on success, the entity under Key.
type Result struct {
	Success bool
	Error   string
	Key     string
	Entity  any
}

func OK() Result { return Result{Success: true} }

func OKWith(key string, entity any) Result {
	return Result{Success: true, Key: key, Entity: entity}
}

func Fail(msg string) Result { return Result{Error: msg} }

func (r Result) MarshalJSON() ([]byte, error) {
	out := map[string]any{"success": r.Success}
	if !r.Success {
		out["error"] = r.Error
	}
	if r.Success && r.Key != "" {
		out[r.Key] = r.Entity
	}
	return json.Marshal(out)
}
