package state

import (
	"time"

	"github.com/google/uuid"
	"github.com/mahesararslan/merge-communication-server/pkg/transport"
)

// Identity is the verified caller behind a connection. It is attached once at
// accept time and never changes for the connection's lifetime.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// representation of a single authenticated transport-layer connection.
type Connection struct {
	ID        uuid.UUID
	Identity  Identity
	Token     string // bearer credential forwarded to the backend
	IPAddress string
	Socket    transport.Socket
	CreatedAt time.Time
}

// Stats is a point-in-time summary of a registry.
type Stats struct {
	Users       int `json:"users"`
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}
