package state

import "github.com/google/uuid"

// Registry is the per-instance bookkeeping of live connections and room
// membership. Nothing in it is shared with other instances.
type Registry interface {
	// --- Connection Lifecycle ---
	// OnConnect stores the connection and adds it to its user's connection set.
	OnConnect(conn *Connection) error
	// OnDisconnect removes the connection; a user with no connections left is
	// dropped entirely. Room membership is left untouched.
	OnDisconnect(connID uuid.UUID) (*Connection, bool)
	Connection(connID uuid.UUID) (*Connection, bool)
	FindOldestConnection(userID string) (*Connection, bool)
	AllConnections() []*Connection

	// --- User Lookup ---
	// ConnectionsOf never fails; unknown users have no connections.
	ConnectionsOf(userID string) []uuid.UUID
	ConnectionCount(userID string) int

	// --- Room Membership ---
	JoinRoom(roomID, userID string)
	LeaveRoom(roomID, userID string)
	RoomMembers(roomID string) []string
	IsMember(roomID, userID string) bool

	Stats() Stats
}
