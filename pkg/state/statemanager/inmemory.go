package statemanager

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mahesararslan/merge-communication-server/pkg/state"
)

type InMemoryRegistry struct {
	conns map[uuid.UUID]*state.Connection
	users map[string]map[uuid.UUID]struct{} // userID -> connection IDs, never empty
	rooms map[string]map[string]struct{}    // roomID -> user IDs, never empty

	// One lock for all three maps. No method does I/O while holding it.
	mu sync.RWMutex

	logger *slog.Logger
}

func NewInMemoryRegistry(logger *slog.Logger) *InMemoryRegistry {
	return &InMemoryRegistry{
		conns:  make(map[uuid.UUID]*state.Connection),
		users:  make(map[string]map[uuid.UUID]struct{}),
		rooms:  make(map[string]map[string]struct{}),
		logger: logger.With(slog.String("component", "registry_inmemory")),
	}
}

// compile-time check to ensure InMemoryRegistry implements Registry.
var _ state.Registry = (*InMemoryRegistry)(nil)

func (m *InMemoryRegistry) OnConnect(conn *state.Connection) error {
	if conn == nil || conn.Identity.UserID == "" {
		return errors.New("cannot register connection without a validated identity")
	}
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conns[conn.ID]; exists {
		return errors.New("connection is already registered")
	}
	m.conns[conn.ID] = conn

	userID := conn.Identity.UserID
	set, ok := m.users[userID]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		m.users[userID] = set
	}
	set[conn.ID] = struct{}{}

	m.logger.Debug("Connection registered", slog.String("connID", conn.ID.String()), slog.String("userID", userID))
	return nil
}

func (m *InMemoryRegistry) OnDisconnect(connID uuid.UUID) (*state.Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		// already deregistered
		return nil, false
	}
	delete(m.conns, connID)

	userID := conn.Identity.UserID
	if set, ok := m.users[userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(m.users, userID)
			m.logger.Debug("User fully offline", slog.String("userID", userID))
		}
	}
	m.logger.Debug("Connection deregistered", slog.String("connID", connID.String()))
	return conn, true
}

func (m *InMemoryRegistry) Connection(connID uuid.UUID) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

func (m *InMemoryRegistry) FindOldestConnection(userID string) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var oldest *state.Connection
	for connID := range m.users[userID] {
		conn := m.conns[connID]
		if conn == nil {
			continue
		}
		if oldest == nil || conn.CreatedAt.Before(oldest.CreatedAt) {
			oldest = conn
		}
	}
	return oldest, oldest != nil
}

func (m *InMemoryRegistry) AllConnections() []*state.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]*state.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	return conns
}

// --- User Lookup ---

func (m *InMemoryRegistry) ConnectionsOf(userID string) []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.users[userID]
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

func (m *InMemoryRegistry) ConnectionCount(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users[userID])
}

// --- Room Membership ---

func (m *InMemoryRegistry) JoinRoom(roomID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		m.rooms[roomID] = members
	}
	members[userID] = struct{}{}
	m.logger.Debug("User joined room", slog.String("userID", userID), slog.String("roomID", roomID))
}

func (m *InMemoryRegistry) LeaveRoom(roomID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.rooms[roomID]
	if !ok {
		return
	}
	delete(members, userID)

	// For memory hygiene, remove the room if it's now empty.
	if len(members) == 0 {
		delete(m.rooms, roomID)
		m.logger.Debug("Removed empty room", slog.String("roomID", roomID))
	}
	m.logger.Debug("User left room", slog.String("userID", userID), slog.String("roomID", roomID))
}

func (m *InMemoryRegistry) RoomMembers(roomID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := m.rooms[roomID]
	out := make([]string, 0, len(members))
	for userID := range members {
		out = append(out, userID)
	}
	return out
}

func (m *InMemoryRegistry) IsMember(roomID, userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[roomID][userID]
	return ok
}

func (m *InMemoryRegistry) Stats() state.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return state.Stats{
		Users:       len(m.users),
		Connections: len(m.conns),
		Rooms:       len(m.rooms),
	}
}
