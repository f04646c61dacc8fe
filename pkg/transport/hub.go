package transport

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Hub tracks which sockets joined which named channels ("user:<id>",
// "room:<id>"). It is the transport's room primitive: a channel broadcast
// reaches exactly the sockets that joined it on this instance.
type Hub struct {
	mu          sync.RWMutex
	channels    map[string]map[uuid.UUID]Socket
	memberships map[uuid.UUID]map[string]struct{}

	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		channels:    make(map[string]map[uuid.UUID]Socket),
		memberships: make(map[uuid.UUID]map[string]struct{}),
		logger:      logger.With(slog.String("component", "hub")),
	}
}

// Join adds the socket to the channel. Joining twice is a no-op.
func (h *Hub) Join(sock Socket, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := sock.ID()
	members, ok := h.channels[channel]
	if !ok {
		members = make(map[uuid.UUID]Socket)
		h.channels[channel] = members
	}
	members[id] = sock

	joined, ok := h.memberships[id]
	if !ok {
		joined = make(map[string]struct{})
		h.memberships[id] = joined
	}
	joined[channel] = struct{}{}
}

// Leave removes the socket from the channel, dropping the channel once empty.
func (h *Hub) Leave(id uuid.UUID, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(id, channel)
}

// LeaveAll removes the socket from every channel and returns what it had joined.
func (h *Hub) LeaveAll(id uuid.UUID) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	joined := h.memberships[id]
	left := make([]string, 0, len(joined))
	for channel := range joined {
		left = append(left, channel)
		h.leaveLocked(id, channel)
	}
	return left
}

func (h *Hub) leaveLocked(id uuid.UUID, channel string) {
	if members, ok := h.channels[channel]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
	if joined, ok := h.memberships[id]; ok {
		delete(joined, channel)
		if len(joined) == 0 {
			delete(h.memberships, id)
		}
	}
}

// Broadcast sends the message to every socket in the channel and reports how
// many received it.
func (h *Hub) Broadcast(channel string, message []byte) int {
	h.mu.RLock()
	members := h.channels[channel]
	targets := make([]Socket, 0, len(members))
	for _, sock := range members {
		targets = append(targets, sock)
	}
	h.mu.RUnlock()

	// Send outside the lock: a slow consumer closes itself, which calls back
	// into LeaveAll.
	for _, sock := range targets {
		sock.Send(message)
	}
	return len(targets)
}

// Channels lists the channels a socket has joined.
func (h *Hub) Channels(id uuid.UUID) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	joined := h.memberships[id]
	out := make([]string, 0, len(joined))
	for channel := range joined {
		out = append(out, channel)
	}
	return out
}

// Size is the number of sockets in the channel.
func (h *Hub) Size(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

func UserChannel(userID string) string { return "user:" + userID }
func RoomChannel(roomID string) string { return "room:" + roomID }
