package statemanager_test

import (
	"log/slog"
	"os"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/mahesararslan/merge-communication-server/pkg/state"
	"github.com/mahesararslan/merge-communication-server/pkg/state/statemanager"
	"github.com/mahesararslan/merge-communication-server/pkg/transport/transporttest"
)

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	// Discard logger output during tests by setting a high level
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func newTestRegistry() *statemanager.InMemoryRegistry {
	return statemanager.NewInMemoryRegistry(newTestLogger())
}

func newConn(userID string) *state.Connection {
	sock := transporttest.NewSocket()
	return &state.Connection{
		ID:       sock.ID(),
		Identity: state.Identity{UserID: userID, Email: userID + "@example.com", Role: "student"},
		Socket:   sock,
	}
}

// --- Connection Lifecycle Tests ---

func TestConnectionLifecycle(t *testing.T) {
	m := newTestRegistry()
	conn := newConn("user-1")

	if err := m.OnConnect(conn); err != nil {
		t.Fatalf("OnConnect failed: %v", err)
	}
	retrieved, found := m.Connection(conn.ID)
	if !found {
		t.Fatal("Connection failed to find registered connection")
	}
	if retrieved.ID != conn.ID {
		t.Errorf("Retrieved connection ID mismatch")
	}
	if err := m.OnConnect(conn); err == nil {
		t.Error("Expected registering the same connection twice to fail")
	}

	if _, ok := m.OnDisconnect(conn.ID); !ok {
		t.Fatal("OnDisconnect did not find the connection")
	}
	if _, found := m.Connection(conn.ID); found {
		t.Error("Found connection after it should have been deregistered")
	}
	if _, ok := m.OnDisconnect(conn.ID); ok {
		t.Error("Second OnDisconnect should be a no-op")
	}
}

func TestOnConnectRejectsMissingIdentity(t *testing.T) {
	m := newTestRegistry()
	conn := newConn("")

	if err := m.OnConnect(conn); err == nil {
		t.Fatal("Expected OnConnect to reject a connection without identity")
	}
	if stats := m.Stats(); stats.Connections != 0 || stats.Users != 0 {
		t.Errorf("Registry mutated by rejected connection: %+v", stats)
	}
}

func TestMultiDeviceConnectionsOf(t *testing.T) {
	m := newTestRegistry()
	userID := "user-multi"
	conn1, conn2 := newConn(userID), newConn(userID)
	m.OnConnect(conn1)
	m.OnConnect(conn2)

	ids := m.ConnectionsOf(userID)
	if len(ids) != 2 {
		t.Fatalf("Expected 2 connections, got %d", len(ids))
	}
	if count := m.ConnectionCount(userID); count != 2 {
		t.Errorf("Expected connection count 2, got %d", count)
	}

	m.OnDisconnect(conn1.ID)
	ids = m.ConnectionsOf(userID)
	if len(ids) != 1 || ids[0] != conn2.ID {
		t.Errorf("Expected only conn2 to remain, got %v", ids)
	}
}

func TestLastDisconnectRemovesUser(t *testing.T) {
	m := newTestRegistry()
	userID := "user-leaving"
	conn := newConn(userID)
	m.OnConnect(conn)
	m.JoinRoom("r1", userID)

	m.OnDisconnect(conn.ID)

	if ids := m.ConnectionsOf(userID); len(ids) != 0 {
		t.Errorf("Expected no connections after last disconnect, got %v", ids)
	}
	if stats := m.Stats(); stats.Users != 0 {
		t.Errorf("Expected user key to be removed, stats %+v", stats)
	}
	// room membership is left as-is
	if !m.IsMember("r1", userID) {
		t.Error("Room membership should survive disconnect")
	}
}

func TestConnectionsOfUnknownUser(t *testing.T) {
	m := newTestRegistry()
	if ids := m.ConnectionsOf("nobody"); ids == nil || len(ids) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", ids)
	}
}

func TestFindOldestConnection(t *testing.T) {
	m := newTestRegistry()
	userID := "user-cycle"
	conn1 := newConn(userID)
	conn1.CreatedAt = time.Now().Add(-time.Minute)
	conn2 := newConn(userID)

	m.OnConnect(conn1)
	m.OnConnect(conn2)

	oldest, found := m.FindOldestConnection(userID)
	if !found {
		t.Fatal("Expected to find oldest connection, but did not")
	}
	if oldest.ID != conn1.ID {
		t.Errorf("Expected oldest connection ID to be %s, got %s", conn1.ID, oldest.ID)
	}
	if _, found := m.FindOldestConnection("nobody"); found {
		t.Error("Expected no oldest connection for unknown user")
	}
}

// --- Room Management Tests ---

func TestRoomMembership(t *testing.T) {
	m := newTestRegistry()
	userID1, userID2 := "user-room-1", "user-room-2"
	roomID := "test-room"

	m.JoinRoom(roomID, userID1)
	m.JoinRoom(roomID, userID2)

	members := m.RoomMembers(roomID)
	sort.Strings(members)
	if len(members) != 2 || members[0] != userID1 || members[1] != userID2 {
		t.Fatalf("Expected both members in room, got %v", members)
	}

	m.LeaveRoom(roomID, userID1)
	members = m.RoomMembers(roomID)
	if len(members) != 1 || members[0] != userID2 {
		t.Fatalf("Expected %s to remain, got %v", userID2, members)
	}

	// Test empty room cleanup
	m.LeaveRoom(roomID, userID2)
	if stats := m.Stats(); stats.Rooms != 0 {
		t.Error("Expected room to be deleted after last member left, but it was found")
	}
}

func TestJoinIsIdempotentAndLeaveRestores(t *testing.T) {
	m := newTestRegistry()
	m.JoinRoom("r1", "existing")
	before := m.RoomMembers("r1")

	m.JoinRoom("r1", "u1")
	m.JoinRoom("r1", "u1")
	if got := len(m.RoomMembers("r1")); got != len(before)+1 {
		t.Fatalf("Expected repeated join to add one member, got %d members", got)
	}

	m.LeaveRoom("r1", "u1")
	after := m.RoomMembers("r1")
	if len(after) != len(before) || after[0] != before[0] {
		t.Errorf("Leave did not restore pre-join state: before %v after %v", before, after)
	}
}

func TestLeaveUnknownRoomIsNoop(t *testing.T) {
	m := newTestRegistry()
	m.LeaveRoom("missing", "u1")
	if stats := m.Stats(); stats.Rooms != 0 {
		t.Errorf("Unexpected rooms: %+v", stats)
	}
}

func TestRegistryConcurrency(t *testing.T) {
	m := newTestRegistry()
	numGoroutines := 100
	var wg sync.WaitGroup

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := "user" + strconv.Itoa(i%10)
			conn := newConn(userID)
			m.OnConnect(conn)
			m.JoinRoom("room"+strconv.Itoa(i%5), userID)
			m.ConnectionsOf(userID)
			m.OnDisconnect(conn.ID)
		}(i)
	}
	wg.Wait()

	if stats := m.Stats(); stats.Connections != 0 || stats.Users != 0 {
		t.Errorf("Expected every connection to be gone, got %+v", stats)
	}
}
