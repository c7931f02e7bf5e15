package internal

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Hub tracks which connections are joined to which workspace room. A
// connection belongs to at most one room at a time.
type Hub struct {
	mutex       sync.RWMutex
	rooms       map[int64]*Room
	memberships map[string]int64
	closed      bool
}

// Room is the in-memory membership set of one workspace.
type Room struct {
	workspaceID int64
	mutex       sync.RWMutex
	members     map[string]Connection
	evicted     bool
}

// HubStats is a point-in-time count used by /metrics and /up.
type HubStats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}

// builds an empty hub ready to serve websocket requests
func NewHub() *Hub {
	return &Hub{
		rooms:       make(map[int64]*Room),
		memberships: make(map[string]int64),
	}
}

func newRoom(workspaceID int64) *Room {
	return &Room{workspaceID: workspaceID, members: make(map[string]Connection)}
}

// Join adds conn to the workspace room, moving it out of any other room
// first. Joining the same room twice is a no-op.
func (hub *Hub) Join(workspaceID int64, conn Connection) error {
	if current, ok := hub.RoomOf(conn.ID()); ok && current != workspaceID {
		hub.Leave(current, conn)
	}
	for {
		room, err := hub.getOrCreateRoom(workspaceID)
		if err != nil {
			return err
		}
		room.mutex.Lock()
		if room.evicted {
			// lost a race with the last Leave; the registry already dropped this room.
			room.mutex.Unlock()
			continue
		}
		room.members[conn.ID()] = conn
		room.mutex.Unlock()

		hub.mutex.Lock()
		hub.memberships[conn.ID()] = workspaceID
		hub.mutex.Unlock()
		return nil
	}
}

// Leave removes conn from the workspace room. Unknown connections are ignored.
// A room left empty is evicted from the registry.
func (hub *Hub) Leave(workspaceID int64, conn Connection) {
	room := hub.getRoom(workspaceID)
	if room == nil {
		return
	}
	room.mutex.Lock()
	if _, ok := room.members[conn.ID()]; !ok {
		room.mutex.Unlock()
		return
	}
	delete(room.members, conn.ID())
	empty := len(room.members) == 0
	if empty {
		room.evicted = true
	}
	room.mutex.Unlock()

	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if hub.memberships[conn.ID()] == workspaceID {
		delete(hub.memberships, conn.ID())
	}
	if empty && hub.rooms[workspaceID] == room {
		delete(hub.rooms, workspaceID)
	}
}

// MembersOf returns a snapshot of the room's connections. Later joins and
// leaves do not affect the returned slice.
func (hub *Hub) MembersOf(workspaceID int64) []Connection {
	room := hub.getRoom(workspaceID)
	if room == nil {
		return nil
	}
	room.mutex.RLock()
	defer room.mutex.RUnlock()
	members := make([]Connection, 0, len(room.members))
	for _, conn := range room.members {
		members = append(members, conn)
	}
	return members
}

// RoomOf returns the workspace a connection is currently joined to.
func (hub *Hub) RoomOf(connID string) (int64, bool) {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	workspaceID, ok := hub.memberships[connID]
	return workspaceID, ok
}

// Exists reports whether a workspace room currently has live members.
func (hub *Hub) Exists(workspaceID int64) bool {
	return hub.getRoom(workspaceID) != nil
}

func (hub *Hub) Stats() HubStats {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return HubStats{Rooms: len(hub.rooms), Connections: len(hub.memberships)}
}

// Shutdown refuses further joins and closes every joined connection with
// 1001 (going away).
func (hub *Hub) Shutdown() {
	hub.mutex.Lock()
	hub.closed = true
	rooms := make([]*Room, 0, len(hub.rooms))
	for _, room := range hub.rooms {
		rooms = append(rooms, room)
	}
	hub.mutex.Unlock()

	for _, room := range rooms {
		room.mutex.RLock()
		members := make([]Connection, 0, len(room.members))
		for _, conn := range room.members {
			members = append(members, conn)
		}
		room.mutex.RUnlock()
		for _, conn := range members {
			_ = conn.Close(websocket.CloseGoingAway, "server shutting down")
		}
	}
}

func (hub *Hub) getOrCreateRoom(workspaceID int64) (*Room, error) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if hub.closed {
		return nil, ErrHubClosed
	}
	if room, exists := hub.rooms[workspaceID]; exists {
		return room, nil
	}
	room := newRoom(workspaceID)
	hub.rooms[workspaceID] = room
	return room, nil
}

func (hub *Hub) getRoom(workspaceID int64) *Room {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return hub.rooms[workspaceID]
}
