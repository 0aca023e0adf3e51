package gateway

import "sync"

// Rooms tracks named broadcast groups of co-located connections (a
// class, a study group). Room names are free-form strings chosen by
// clients; membership is per-connection and released on disconnect.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[string]map[*Connection]bool
}

// NewRooms creates an empty room registry.
func NewRooms() *Rooms {
	return &Rooms{
		rooms: make(map[string]map[*Connection]bool),
	}
}

// Join adds conn to room. Joining twice is a no-op.
func (r *Rooms) Join(room string, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[room] == nil {
		r.rooms[room] = make(map[*Connection]bool)
	}
	r.rooms[room][conn] = true
}

// Leave removes conn from room, dropping the room once empty.
func (r *Rooms) Leave(room string, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(room, conn)
}

// LeaveAll releases every membership conn holds and returns the rooms
// it left, so the caller can notify them.
func (r *Rooms) LeaveAll(conn *Connection) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []string
	for room, members := range r.rooms {
		if members[conn] {
			left = append(left, room)
			r.leaveLocked(room, conn)
		}
	}
	return left
}

func (r *Rooms) leaveLocked(room string, conn *Connection) {
	members, exists := r.rooms[room]
	if !exists {
		return
	}
	delete(members, conn)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// Broadcast sends v to every member of room except the sender.
// Delivery continues past individual write failures; a slow member
// never blocks the rest of the room.
func (r *Rooms) Broadcast(room string, except *Connection, v any) {
	r.mu.RLock()
	members := make([]*Connection, 0, len(r.rooms[room]))
	for conn := range r.rooms[room] {
		if conn != except {
			members = append(members, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range members {
		_ = conn.WriteJSON(v)
	}
}

// MemberCount returns how many connections are in room.
func (r *Rooms) MemberCount(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}
