package connector

import "github.com/peerline-net/peerline/internal/identity"

// roomRegistry maps room names to live Room objects. It guarantees at most
// one Room per name; every access happens under the connector lock.
type roomRegistry struct {
	rooms map[string]*Room
}

func newRoomRegistry() *roomRegistry {
	return &roomRegistry{rooms: make(map[string]*Room)}
}

// getOrCreate returns the room registered under name, creating it with the
// given membership when absent. The second result reports whether the room
// was created by this call.
func (r *roomRegistry) getOrCreate(c *Connector, name string, members []identity.ID) (*Room, bool) {
	if room, ok := r.rooms[name]; ok {
		return room, false
	}
	room := newRoom(c, name, members)
	r.rooms[name] = room
	return room, true
}

// lookup returns the room registered under name, or nil.
func (r *roomRegistry) lookup(name string) *Room {
	return r.rooms[name]
}

// remove drops the registration if it still refers to room. A stale remove
// must not evict a newer room that reused the name.
func (r *roomRegistry) remove(name string, room *Room) {
	if r.rooms[name] == room {
		delete(r.rooms, name)
	}
}

// all returns the registered rooms in no particular order.
func (r *roomRegistry) all() []*Room {
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}
