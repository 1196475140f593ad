package store

import (
	"sort"
	"sync"
)

// Registry maps room ids to live rooms. Its lock covers only the map;
// everything else goes through the room's own lock.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	newDoc func() Mergeable
}

func NewRegistry(newDoc func() Mergeable) *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		newDoc: newDoc,
	}
}

// GetOrCreate returns the room for id, creating it in the loading state if
// absent. created is true for exactly one caller per room instance.
func (r *Registry) GetOrCreate(id string) (room *Room, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room, ok := r.rooms[id]; ok {
		return room, false
	}
	room = NewRoom(id, r.newDoc())
	r.rooms[id] = room
	return room, true
}

func (r *Registry) Get(id string) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	return room, ok
}

// Remove deletes id only while it still maps to room, so a stale caller
// cannot evict a newer instance.
func (r *Registry) Remove(id string, room *Room) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.rooms[id]; ok && current == room {
		delete(r.rooms, id)
		return true
	}
	return false
}

// List returns the live rooms ordered by id.
func (r *Registry) List() []*Room {
	r.mu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.Unlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
