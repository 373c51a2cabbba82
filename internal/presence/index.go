package presence

import (
	"sort"
	"sync"
)

// Index owns room membership: user -> room (exclusive), room -> users, and
// the global online set. All mutations are atomic behind one table lock;
// callers never see a user in a room that the user-room table disagrees with,
// and empty rooms are dropped immediately. No I/O happens under the lock.
type Index struct {
	mu       sync.RWMutex
	userRoom map[string]string
	rooms    map[string]map[string]struct{}
	online   map[string]struct{}
}

func NewIndex() *Index {
	return &Index{
		userRoom: make(map[string]string),
		rooms:    make(map[string]map[string]struct{}),
		online:   make(map[string]struct{}),
	}
}

// Join moves the identity into room, removing it from its previous room
// first. The previous room is returned so the caller can decide whether a
// leave announcement is due; a same-room join reports prev == room and
// mutates nothing.
func (ix *Index) Join(identity, room string) (prev string, hadPrev bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	prev, hadPrev = ix.userRoom[identity]
	if hadPrev && prev == room {
		return prev, true
	}
	if hadPrev {
		ix.removeFromRoom(identity, prev)
	}
	ix.userRoom[identity] = room
	members, ok := ix.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		ix.rooms[room] = members
	}
	members[identity] = struct{}{}
	return prev, hadPrev
}

// Leave removes the identity from whatever room it occupies.
func (ix *Index) Leave(identity string) (string, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	room, ok := ix.userRoom[identity]
	if !ok {
		return "", false
	}
	delete(ix.userRoom, identity)
	ix.removeFromRoom(identity, room)
	return room, true
}

// MarkOnline adds the identity to the online set and reports whether it was
// newly added (heartbeats only trigger a re-announcement in that case).
func (ix *Index) MarkOnline(identity string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.online[identity]; ok {
		return false
	}
	ix.online[identity] = struct{}{}
	return true
}

func (ix *Index) MarkOffline(identity string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.online, identity)
}

// UsersIn returns the room's members. Unknown rooms yield an empty list, not
// an error.
func (ix *Index) UsersIn(room string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	users := make([]string, 0, len(ix.rooms[room]))
	for u := range ix.rooms[room] {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

func (ix *Index) OnlineUsers() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	users := make([]string, 0, len(ix.online))
	for u := range ix.online {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

func (ix *Index) RoomOf(identity string) (string, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	room, ok := ix.userRoom[identity]
	return room, ok
}

// Rooms lists every live room with its member count.
func (ix *Index) Rooms() map[string]int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make(map[string]int, len(ix.rooms))
	for room, members := range ix.rooms {
		out[room] = len(members)
	}
	return out
}

// caller must hold ix.mu
func (ix *Index) removeFromRoom(identity, room string) {
	members, ok := ix.rooms[room]
	if !ok {
		return
	}
	delete(members, identity)
	if len(members) == 0 {
		delete(ix.rooms, room)
	}
}
