package chat

import "sync"

// RoomRouter 房间成员关系，只在内存中维护。
// 不负责鉴权：chat:join 之前由 handler 做参与者校验。
type RoomRouter struct {
	mu      sync.RWMutex
	members map[string]map[*Client]struct{} // room -> clients
	joined  map[*Client]map[string]struct{} // client -> rooms
}

func NewRoomRouter() *RoomRouter {
	return &RoomRouter{
		members: make(map[string]map[*Client]struct{}),
		joined:  make(map[*Client]map[string]struct{}),
	}
}

// Join 幂等
func (r *RoomRouter) Join(c *Client, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.members[room]
	if m == nil {
		m = make(map[*Client]struct{})
		r.members[room] = m
	}
	m[c] = struct{}{}
	j := r.joined[c]
	if j == nil {
		j = make(map[string]struct{})
		r.joined[c] = j
	}
	j[room] = struct{}{}
}

// Leave 幂等
func (r *RoomRouter) Leave(c *Client, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(c, room)
}

func (r *RoomRouter) leaveLocked(c *Client, room string) {
	if m := r.members[room]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(r.members, room)
		}
	}
	if j := r.joined[c]; j != nil {
		delete(j, room)
		if len(j) == 0 {
			delete(r.joined, c)
		}
	}
}

// LeaveAll 断开时调用，返回离开前所在的房间
func (r *RoomRouter) LeaveAll(c *Client) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms := make([]string, 0, len(r.joined[c]))
	for room := range r.joined[c] {
		rooms = append(rooms, room)
	}
	for _, room := range rooms {
		r.leaveLocked(c, room)
	}
	return rooms
}

func (r *RoomRouter) MembersOf(room string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.members[room]))
	for c := range r.members[room] {
		out = append(out, c)
	}
	return out
}

func (r *RoomRouter) RoomsOf(c *Client) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.joined[c]))
	for room := range r.joined[c] {
		out = append(out, room)
	}
	return out
}

func (r *RoomRouter) InRoom(c *Client, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[room][c]
	return ok
}
