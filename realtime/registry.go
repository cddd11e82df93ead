package realtime

// registry holds live connections and room membership. It is not safe for
// concurrent use; only the reactor goroutine touches it.
type registry struct {
	// Live connections by id
	conns map[string]*Connection

	// Connection ids by owning user
	byUser map[string]map[string]struct{}

	// Member connection ids by room
	rooms map[RoomID]map[string]struct{}
}

func newRegistry() *registry {
	return &registry{
		conns:  make(map[string]*Connection),
		byUser: make(map[string]map[string]struct{}),
		rooms:  make(map[RoomID]map[string]struct{}),
	}
}

// add registers c. The caller guarantees the id is fresh.
func (r *registry) add(c *Connection) {
	if c.rooms == nil {
		c.rooms = make(map[RoomID]struct{})
	}
	r.conns[c.ID] = c
	if r.byUser[c.UserID] == nil {
		r.byUser[c.UserID] = make(map[string]struct{})
	}
	r.byUser[c.UserID][c.ID] = struct{}{}
}

func (r *registry) get(id string) (*Connection, bool) {
	c, ok := r.conns[id]
	return c, ok
}

// join adds connection id to room. It reports false if it was already a member.
func (r *registry) join(id string, room RoomID) bool {
	c, ok := r.conns[id]
	if !ok {
		return false
	}
	if _, already := c.rooms[room]; already {
		return false
	}
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]struct{})
	}
	r.rooms[room][id] = struct{}{}
	c.rooms[room] = struct{}{}
	return true
}

// leave removes connection id from room, deleting the room once empty. It
// reports whether the connection was a member.
func (r *registry) leave(id string, room RoomID) bool {
	c, ok := r.conns[id]
	if !ok {
		return false
	}
	if _, member := c.rooms[room]; !member {
		return false
	}
	delete(c.rooms, room)
	if members, ok := r.rooms[room]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	return true
}

// remove drops the connection from every room and from the registry. It
// returns the removed connection, or nil if id was not registered.
func (r *registry) remove(id string) *Connection {
	c, ok := r.conns[id]
	if !ok {
		return nil
	}
	for room := range c.rooms {
		if members, ok := r.rooms[room]; ok {
			delete(members, id)
			if len(members) == 0 {
				delete(r.rooms, room)
			}
		}
	}
	delete(r.conns, id)
	if ids, ok := r.byUser[c.UserID]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(r.byUser, c.UserID)
		}
	}
	return c
}

// members returns the live connections in room.
func (r *registry) members(room RoomID) []*Connection {
	ids := r.rooms[room]
	out := make([]*Connection, 0, len(ids))
	for id := range ids {
		if c, ok := r.conns[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// userConns returns every connection owned by userID.
func (r *registry) userConns(userID string) []*Connection {
	ids := r.byUser[userID]
	out := make([]*Connection, 0, len(ids))
	for id := range ids {
		if c, ok := r.conns[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (r *registry) ids() []string {
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	return out
}

func (r *registry) stats() Stats {
	s := Stats{
		Connections: len(r.conns),
		Rooms:       len(r.rooms),
		RoomMembers: make(map[RoomID]int, len(r.rooms)),
	}
	for room, members := range r.rooms {
		s.RoomMembers[room] = len(members)
	}
	return s
}

func (r *registry) reset() {
	r.conns = make(map[string]*Connection)
	r.byUser = make(map[string]map[string]struct{})
	r.rooms = make(map[RoomID]map[string]struct{})
}
