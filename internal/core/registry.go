package core

import (
	"sync"

	"github.com/vovakirdan/mailroom/internal/mailbox"
)

// Client is a connected participant as seen by the relay.
type Client struct {
	Handle mailbox.Handle
	Name   string
	Room   *Room // nil while not joined anywhere
}

// Room groups clients by name. Member order is not load-bearing;
// removal swaps with the last entry.
type Room struct {
	Name    string
	Members []*Client
}

func (r *Room) remove(c *Client) bool {
	for i, m := range r.Members {
		if m == c {
			last := len(r.Members) - 1
			r.Members[i] = r.Members[last]
			r.Members[last] = nil
			r.Members = r.Members[:last]
			return true
		}
	}
	return false
}

// Limits are the hard ceilings enforced at creation time.
type Limits struct {
	MaxClients     int
	MaxRooms       int
	MaxRoomMembers int
}

// RoomInfo is a read-only occupancy snapshot of one room.
type RoomInfo struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
	Max     int    `json:"max"`
}

// Registry holds the client and room tables. All mutation happens on the
// router goroutine; the lock exists so operational read-only snapshots
// can be taken concurrently.
type Registry struct {
	mu      sync.RWMutex
	limits  Limits
	clients map[mailbox.Handle]*Client
	rooms   map[string]*Room
	order   []*Room // creation order, for stable listings
}

// NewRegistry builds an empty registry with the given ceilings.
func NewRegistry(limits Limits) *Registry {
	return &Registry{
		limits:  limits,
		clients: make(map[mailbox.Handle]*Client),
		rooms:   make(map[string]*Room),
	}
}

// Limits returns the configured ceilings.
func (g *Registry) Limits() Limits {
	return g.limits
}

// FindClient looks a client up by mailbox handle.
func (g *Registry) FindClient(h mailbox.Handle) (*Client, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.clients[h]
	return c, ok
}

// FindOrCreateClient resolves a client by handle, inserting a fresh entry
// for an unknown handle. Returns ErrServerFull at the client ceiling.
func (g *Registry) FindOrCreateClient(h mailbox.Handle, name string) (*Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients[h]; ok {
		return c, nil
	}
	if len(g.clients) >= g.limits.MaxClients {
		return nil, ErrServerFull
	}
	c := &Client{Handle: h, Name: name}
	g.clients[h] = c
	return c, nil
}

// FindOrCreateRoom resolves a room by name, inserting an empty room when
// absent. Returns ErrRoomLimit at the room ceiling. Rooms are never
// deleted, even at zero members.
func (g *Registry) FindOrCreateRoom(name string) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.rooms[name]; ok {
		return r, nil
	}
	if len(g.rooms) >= g.limits.MaxRooms {
		return nil, ErrRoomLimit
	}
	r := &Room{Name: name}
	g.rooms[name] = r
	g.order = append(g.order, r)
	return r, nil
}

// Join adds the client to the room and sets its room reference. The
// caller must have taken the client out of any previous room first; the
// membership relation stays bidirectional at every step.
func (g *Registry) Join(c *Client, r *Room) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(r.Members) >= g.limits.MaxRoomMembers {
		return ErrRoomFull
	}
	r.Members = append(r.Members, c)
	c.Room = r
	return nil
}

// Leave removes the client from its room and clears the reference.
// Returns the room it left, or nil if the client had none.
func (g *Registry) Leave(c *Client) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	r := c.Room
	if r == nil {
		return nil
	}
	r.remove(c)
	c.Room = nil
	return r
}

// RemoveClient leaves any current room and deletes the client entry.
// The handle may be treated as unknown afterwards. Returns the removed
// client and the room it was in, if any.
func (g *Registry) RemoveClient(h mailbox.Handle) (*Client, *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.clients[h]
	if !ok {
		return nil, nil
	}
	r := c.Room
	if r != nil {
		r.remove(c)
		c.Room = nil
	}
	delete(g.clients, h)
	return c, r
}

// Rooms returns the rooms in creation order. The slice is a copy; the
// room pointers are only safe to inspect on the router goroutine.
func (g *Registry) Rooms() []*Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Room, len(g.order))
	copy(out, g.order)
	return out
}

// Snapshot reports occupancy of every room, for the operational surface.
func (g *Registry) Snapshot() []RoomInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]RoomInfo, 0, len(g.order))
	for _, r := range g.order {
		out = append(out, RoomInfo{
			Name:    r.Name,
			Members: len(r.Members),
			Max:     g.limits.MaxRoomMembers,
		})
	}
	return out
}
