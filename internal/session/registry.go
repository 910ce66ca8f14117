// Package session tracks which breakout rooms belong to which guild in
// memory. It is a best-effort cache, lost on restart; callers fall back to a
// prefix scan of live channels or to the persisted operation params.
package session

import "sync"

// Room is a lightweight reference to a voice channel.
type Room struct {
	ID   string
	Name string
}

type guildSession struct {
	rooms    []Room
	mainRoom *Room
}

// Registry holds per-guild breakout sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*guildSession
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*guildSession),
	}
}

func (r *Registry) session(guildID string) *guildSession {
	s, ok := r.sessions[guildID]
	if !ok {
		s = &guildSession{}
		r.sessions[guildID] = s
	}
	return s
}

// StoreRooms replaces the guild's tracked breakout rooms.
func (r *Registry) StoreRooms(guildID string, rooms []Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session(guildID).rooms = append([]Room(nil), rooms...)
}

// Rooms returns the guild's tracked rooms, empty when none.
func (r *Registry) Rooms(guildID string) []Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[guildID]
	if !ok {
		return nil
	}
	return append([]Room(nil), s.rooms...)
}

// SetMainRoom records the room participants started in.
func (r *Registry) SetMainRoom(guildID string, room Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session(guildID).mainRoom = &room
}

// MainRoom returns the guild's main room, or false when not set.
func (r *Registry) MainRoom(guildID string) (Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[guildID]
	if !ok || s.mainRoom == nil {
		return Room{}, false
	}
	return *s.mainRoom, true
}

// ClearSession drops all session state for the guild.
func (r *Registry) ClearSession(guildID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, guildID)
}
