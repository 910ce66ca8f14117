package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/britzoneid/BritzoneBot/internal/planner"
	"github.com/britzoneid/BritzoneBot/internal/rooms"
	"github.com/britzoneid/BritzoneBot/internal/session"
)

// fakePlatform is an in-memory Platform for executor tests.
type fakePlatform struct {
	mu sync.Mutex

	nextID    int
	rooms     map[string]session.Room   // room ID -> room
	occupants map[string][]string       // room ID -> member IDs
	members   map[string]planner.Member // member ID -> member
	companion map[string]string         // room name -> text channel ID
	messages  map[string][]string       // channel ID -> sent messages

	createdNames   []string // names created this run, in order
	moves          []string // "member->room" this run, in order
	failMoves      map[string]bool
	failVoiceRooms error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		rooms:     make(map[string]session.Room),
		occupants: make(map[string][]string),
		members:   make(map[string]planner.Member),
		companion: make(map[string]string),
		messages:  make(map[string][]string),
		failMoves: make(map[string]bool),
	}
}

func (f *fakePlatform) addRoom(id, name string) session.Room {
	f.mu.Lock()
	defer f.mu.Unlock()
	room := session.Room{ID: id, Name: name}
	f.rooms[id] = room
	return room
}

func (f *fakePlatform) addMember(id, name string) planner.Member {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := planner.Member{ID: id, DisplayName: name}
	f.members[id] = m
	return m
}

func (f *fakePlatform) placeMember(roomID, memberID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.occupants[roomID] = append(f.occupants[roomID], memberID)
}

func (f *fakePlatform) CreateVoiceRoom(_ context.Context, _, name string) (session.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	room := session.Room{ID: fmt.Sprintf("room-%d", f.nextID), Name: name}
	f.rooms[room.ID] = room
	f.createdNames = append(f.createdNames, name)
	return room, nil
}

func (f *fakePlatform) DeleteRoom(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[roomID]; !ok {
		return rooms.ErrRoomNotFound
	}
	delete(f.rooms, roomID)
	delete(f.occupants, roomID)
	return nil
}

func (f *fakePlatform) VoiceRooms(_ context.Context, _ string) ([]session.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failVoiceRooms != nil {
		return nil, f.failVoiceRooms
	}
	var all []session.Room
	for _, room := range f.rooms {
		all = append(all, room)
	}
	return all, nil
}

func (f *fakePlatform) RoomOccupants(_ context.Context, _, roomID string) ([]planner.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var members []planner.Member
	for _, id := range f.occupants[roomID] {
		if m, ok := f.members[id]; ok {
			members = append(members, m)
		}
	}
	return members, nil
}

func (f *fakePlatform) MoveMember(_ context.Context, _, memberID, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMoves[memberID] {
		return fmt.Errorf("move rejected for %s", memberID)
	}
	for from, ids := range f.occupants {
		for i, id := range ids {
			if id == memberID {
				f.occupants[from] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
	}
	f.occupants[roomID] = append(f.occupants[roomID], memberID)
	f.moves = append(f.moves, memberID+"->"+roomID)
	return nil
}

func (f *fakePlatform) ResolveMember(_ context.Context, _, memberID string) (planner.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[memberID]
	if !ok {
		return planner.Member{}, rooms.ErrMemberNotFound
	}
	return m, nil
}

func (f *fakePlatform) SendMessage(_ context.Context, channelID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[channelID] = append(f.messages[channelID], content)
	return nil
}

func (f *fakePlatform) CompanionTextChannel(_ context.Context, _, roomName string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.companion[roomName]
	return ch, ok
}
