package server

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RoomStore owns the set of live rooms.
//
// Lock order is store, then room: implementations may lock a room while holding
// their own lock, so callers must never call into the store while holding a room's mu.
type RoomStore interface {
	// Create allocates a room with a code unique among live rooms. Code selection and
	// insertion happen atomically with respect to other Create calls.
	Create(name string, isPrivate bool, now time.Time) (*Room, error)
	Get(id string) (*Room, bool)
	FindByCode(code string) (*Room, bool)
	// Delete removes the room; deleting an unknown room is a no-op.
	Delete(id string) bool
	// DeleteIf removes the room only if pred holds, evaluated under the room's lock
	// in the same critical section as the removal.
	DeleteIf(id string, pred func(*Room) bool) bool
	List() []*Room
	Len() int
}

type memoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*Room  // roomID -> room
	codes map[string]string // code -> roomID
}

func NewMemoryStore() RoomStore {
	return &memoryStore{
		rooms: make(map[string]*Room),
		codes: make(map[string]string),
	}
}

func (s *memoryStore) Create(name string, isPrivate bool, now time.Time) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, err := GenerateRoomCode(func(code string) bool {
		_, taken := s.codes[code]
		return taken
	})
	if err != nil {
		return nil, err
	}

	room := newRoom(uuid.New().String(), code, name, isPrivate, now)
	s.rooms[room.ID] = room
	s.codes[code] = room.ID
	return room, nil
}

func (s *memoryStore) Get(id string) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	return r, ok
}

func (s *memoryStore) FindByCode(code string) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.codes[strings.ToUpper(code)]
	if !ok {
		return nil, false
	}
	r, ok := s.rooms[id]
	return r, ok
}

func (s *memoryStore) Delete(id string) bool {
	return s.DeleteIf(id, func(*Room) bool { return true })
}

func (s *memoryStore) DeleteIf(id string, pred func(*Room) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[id]
	if !ok {
		return false
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if !pred(room) {
		return false
	}

	delete(s.rooms, id)
	delete(s.codes, room.Code)
	room.deleted = true
	return true
}

func (s *memoryStore) List() []*Room {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

func (s *memoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
