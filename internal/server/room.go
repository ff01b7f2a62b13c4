package server

import (
	"sync"
	"time"

	"connect4-server/internal/connect4"
)

const MaxPlayers = 2

type GameState string

const (
	StateWaiting  GameState = "waiting"
	StatePlaying  GameState = "playing"
	StateFinished GameState = "finished"
)

// Participant is either a player (ordered, turn-taking) or a spectator. Its ID is
// the connection ID it joined with.
type Participant struct {
	ID       string
	Name     string
	IsHost   bool
	IsReady  bool
	JoinedAt time.Time
}

type Move struct {
	PlayerID   string
	PlayerName string
	Column     int
	Row        int
	Timestamp  time.Time
}

// Room is one game session. All fields are guarded by mu; the store hands out
// pointers and callers lock before reading or writing.
type Room struct {
	mu sync.Mutex

	ID        string
	Code      string
	Name      string
	IsPrivate bool

	HostID     string
	Players    []*Participant
	Spectators []*Participant
	MaxPlayers int

	GameState          GameState
	Board              connect4.Board
	CurrentPlayerIndex int
	MoveHistory        []Move

	CreatedAt       time.Time
	LastActivityAt  time.Time
	StartedAt       time.Time
	ConnectionCount int

	// deleted is set under mu when the store drops the room, so holders of a stale
	// pointer can tell the room is gone.
	deleted bool
}

func newRoom(id, code, name string, isPrivate bool, now time.Time) *Room {
	return &Room{
		ID:             id,
		Code:           code,
		Name:           name,
		IsPrivate:      isPrivate,
		Players:        []*Participant{},
		Spectators:     []*Participant{},
		MaxPlayers:     MaxPlayers,
		GameState:      StateWaiting,
		Board:          connect4.NewBoard(),
		MoveHistory:    []Move{},
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

func (r *Room) isEmpty() bool {
	return len(r.Players) == 0 && len(r.Spectators) == 0
}

func (r *Room) playerIndex(id string) int {
	for i, p := range r.Players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (r *Room) spectatorIndex(id string) int {
	for i, s := range r.Spectators {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (r *Room) hasParticipant(id string) bool {
	return r.playerIndex(id) >= 0 || r.spectatorIndex(id) >= 0
}

// participantIDs lists every connection subscribed to the room.
func (r *Room) participantIDs() []string {
	ids := make([]string, 0, len(r.Players)+len(r.Spectators))
	for _, p := range r.Players {
		ids = append(ids, p.ID)
	}
	for _, s := range r.Spectators {
		ids = append(ids, s.ID)
	}
	return ids
}

func (r *Room) touch(now time.Time) {
	r.LastActivityAt = now
}

// idleSince is the reference point for the janitor's idle threshold.
func (r *Room) idleSince() time.Time {
	if r.LastActivityAt.IsZero() {
		return r.CreatedAt
	}
	return r.LastActivityAt
}
