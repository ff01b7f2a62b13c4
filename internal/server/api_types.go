package server

import (
	"time"

	"connect4-server/internal/connect4"
)

// ============================================================================
// ERROR RESPONSES
// ============================================================================
type ErrorMessage struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ============================================================================
// CREATE ROOM (create-room)
// ============================================================================
type CreateRoomRequest struct {
	RoomName   string `json:"roomName"`
	PlayerName string `json:"playerName"`
	IsPrivate  bool   `json:"isPrivate"`
}

// ============================================================================
// JOIN ROOM (join-room)
// ============================================================================
type JoinRoomRequest struct {
	RoomCode    string `json:"roomCode"`
	PlayerName  string `json:"playerName"`
	AsSpectator bool   `json:"asSpectator"`
}

// ============================================================================
// LEAVE / TOGGLE READY / START (leave-room, toggle-ready, start-game)
// ============================================================================
type RoomRequest struct {
	RoomID string `json:"roomId"`
}

// ============================================================================
// GAME MOVE (game-move)
// ============================================================================
type GameMoveRequest struct {
	RoomID string `json:"roomId"`
	Column *int   `json:"column"`
}

// ============================================================================
// ROOM SNAPSHOT (room-created, room-joined, room-update, game-started)
// ============================================================================
type RoomView struct {
	ID                 string          `json:"id"`
	Code               string          `json:"code"`
	Name               string          `json:"name"`
	HostID             string          `json:"hostId"`
	Players            []PlayerView    `json:"players"`
	Spectators         []SpectatorView `json:"spectators"`
	MaxPlayers         int             `json:"maxPlayers"`
	IsPrivate          bool            `json:"isPrivate"`
	GameState          GameState       `json:"gameState"`
	Board              connect4.Board  `json:"board"`
	CurrentPlayerIndex int             `json:"currentPlayerIndex"`
	MoveHistory        []MoveView      `json:"moveHistory"`
	CreatedAt          time.Time       `json:"createdAt"`
	LastActivityAt     time.Time       `json:"lastActivityAt"`
	ConnectionCount    int             `json:"connectionCount"`
}

type PlayerView struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	IsHost   bool      `json:"isHost"`
	IsReady  bool      `json:"isReady"`
	JoinedAt time.Time `json:"joinedAt"`
}

type SpectatorView struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

type MoveView struct {
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Column     int       `json:"column"`
	Row        int       `json:"row"`
	Timestamp  time.Time `json:"timestamp"`
}

// ============================================================================
// BROADCASTS (player-joined, player-left, game-won, game-draw)
// ============================================================================

// ParticipantJoinedNotification is the player-joined payload; spectator tells
// the room which list the newcomer went to.
type ParticipantJoinedNotification struct {
	PlayerView
	Spectator bool `json:"spectator"`
}

type PlayerLeftNotification struct {
	PlayerID string `json:"playerId"`
}

// GameWonNotification is the game-won payload. A forfeit carries no move.
type GameWonNotification struct {
	Winner  PlayerView `json:"winner"`
	Move    *MoveView  `json:"move,omitempty"`
	Forfeit bool       `json:"forfeit,omitempty"`
}

type GameDrawNotification struct {
	Move MoveView `json:"move"`
}

// ============================================================================
// HTTP REPORTING (/health, /stats, /matches)
// ============================================================================
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Uptime      float64   `json:"uptime"`
	Rooms       int       `json:"rooms"`
	Connections int       `json:"connections"`
}

type StatsResponse struct {
	TotalRooms      int     `json:"totalRooms"`
	ActiveGames     int     `json:"activeGames"`
	TotalPlayers    int     `json:"totalPlayers"`
	TotalSpectators int     `json:"totalSpectators"`
	Connections     int     `json:"connections"`
	Uptime          float64 `json:"uptime"`
	ArchivedMatches *int64  `json:"archivedMatches,omitempty"`
}

// Snapshot converts the room into its wire form. Caller holds r.mu.
func (r *Room) Snapshot() RoomView {
	players := make([]PlayerView, 0, len(r.Players))
	for _, p := range r.Players {
		players = append(players, toPlayerView(p))
	}
	spectators := make([]SpectatorView, 0, len(r.Spectators))
	for _, s := range r.Spectators {
		spectators = append(spectators, SpectatorView{ID: s.ID, Name: s.Name, JoinedAt: s.JoinedAt})
	}
	moves := make([]MoveView, 0, len(r.MoveHistory))
	for _, m := range r.MoveHistory {
		moves = append(moves, toMoveView(m))
	}

	return RoomView{
		ID:                 r.ID,
		Code:               r.Code,
		Name:               r.Name,
		HostID:             r.HostID,
		Players:            players,
		Spectators:         spectators,
		MaxPlayers:         r.MaxPlayers,
		IsPrivate:          r.IsPrivate,
		GameState:          r.GameState,
		Board:              r.Board,
		CurrentPlayerIndex: r.CurrentPlayerIndex,
		MoveHistory:        moves,
		CreatedAt:          r.CreatedAt,
		LastActivityAt:     r.LastActivityAt,
		ConnectionCount:    r.ConnectionCount,
	}
}

func toPlayerView(p *Participant) PlayerView {
	return PlayerView{
		ID:       p.ID,
		Name:     p.Name,
		IsHost:   p.IsHost,
		IsReady:  p.IsReady,
		JoinedAt: p.JoinedAt,
	}
}

func toMoveView(m Move) MoveView {
	return MoveView{
		PlayerID:   m.PlayerID,
		PlayerName: m.PlayerName,
		Column:     m.Column,
		Row:        m.Row,
		Timestamp:  m.Timestamp,
	}
}
