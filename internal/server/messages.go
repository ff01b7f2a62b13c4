package server

import (
	"encoding/json"
	"fmt"
)

type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type ServerMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Inbound event types.
const (
	EventPing        = "ping"
	EventCreateRoom  = "create-room"
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventToggleReady = "toggle-ready"
	EventStartGame   = "start-game"
	EventGameMove    = "game-move"
)

// Outbound event types.
const (
	EventPong         = "pong"
	EventRoomCreated  = "room-created"
	EventRoomJoined   = "room-joined"
	EventPlayerJoined = "player-joined"
	EventPlayerLeft   = "player-left"
	EventRoomUpdate   = "room-update"
	EventGameStarted  = "game-started"
	EventGameWon      = "game-won"
	EventGameDraw     = "game-draw"
	EventError        = "error"
)

// ValidateMessageType checks if a message type is recognized.
func ValidateMessageType(msgType string) error {
	switch msgType {
	case EventPing, EventCreateRoom, EventJoinRoom, EventLeaveRoom,
		EventToggleReady, EventStartGame, EventGameMove:
		return nil
	}
	return fmt.Errorf("Unknown message type: %s", msgType)
}
