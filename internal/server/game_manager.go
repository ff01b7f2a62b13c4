package server

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"connect4-server/internal/broker"

	"go.uber.org/zap"
)

const (
	maxRoomNameLength   = 50
	maxPlayerNameLength = 30
	maxRoomCodeLength   = 10
)

// GameManager owns every room mutation: membership (create, join, ready, leave)
// here and turn play in turns.go. Each operation runs under the room's lock and
// emits its broadcasts before releasing it, so all subscribers of a room observe
// that room's events in the same order.
type GameManager struct {
	store   RoomStore
	sender  Sender
	janitor *Janitor
	archive MatchRecorder
	events  broker.Publisher
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*GameManager)

func WithArchive(archive MatchRecorder) Option {
	return func(gm *GameManager) { gm.archive = archive }
}

func WithPublisher(p broker.Publisher) Option {
	return func(gm *GameManager) { gm.events = p }
}

func WithClock(now func() time.Time) Option {
	return func(gm *GameManager) { gm.now = now }
}

func NewGameManager(store RoomStore, sender Sender, janitor *Janitor, logger *zap.Logger, opts ...Option) *GameManager {
	gm := &GameManager{
		store:   store,
		sender:  sender,
		janitor: janitor,
		events:  broker.Nop{},
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(gm)
	}

	janitor.OnDelete(func(roomID, code, reason string) {
		gm.publish(broker.SubjectRoomDeleted, broker.RoomEvent{
			RoomID: roomID, RoomCode: code, Reason: reason, At: gm.now(),
		})
	})
	return gm
}

// cleanName trims value and checks it is non-empty and at most max characters.
func cleanName(value string, max int) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" || utf8.RuneCountInString(value) > max {
		return "", false
	}
	return value, true
}

// CreateAndJoin creates a room with connectionID as its host player and sends the
// creator a room-created snapshot.
func (gm *GameManager) CreateAndJoin(connectionID, roomName, playerName string, isPrivate bool) (RoomView, error) {
	roomName, okRoom := cleanName(roomName, maxRoomNameLength)
	playerName, okPlayer := cleanName(playerName, maxPlayerNameLength)
	if !okRoom || !okPlayer {
		return RoomView{}, newError(ErrValidation, "Invalid room name or player name")
	}

	now := gm.now()
	room, err := gm.store.Create(roomName, isPrivate, now)
	if err != nil {
		gm.logger.Error("failed to create room", zap.String("conn_id", connectionID), zap.Error(err))
		return RoomView{}, err
	}

	room.mu.Lock()
	if room.deleted {
		room.mu.Unlock()
		return RoomView{}, newError(ErrNotFound, "Room not found")
	}
	room.Players = append(room.Players, &Participant{
		ID:       connectionID,
		Name:     playerName,
		IsHost:   true,
		JoinedAt: now,
	})
	room.HostID = connectionID
	room.ConnectionCount = 1
	room.touch(now)

	view := room.Snapshot()
	gm.sender.Send(connectionID, ServerMessage{Type: EventRoomCreated, Payload: view})
	room.mu.Unlock()

	gm.logger.Info("room created",
		zap.String("room_id", room.ID), zap.String("room_code", room.Code), zap.String("conn_id", connectionID))
	gm.publish(broker.SubjectRoomCreated, broker.RoomEvent{
		RoomID: room.ID, RoomCode: room.Code, RoomName: roomName, At: now,
	})
	return view, nil
}

// Join adds connectionID to the room with the given code, as a player or as a
// spectator. Spectators are never capacity limited.
func (gm *GameManager) Join(connectionID, roomCode, playerName string, asSpectator bool) (RoomView, error) {
	code, okCode := cleanName(roomCode, maxRoomCodeLength)
	playerName, okPlayer := cleanName(playerName, maxPlayerNameLength)
	if !okCode || !okPlayer {
		return RoomView{}, newError(ErrValidation, "Invalid room code or player name")
	}

	code = NormalizeRoomCode(code)
	if ValidateRoomCode(code) != nil {
		return RoomView{}, newError(ErrNotFound, "Room not found")
	}
	room, ok := gm.store.FindByCode(code)
	if !ok {
		return RoomView{}, newError(ErrNotFound, "Room not found")
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.deleted {
		return RoomView{}, newError(ErrNotFound, "Room not found")
	}
	if !asSpectator && len(room.Players) >= room.MaxPlayers {
		return RoomView{}, newError(ErrRoomFull, "Room is full")
	}
	if room.hasParticipant(connectionID) {
		return RoomView{}, newError(ErrDuplicateParticipant, "You are already in this room")
	}
	// Seats are fixed once a game starts; latecomers can only watch.
	if !asSpectator && room.GameState != StateWaiting {
		return RoomView{}, newError(ErrRoomFull, "Game already in progress")
	}

	now := gm.now()
	p := &Participant{ID: connectionID, Name: playerName, JoinedAt: now}
	if asSpectator {
		room.Spectators = append(room.Spectators, p)
	} else {
		room.Players = append(room.Players, p)
	}
	room.ConnectionCount++
	room.touch(now)
	gm.janitor.Cancel(room.ID)

	gm.broadcast(room, ServerMessage{
		Type:    EventPlayerJoined,
		Payload: ParticipantJoinedNotification{PlayerView: toPlayerView(p), Spectator: asSpectator},
	}, connectionID)

	view := room.Snapshot()
	gm.sender.Send(connectionID, ServerMessage{Type: EventRoomJoined, Payload: view})

	gm.logger.Info("participant joined",
		zap.String("room_id", room.ID), zap.String("room_code", room.Code),
		zap.String("conn_id", connectionID), zap.Bool("spectator", asSpectator))
	return view, nil
}

// ToggleReady flips a non-host player's ready flag. Hosts, spectators and unknown
// rooms are ignored.
func (gm *GameManager) ToggleReady(connectionID, roomID string) {
	room, ok := gm.store.Get(roomID)
	if !ok {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.deleted {
		return
	}
	idx := room.playerIndex(connectionID)
	if idx < 0 || room.Players[idx].IsHost {
		return
	}

	room.Players[idx].IsReady = !room.Players[idx].IsReady
	room.touch(gm.now())
	gm.broadcast(room, ServerMessage{Type: EventRoomUpdate, Payload: room.Snapshot()}, "")
}

// Leave removes connectionID from the room. It reports whether the connection was
// a participant. A player leaving a game in progress forfeits it. An emptied room
// is handed to the janitor for deferred deletion.
func (gm *GameManager) Leave(connectionID, roomID string) bool {
	room, ok := gm.store.Get(roomID)
	if !ok {
		return false
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.deleted {
		return false
	}

	now := gm.now()
	pi := room.playerIndex(connectionID)
	si := room.spectatorIndex(connectionID)
	switch {
	case pi >= 0:
		if room.GameState == StatePlaying {
			gm.forfeit(room, pi, now)
		}
		room.Players = append(room.Players[:pi], room.Players[pi+1:]...)
		room.CurrentPlayerIndex = 0
	case si >= 0:
		room.Spectators = append(room.Spectators[:si], room.Spectators[si+1:]...)
	default:
		return false
	}

	room.ConnectionCount = max(0, room.ConnectionCount-1)
	room.touch(now)

	if room.HostID == connectionID {
		room.HostID = ""
		if len(room.Players) > 0 {
			next := room.Players[0]
			next.IsHost = true
			room.HostID = next.ID
			gm.logger.Info("host reassigned",
				zap.String("room_id", room.ID), zap.String("room_code", room.Code), zap.String("conn_id", next.ID))
		}
	}

	gm.logger.Info("participant left",
		zap.String("room_id", room.ID), zap.String("room_code", room.Code), zap.String("conn_id", connectionID))

	if room.isEmpty() {
		gm.janitor.Schedule(room.ID)
		return true
	}

	gm.broadcast(room, ServerMessage{Type: EventPlayerLeft, Payload: PlayerLeftNotification{PlayerID: connectionID}}, "")
	gm.broadcast(room, ServerMessage{Type: EventRoomUpdate, Payload: room.Snapshot()}, "")
	return true
}

// broadcast sends msg to every participant except the given connection. Caller
// holds room.mu.
func (gm *GameManager) broadcast(room *Room, msg ServerMessage, except string) {
	for _, id := range room.participantIDs() {
		if id == except {
			continue
		}
		gm.sender.Send(id, msg)
	}
}

func (gm *GameManager) publish(subject string, payload any) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := gm.events.Publish(ctx, subject, payload); err != nil {
		gm.logger.Warn("failed to publish lifecycle event", zap.String("subject", subject), zap.Error(err))
	}
}
