package server

import (
	"time"

	"connect4-server/internal/broker"
	"connect4-server/internal/connect4"

	"go.uber.org/zap"
)

// MoveResult says what ApplyMove did with a submitted move.
type MoveResult int

const (
	// MoveRejected covers every silently ignored move: wrong state, wrong turn,
	// bad column, full column, or unknown room.
	MoveRejected MoveResult = iota
	MoveApplied
	MoveWon
	MoveDraw
)

// StartGame moves the room from waiting to playing when the host asks and every
// player (at least two) is ready; the host counts as ready. Otherwise it is a no-op.
func (gm *GameManager) StartGame(connectionID, roomID string) bool {
	room, ok := gm.store.Get(roomID)
	if !ok {
		return false
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.deleted || room.HostID != connectionID || room.GameState != StateWaiting {
		return false
	}

	ready := 0
	for _, p := range room.Players {
		if p.IsReady || p.IsHost {
			ready++
		}
	}
	if ready < 2 || ready != len(room.Players) {
		return false
	}

	now := gm.now()
	room.GameState = StatePlaying
	room.Board = connect4.NewBoard()
	room.CurrentPlayerIndex = 0
	room.MoveHistory = []Move{}
	room.StartedAt = now
	room.touch(now)

	gm.broadcast(room, ServerMessage{Type: EventGameStarted, Payload: room.Snapshot()}, "")

	gm.logger.Info("game started", zap.String("room_id", room.ID), zap.String("room_code", room.Code))
	gm.publish(broker.SubjectGameStarted, broker.RoomEvent{
		RoomID: room.ID, RoomCode: room.Code, RoomName: room.Name, At: now,
	})
	return true
}

// ApplyMove drops the current player's disc into column. Anything other than a
// legal move by the player whose turn it is leaves the room untouched and emits
// nothing.
func (gm *GameManager) ApplyMove(connectionID, roomID string, column int) MoveResult {
	room, ok := gm.store.Get(roomID)
	if !ok {
		return MoveRejected
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.deleted || room.GameState != StatePlaying {
		return MoveRejected
	}
	idx := room.CurrentPlayerIndex
	if idx < 0 || idx >= len(room.Players) || room.Players[idx].ID != connectionID {
		return MoveRejected
	}

	row, board, err := room.Board.Drop(column, idx)
	if err != nil {
		return MoveRejected
	}

	now := gm.now()
	player := room.Players[idx]
	move := Move{
		PlayerID:   player.ID,
		PlayerName: player.Name,
		Column:     column,
		Row:        row,
		Timestamp:  now,
	}
	room.Board = board
	room.MoveHistory = append(room.MoveHistory, move)

	result := MoveApplied
	switch {
	case connect4.CheckWin(board, row, column, idx):
		result = MoveWon
		room.GameState = StateFinished
		mv := toMoveView(move)
		gm.broadcast(room, ServerMessage{
			Type:    EventGameWon,
			Payload: GameWonNotification{Winner: toPlayerView(player), Move: &mv},
		}, "")
	case connect4.CheckDraw(board):
		result = MoveDraw
		room.GameState = StateFinished
		gm.broadcast(room, ServerMessage{Type: EventGameDraw, Payload: GameDrawNotification{Move: toMoveView(move)}}, "")
	default:
		room.CurrentPlayerIndex = (idx + 1) % len(room.Players)
	}

	room.touch(now)
	gm.broadcast(room, ServerMessage{Type: EventGameMove, Payload: toMoveView(move)}, "")
	gm.broadcast(room, ServerMessage{Type: EventRoomUpdate, Payload: room.Snapshot()}, "")

	if result != MoveApplied {
		gm.finish(room, result, player, now)
	}
	return result
}

// forfeit ends a game in progress because the player at leaver is leaving; the
// remaining player wins. Caller holds room.mu and has not yet removed the leaver.
func (gm *GameManager) forfeit(room *Room, leaver int, now time.Time) {
	var winner *Participant
	for i, p := range room.Players {
		if i != leaver {
			winner = p
			break
		}
	}

	room.GameState = StateFinished
	leaverID := room.Players[leaver].ID
	if winner == nil {
		gm.finish(room, MoveDraw, nil, now)
		return
	}

	gm.broadcast(room, ServerMessage{
		Type:    EventGameWon,
		Payload: GameWonNotification{Winner: toPlayerView(winner), Forfeit: true},
	}, leaverID)
	gm.finish(room, MoveWon, winner, now)
}

// finish logs, archives and announces a finished game. Caller holds room.mu.
func (gm *GameManager) finish(room *Room, result MoveResult, last *Participant, now time.Time) {
	rec := MatchRecord{
		RoomID:     room.ID,
		RoomCode:   room.Code,
		RoomName:   room.Name,
		Outcome:    OutcomeDraw,
		Players:    make([]string, 0, len(room.Players)),
		Moves:      make([]MoveView, 0, len(room.MoveHistory)),
		StartedAt:  room.StartedAt,
		FinishedAt: now,
	}
	if result == MoveWon {
		rec.Outcome = OutcomeWon
		rec.WinnerName = last.Name
	}
	for _, p := range room.Players {
		rec.Players = append(rec.Players, p.Name)
	}
	for _, m := range room.MoveHistory {
		rec.Moves = append(rec.Moves, toMoveView(m))
	}

	gm.logger.Info("game finished",
		zap.String("room_id", room.ID), zap.String("room_code", room.Code),
		zap.String("outcome", rec.Outcome), zap.String("winner", rec.WinnerName), zap.Int("moves", len(rec.Moves)))

	if gm.archive != nil {
		gm.archive.Record(rec)
	}
	gm.publish(broker.SubjectGameFinished, broker.GameFinishedEvent{
		RoomID:     room.ID,
		RoomCode:   room.Code,
		Outcome:    rec.Outcome,
		WinnerName: rec.WinnerName,
		Moves:      len(rec.Moves),
		At:         now,
	})
}
