package server

import (
	"sync"
	"testing"

	"connect4-server/internal/connect4"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingArchive struct {
	mu      sync.Mutex
	records []MatchRecord
}

func (a *recordingArchive) Record(rec MatchRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
}

// drawColumns fills the board without ever connecting four; the top row is
// first complete on the 42nd move.
var drawColumns = []int{
	5, 3, 2, 3, 1, 5, 3, 1, 0, 1, 4, 1, 2, 5, 0, 5, 6, 6, 2, 0, 6,
	0, 4, 2, 3, 0, 3, 4, 2, 3, 2, 6, 1, 1, 5, 4, 6, 6, 0, 4, 4, 5,
}

// Test: Host starts once the other player is ready
func TestStartGame(t *testing.T) {
	assert := assert.New(t)
	rig := newTestRig(t)
	created, _ := rig.gm.CreateAndJoin("alice", "R1", "Alice", false)
	_, _ = rig.gm.Join("bob", created.Code, "Bob", false)
	_, _ = rig.gm.Join("sam", created.Code, "Sam", true)

	// Not ready yet.
	assert.False(rig.gm.StartGame("alice", created.ID))

	rig.gm.ToggleReady("bob", created.ID)
	rig.sender.reset()

	// Only the host may start.
	assert.False(rig.gm.StartGame("bob", created.ID))
	assert.True(rig.gm.StartGame("alice", created.ID))

	room := rig.room(t, created.ID)
	assert.Equal(StatePlaying, room.GameState)
	assert.Equal(connect4.NewBoard(), room.Board)
	assert.Equal(0, room.CurrentPlayerIndex)
	assert.Equal(rig.clock.Now(), room.StartedAt)

	for _, id := range []string{"alice", "bob", "sam"} {
		assert.Equal([]string{EventGameStarted}, rig.sender.typesFor(id), id)
	}

	// A second start is a no-op: playing never goes back to playing.
	assert.False(rig.gm.StartGame("alice", created.ID))
}

// Test: The host alone is not a quorum
func TestStartGame_RequiresTwoPlayers(t *testing.T) {
	rig := newTestRig(t)
	created, _ := rig.gm.CreateAndJoin("alice", "R1", "Alice", false)
	_, _ = rig.gm.Join("sam", created.Code, "Sam", true)

	assert.False(t, rig.gm.StartGame("alice", created.ID))
	assert.Equal(t, StateWaiting, rig.room(t, created.ID).GameState)
}

func TestStartGame_UnknownRoom(t *testing.T) {
	rig := newTestRig(t)
	assert.False(t, rig.gm.StartGame("alice", "no-such-room"))
}

func TestApplyMove_AlternatesTurns(t *testing.T) {
	assert := assert.New(t)
	rig := newTestRig(t)
	id := rig.startedGame(t)
	rig.sender.reset()

	assert.Equal(MoveApplied, rig.gm.ApplyMove("alice", id, 3))

	room := rig.room(t, id)
	assert.Equal(1, room.CurrentPlayerIndex)
	assert.Equal(connect4.Player0, room.Board[connect4.Rows-1][3])
	require.Len(t, room.MoveHistory, 1)
	move := room.MoveHistory[0]
	assert.Equal("alice", move.PlayerID)
	assert.Equal("Alice", move.PlayerName)
	assert.Equal(3, move.Column)
	assert.Equal(5, move.Row)

	assert.Equal([]string{EventGameMove, EventRoomUpdate}, rig.sender.typesFor("bob"))

	assert.Equal(MoveApplied, rig.gm.ApplyMove("bob", id, 3))
	assert.Equal(connect4.Player1, room.Board[4][3])
	assert.Equal(0, room.CurrentPlayerIndex)
}

// Test: Moves from anyone but the current player never change state
func TestApplyMove_TurnEnforcement(t *testing.T) {
	rig := newTestRig(t)
	id := rig.startedGame(t)
	_, _ = rig.gm.Join("sam", rig.room(t, id).Code, "Sam", true)
	rig.sender.reset()

	room := rig.room(t, id)
	before := room.Board

	assert.Equal(t, MoveRejected, rig.gm.ApplyMove("bob", id, 0))
	assert.Equal(t, MoveRejected, rig.gm.ApplyMove("sam", id, 0))
	assert.Equal(t, MoveRejected, rig.gm.ApplyMove("stranger", id, 0))

	assert.Equal(t, before, room.Board)
	assert.Equal(t, 0, room.CurrentPlayerIndex)
	assert.Empty(t, room.MoveHistory)
	assert.Equal(t, 0, rig.sender.count())
}

func TestApplyMove_InvalidColumns(t *testing.T) {
	rig := newTestRig(t)
	id := rig.startedGame(t)

	for _, col := range []int{-1, 7, 100} {
		assert.Equal(t, MoveRejected, rig.gm.ApplyMove("alice", id, col), "column %d", col)
	}
	assert.Empty(t, rig.room(t, id).MoveHistory)
}

// Test: A full column never mutates the board or advances the turn
func TestApplyMove_FullColumn(t *testing.T) {
	rig := newTestRig(t)
	id := rig.startedGame(t)

	// Six alternating discs in column 2: no four-in-a-row for either player.
	for i := 0; i < connect4.Rows; i++ {
		player := []string{"alice", "bob"}[i%2]
		require.Equal(t, MoveApplied, rig.gm.ApplyMove(player, id, 2))
	}

	room := rig.room(t, id)
	before := room.Board
	turn := room.CurrentPlayerIndex
	rig.sender.reset()

	assert.Equal(t, MoveRejected, rig.gm.ApplyMove("alice", id, 2))
	assert.Equal(t, before, room.Board)
	assert.Equal(t, turn, room.CurrentPlayerIndex)
	assert.Len(t, room.MoveHistory, connect4.Rows)
	assert.Equal(t, 0, rig.sender.count())
}

func TestApplyMove_BeforeStart(t *testing.T) {
	rig := newTestRig(t)
	created, _ := rig.gm.CreateAndJoin("alice", "R1", "Alice", false)

	assert.Equal(t, MoveRejected, rig.gm.ApplyMove("alice", created.ID, 0))
	assert.Equal(t, MoveRejected, rig.gm.ApplyMove("alice", "no-such-room", 0))
}

// Test: Alice stacks four in column 0 while Bob plays column 1
func TestApplyMove_VerticalWin(t *testing.T) {
	assert := assert.New(t)
	archive := &recordingArchive{}
	rig := newTestRig(t, WithArchive(archive))
	id := rig.startedGame(t)

	for i := 0; i < 3; i++ {
		require.Equal(t, MoveApplied, rig.gm.ApplyMove("alice", id, 0))
		require.Equal(t, MoveApplied, rig.gm.ApplyMove("bob", id, 1))
	}
	rig.sender.reset()

	assert.Equal(MoveWon, rig.gm.ApplyMove("alice", id, 0))

	room := rig.room(t, id)
	assert.Equal(StateFinished, room.GameState)
	for row := 2; row <= 5; row++ {
		assert.Equal(connect4.Player0, room.Board[row][0], "row %d", row)
	}

	msgs := rig.sender.messagesFor("bob")
	require.Len(t, msgs, 3)
	assert.Equal(EventGameWon, msgs[0].Type)
	won := msgs[0].Payload.(GameWonNotification)
	assert.Equal("alice", won.Winner.ID)
	require.NotNil(t, won.Move)
	assert.Equal(2, won.Move.Row)
	assert.Equal(EventGameMove, msgs[1].Type)
	assert.Equal(EventRoomUpdate, msgs[2].Type)

	// Finished is terminal.
	assert.Equal(MoveRejected, rig.gm.ApplyMove("bob", id, 1))
	assert.False(rig.gm.StartGame("alice", id))

	require.Len(t, archive.records, 1)
	rec := archive.records[0]
	assert.Equal(OutcomeWon, rec.Outcome)
	assert.Equal("Alice", rec.WinnerName)
	assert.Equal([]string{"Alice", "Bob"}, rec.Players)
	assert.Len(rec.Moves, 7)
}

// Test: 42 moves without four-in-a-row end in a draw
func TestApplyMove_Draw(t *testing.T) {
	assert := assert.New(t)
	archive := &recordingArchive{}
	rig := newTestRig(t, WithArchive(archive))
	id := rig.startedGame(t)

	players := []string{"alice", "bob"}
	for i, col := range drawColumns[:len(drawColumns)-1] {
		require.Equal(t, MoveApplied, rig.gm.ApplyMove(players[i%2], id, col), "move %d", i+1)
	}
	rig.sender.reset()

	last := len(drawColumns) - 1
	assert.Equal(MoveDraw, rig.gm.ApplyMove(players[last%2], id, drawColumns[last]))

	room := rig.room(t, id)
	assert.Equal(StateFinished, room.GameState)
	assert.Len(room.MoveHistory, connect4.Rows*connect4.Columns)
	assert.Equal([]string{EventGameDraw, EventGameMove, EventRoomUpdate}, rig.sender.typesFor("alice"))
	assert.NotContains(rig.sender.typesFor("alice"), EventGameWon)

	require.Len(t, archive.records, 1)
	assert.Equal(OutcomeDraw, archive.records[0].Outcome)
	assert.Empty(archive.records[0].WinnerName)
}

// Test: Concurrent moves by both players never double-apply a turn
// Why: The room lock is the only thing serialising a room's mutations
func TestApplyMove_ConcurrentSubmissions(t *testing.T) {
	rig := newTestRig(t)
	id := rig.startedGame(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, p := range []string{"alice", "bob"} {
			wg.Add(1)
			go func(player string, col int) {
				defer wg.Done()
				rig.gm.ApplyMove(player, id, col)
			}(p, i%connect4.Columns)
		}
	}
	wg.Wait()

	room := rig.room(t, id)
	room.mu.Lock()
	defer room.mu.Unlock()

	// Moves strictly alternate between the two players.
	for i, m := range room.MoveHistory {
		assert.Equal(t, []string{"alice", "bob"}[i%2], m.PlayerID, "move %d", i)
	}
	discs := 0
	for r := 0; r < connect4.Rows; r++ {
		for c := 0; c < connect4.Columns; c++ {
			if room.Board[r][c] != connect4.Empty {
				discs++
			}
		}
	}
	assert.Equal(t, len(room.MoveHistory), discs)
}
