package connect4_test

import (
	"connect4-server/internal/connect4"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drawSequence fills the whole board with alternating moves and never lines up four.
var drawSequence = []int{
	5, 3, 2, 3, 1, 5, 3, 1, 0, 1, 4, 1, 2, 5, 0, 5, 6, 6, 2, 0, 6,
	0, 4, 2, 3, 0, 3, 4, 2, 3, 2, 6, 1, 1, 5, 4, 6, 6, 0, 4, 4, 5,
}

func TestDropLandsOnLowestEmptyRow(t *testing.T) {
	b := connect4.NewBoard()

	for i := 0; i < connect4.Rows; i++ {
		row, next, err := b.Drop(3, i%2)
		require.NoError(t, err)
		assert.Equal(t, connect4.Rows-1-i, row)
		assert.Equal(t, connect4.CellFor(i%2), next[row][3])
		b = next
	}
}

func TestDropDoesNotMutateReceiver(t *testing.T) {
	b := connect4.NewBoard()

	_, next, err := b.Drop(0, 0)
	require.NoError(t, err)

	assert.Equal(t, connect4.Empty, b[connect4.Rows-1][0])
	assert.Equal(t, connect4.Player0, next[connect4.Rows-1][0])
}

func TestDropFullColumn(t *testing.T) {
	b := connect4.NewBoard()
	for i := 0; i < connect4.Rows; i++ {
		_, b, _ = b.Drop(6, i%2)
	}

	row, next, err := b.Drop(6, 0)
	assert.True(t, errors.Is(err, connect4.ErrColumnFull))
	assert.Equal(t, -1, row)
	assert.Equal(t, b, next)
}

func TestDropInvalidColumn(t *testing.T) {
	b := connect4.NewBoard()

	for _, col := range []int{-1, connect4.Columns, 100} {
		_, _, err := b.Drop(col, 0)
		assert.ErrorIs(t, err, connect4.ErrInvalidColumn, "column %d", col)
	}
}

func TestCheckWin(t *testing.T) {
	tests := []struct {
		name  string
		cells [][2]int // row, column occupied by player 0
		row   int
		col   int
		want  bool
	}{
		{name: "horizontal", cells: [][2]int{{5, 0}, {5, 1}, {5, 2}, {5, 3}}, row: 5, col: 3, want: true},
		{name: "horizontal middle placement", cells: [][2]int{{5, 1}, {5, 2}, {5, 3}, {5, 4}}, row: 5, col: 2, want: true},
		{name: "vertical", cells: [][2]int{{5, 0}, {4, 0}, {3, 0}, {2, 0}}, row: 2, col: 0, want: true},
		{name: "diagonal down-right", cells: [][2]int{{2, 0}, {3, 1}, {4, 2}, {5, 3}}, row: 2, col: 0, want: true},
		{name: "diagonal down-left", cells: [][2]int{{2, 6}, {3, 5}, {4, 4}, {5, 3}}, row: 4, col: 4, want: true},
		{name: "three only", cells: [][2]int{{5, 0}, {5, 1}, {5, 2}}, row: 5, col: 2, want: false},
		{name: "gap breaks line", cells: [][2]int{{5, 0}, {5, 1}, {5, 3}, {5, 4}}, row: 5, col: 4, want: false},
		{name: "five in a row", cells: [][2]int{{5, 0}, {5, 1}, {5, 2}, {5, 3}, {5, 4}}, row: 5, col: 2, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b connect4.Board
			for _, c := range tt.cells {
				b[c[0]][c[1]] = connect4.Player0
			}
			assert.Equal(t, tt.want, connect4.CheckWin(b, tt.row, tt.col, 0))
			assert.False(t, connect4.CheckWin(b, tt.row, tt.col, 1), "other player never wins on this cell")
		})
	}
}

func TestCheckWinIgnoresOtherPlayersDiscs(t *testing.T) {
	var b connect4.Board
	b[5][0] = connect4.Player0
	b[5][1] = connect4.Player0
	b[5][2] = connect4.Player1
	b[5][3] = connect4.Player0

	assert.False(t, connect4.CheckWin(b, 5, 3, 0))
}

// bruteForceWin scans every line on the board that passes through (row, col).
func bruteForceWin(b connect4.Board, row, col int, want connect4.Cell) bool {
	dirs := [][2]int{{0, 1}, {1, 0}, {1, 1}, {1, -1}}
	for _, d := range dirs {
		for start := -(connect4.ConnectN - 1); start <= 0; start++ {
			all := true
			for k := 0; k < connect4.ConnectN; k++ {
				r := row + d[0]*(start+k)
				c := col + d[1]*(start+k)
				if r < 0 || r >= connect4.Rows || c < 0 || c >= connect4.Columns || b[r][c] != want {
					all = false
					break
				}
			}
			if all {
				return true
			}
		}
	}
	return false
}

func TestCheckWinMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 1024))

	for game := 0; game < 2000; game++ {
		b := connect4.NewBoard()
		player := 0
		for move := 0; move < connect4.Rows*connect4.Columns; move++ {
			col := rng.IntN(connect4.Columns)
			row, next, err := b.Drop(col, player)
			if err != nil {
				continue
			}
			b = next

			got := connect4.CheckWin(b, row, col, player)
			want := bruteForceWin(b, row, col, connect4.CellFor(player))
			require.Equal(t, want, got, "game %d move %d at (%d,%d)", game, move, row, col)
			if got {
				break
			}
			player = 1 - player
		}
	}
}

func TestCheckDrawOnlyWhenTopRowFull(t *testing.T) {
	b := connect4.NewBoard()
	player := 0

	for i, col := range drawSequence {
		row, next, err := b.Drop(col, player)
		require.NoError(t, err, "move %d", i)
		b = next

		require.False(t, connect4.CheckWin(b, row, col, player), "move %d must not win", i)
		if i < len(drawSequence)-1 {
			assert.False(t, connect4.CheckDraw(b), "draw signalled early at move %d", i)
		}
		player = 1 - player
	}

	assert.True(t, connect4.CheckDraw(b))
}

func TestCellJSON(t *testing.T) {
	var b connect4.Board
	b[5][0] = connect4.Player0
	b[5][1] = connect4.Player1

	data, err := json.Marshal(b[5][:3])
	require.NoError(t, err)
	assert.JSONEq(t, `[0, 1, null]`, string(data))

	var cells []connect4.Cell
	require.NoError(t, json.Unmarshal(data, &cells))
	assert.Equal(t, []connect4.Cell{connect4.Player0, connect4.Player1, connect4.Empty}, cells)
}
