package connect4

import (
	"encoding/json"
	"errors"
)

const (
	Rows     = 6
	Columns  = 7
	ConnectN = 4
)

var (
	ErrColumnFull    = errors.New("column is full")
	ErrInvalidColumn = errors.New("column out of range")
)

// Cell holds the occupant of one board position. The zero value is an empty cell.
type Cell uint8

const (
	Empty Cell = iota
	Player0
	Player1
)

// CellFor returns the cell value for a turn index (0 or 1).
func CellFor(playerIndex int) Cell {
	switch playerIndex {
	case 0:
		return Player0
	case 1:
		return Player1
	}
	return Empty
}

// PlayerIndex reports which turn index occupies the cell.
func (c Cell) PlayerIndex() (int, bool) {
	switch c {
	case Player0:
		return 0, true
	case Player1:
		return 1, true
	}
	return -1, false
}

// Empty cells encode as null, occupied cells as the occupant's turn index.
func (c Cell) MarshalJSON() ([]byte, error) {
	idx, ok := c.PlayerIndex()
	if !ok {
		return []byte("null"), nil
	}
	return json.Marshal(idx)
}

func (c *Cell) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = Empty
		return nil
	}
	var idx int
	if err := json.Unmarshal(data, &idx); err != nil {
		return err
	}
	*c = CellFor(idx)
	return nil
}

// Board is indexed [row][column]; row 0 is the top, row Rows-1 the bottom.
type Board [Rows][Columns]Cell

// NewBoard returns an empty board.
func NewBoard() Board {
	return Board{}
}

// Drop places a disc for playerIndex in column and returns the landing row along
// with the updated board. The receiver is never modified.
func (b Board) Drop(column, playerIndex int) (int, Board, error) {
	if column < 0 || column >= Columns {
		return -1, b, ErrInvalidColumn
	}

	row := b.LandingRow(column)
	if row < 0 {
		return -1, b, ErrColumnFull
	}

	next := b
	next[row][column] = CellFor(playerIndex)
	return row, next, nil
}

// LandingRow returns the lowest empty row in column, or -1 when the column is full.
func (b Board) LandingRow(column int) int {
	for r := Rows - 1; r >= 0; r-- {
		if b[r][column] == Empty {
			return r
		}
	}
	return -1
}

// axes are scanned in both directions from the placed cell
var axes = [4][2]int{
	{0, 1},  // horizontal
	{1, 0},  // vertical
	{1, 1},  // diagonal down-right
	{1, -1}, // diagonal down-left
}

// CheckWin reports whether the disc at (row, column) completes a line of ConnectN
// for playerIndex. Only lines through that cell are considered.
func CheckWin(b Board, row, column, playerIndex int) bool {
	want := CellFor(playerIndex)
	if want == Empty || !inBounds(row, column) || b[row][column] != want {
		return false
	}

	for _, axis := range axes {
		count := 1
		count += run(b, row, column, axis[0], axis[1], want)
		count += run(b, row, column, -axis[0], -axis[1], want)
		if count >= ConnectN {
			return true
		}
	}
	return false
}

func run(b Board, row, column, dr, dc int, want Cell) int {
	n := 0
	for i := 1; i < ConnectN; i++ {
		r, c := row+dr*i, column+dc*i
		if !inBounds(r, c) || b[r][c] != want {
			break
		}
		n++
	}
	return n
}

// CheckDraw reports whether the top row is full. Callers evaluate it only after
// CheckWin returned false for the same move.
func CheckDraw(b Board) bool {
	for c := 0; c < Columns; c++ {
		if b[0][c] == Empty {
			return false
		}
	}
	return true
}

func inBounds(row, column int) bool {
	return row >= 0 && row < Rows && column >= 0 && column < Columns
}
