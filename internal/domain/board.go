package domain

import "encoding/json"

// Mark is the symbol a role places on the board. The zero value is an
// empty cell.
type Mark string

const (
	MarkNone Mark = ""
	MarkX    Mark = "X"
	MarkO    Mark = "O"
)

// Other returns the opposing mark.
func (m Mark) Other() Mark {
	switch m {
	case MarkX:
		return MarkO
	case MarkO:
		return MarkX
	default:
		return MarkNone
	}
}

// MarshalJSON encodes an empty cell as null.
func (m Mark) MarshalJSON() ([]byte, error) {
	if m == MarkNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(m))
}

// UnmarshalJSON accepts null for an empty cell.
func (m *Mark) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = MarkNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*m = Mark(s)
	return nil
}

// BoardSize is the number of cells on the 3x3 board, row-major.
const BoardSize = 9

// Board holds the nine cells of a game.
type Board [BoardSize]Mark

// winningLines is evaluated in order: rows, columns, diagonals. The first
// complete line reported is stable for a given board.
var winningLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// ValidPosition reports whether cell is on the board.
func ValidPosition(cell int) bool {
	return cell >= 0 && cell < BoardSize
}

// Full reports whether every cell is occupied.
func (b *Board) Full() bool {
	for _, c := range b {
		if c == MarkNone {
			return false
		}
	}
	return true
}

// Evaluate inspects the board for a terminal position. It returns the
// winning mark and line, a draw, or done=false while play continues.
func (b *Board) Evaluate() (winner Mark, line []int, draw bool, done bool) {
	for _, l := range winningLines {
		a := b[l[0]]
		if a != MarkNone && a == b[l[1]] && a == b[l[2]] {
			return a, []int{l[0], l[1], l[2]}, false, true
		}
	}
	if b.Full() {
		return MarkNone, nil, true, true
	}
	return MarkNone, nil, false, false
}
