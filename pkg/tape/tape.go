// Package tape holds the fixed-size memory a guest program runs against.
package tape

import "fmt"

// Tape is a fixed-length byte buffer plus a cursor. A Tape belongs to exactly
// one running session at a time.
type Tape struct {
	Cells  []byte
	Cursor int
}

// New allocates a zeroed tape of size cells.
func New(size int) (*Tape, error) {
	if size <= 0 {
		return nil, fmt.Errorf("tape size must be positive, got %d", size)
	}
	return &Tape{Cells: make([]byte, size)}, nil
}

// Len returns the number of cells.
func (t *Tape) Len() int {
	return len(t.Cells)
}

// Advance moves the cursor right by n cells. It reports false, leaving the
// cursor untouched, if that would pass the last cell.
func (t *Tape) Advance(n int) bool {
	if n > len(t.Cells)-1-t.Cursor {
		return false
	}
	t.Cursor += n
	return true
}

// Retreat moves the cursor left by n cells. It reports false, leaving the
// cursor untouched, if that would pass cell 0.
func (t *Tape) Retreat(n int) bool {
	if n > t.Cursor {
		return false
	}
	t.Cursor -= n
	return true
}

// Cell returns the value under the cursor.
func (t *Tape) Cell() byte {
	return t.Cells[t.Cursor]
}

// Set stores b under the cursor.
func (t *Tape) Set(b byte) {
	t.Cells[t.Cursor] = b
}

// Add adds n to the cell under the cursor, wrapping mod 256.
func (t *Tape) Add(n byte) {
	t.Cells[t.Cursor] += n
}

// Sub subtracts n from the cell under the cursor, wrapping mod 256.
func (t *Tape) Sub(n byte) {
	t.Cells[t.Cursor] -= n
}

// Reset zeroes every cell and rewinds the cursor.
func (t *Tape) Reset() {
	clear(t.Cells)
	t.Cursor = 0
}

// Clone returns an independent copy.
func (t *Tape) Clone() *Tape {
	cells := make([]byte, len(t.Cells))
	copy(cells, t.Cells)
	return &Tape{Cells: cells, Cursor: t.Cursor}
}
