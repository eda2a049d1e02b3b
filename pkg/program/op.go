package program

import "fmt"

// Kind is the opcode of a fused operation.
type Kind uint8

const (
	Advance   Kind = iota // '>' move the cursor right by N
	Retreat               // '<' move the cursor left by N
	Increment             // '+' add N (mod 256) to the current cell
	Decrement             // '-' subtract N (mod 256) from the current cell
	Read                  // ',' read one byte into the current cell
	Write                 // '.' write the current cell
	LoopStart             // '['
	LoopEnd               // ']'
)

var kindNames = [...]string{
	Advance:   "Advance",
	Retreat:   "Retreat",
	Increment: "Increment",
	Decrement: "Decrement",
	Read:      "Read",
	Write:     "Write",
	LoopStart: "LoopStart",
	LoopEnd:   "LoopEnd",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Fusable reports whether consecutive runs of this kind collapse into one op.
func (k Kind) Fusable() bool {
	return k <= Decrement
}

// Op is one fused IR operation. N is the run length for pointer moves and the
// run length folded mod 256 for cell arithmetic; it is always 1 for I/O and
// loop ops and never 0.
type Op struct {
	Kind Kind
	N    int
}

func (o Op) String() string {
	if o.Kind.Fusable() {
		return fmt.Sprintf("%s(%d)", o.Kind, o.N)
	}
	return o.Kind.String()
}

// KindOf maps a source symbol to its kind. ok is false for comment characters.
func KindOf(c byte) (k Kind, ok bool) {
	switch c {
	case '>':
		return Advance, true
	case '<':
		return Retreat, true
	case '+':
		return Increment, true
	case '-':
		return Decrement, true
	case ',':
		return Read, true
	case '.':
		return Write, true
	case '[':
		return LoopStart, true
	case ']':
		return LoopEnd, true
	}
	return 0, false
}

// IsSymbol reports whether c is one of the eight significant source symbols.
func IsSymbol(c byte) bool {
	_, ok := KindOf(c)
	return ok
}
