package vm

import (
	"fmt"
	"time"
)

// ExitKind says how a run ended.
type ExitKind int

const (
	ExitCompleted ExitKind = iota // ran off the end of the program
	ExitBounds                    // cursor would have left the tape
)

func (k ExitKind) String() string {
	switch k {
	case ExitCompleted:
		return "completed"
	case ExitBounds:
		return "bounds"
	default:
		return fmt.Sprintf("ExitKind(%d)", int(k))
	}
}

// Exit is the result of a run. A bounds violation is an ordinary Exit, never
// an error.
type Exit struct {
	Kind ExitKind

	// Elapsed covers execution only.
	Elapsed time.Duration

	// Compile is the time spent obtaining native code on the JIT path.
	// Compiled is false when the translation was already published.
	Compile  time.Duration
	Compiled bool
}

// Seconds returns Elapsed in fractional seconds.
func (e Exit) Seconds() float64 {
	return e.Elapsed.Seconds()
}

func (e Exit) String() string {
	return fmt.Sprintf("%s in %.4fs", e.Kind, e.Seconds())
}
