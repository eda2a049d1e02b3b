package vm

import (
	"fmt"
	"os"
)

// ExecutionMode determines how a session executes programs
type ExecutionMode int

const (
	ModeInterpreter ExecutionMode = iota // portable, debuggable
	ModeJIT                              // native code through a jit.Runtime
)

// EnvMode names the environment variable that overrides the execution mode.
const EnvMode = "BFRVM_MODE"

func (m ExecutionMode) String() string {
	switch m {
	case ModeInterpreter:
		return "interpreter"
	case ModeJIT:
		return "jit"
	default:
		return fmt.Sprintf("ExecutionMode(%d)", int(m))
	}
}

// ParseMode accepts "interpreter" or "jit".
func ParseMode(s string) (ExecutionMode, error) {
	switch s {
	case "interpreter", "interp":
		return ModeInterpreter, nil
	case "jit":
		return ModeJIT, nil
	}
	return 0, fmt.Errorf("unknown execution mode %q", s)
}

// ModeFromEnv returns the mode named by BFRVM_MODE, or def when the variable
// is unset or unrecognized.
func ModeFromEnv(def ExecutionMode) ExecutionMode {
	if m, err := ParseMode(os.Getenv(EnvMode)); err == nil {
		return m
	}
	return def
}

// Tier selects an interpreter strategy. All tiers are observably identical.
type Tier int

const (
	TierNaive     Tier = iota // raw source, brackets found by scanning
	TierJumpTable             // raw tokens with a precomputed jump table
	TierFused                 // fused IR with a precomputed jump table
)

func (t Tier) String() string {
	switch t {
	case TierNaive:
		return "naive"
	case TierJumpTable:
		return "jumptable"
	case TierFused:
		return "fused"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// ParseTier accepts the names returned by Tier.String.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "naive":
		return TierNaive, nil
	case "jumptable", "jump":
		return TierJumpTable, nil
	case "fused":
		return TierFused, nil
	}
	return 0, fmt.Errorf("unknown interpreter tier %q", s)
}

// Tiers lists every interpreter tier.
var Tiers = []Tier{TierNaive, TierJumpTable, TierFused}
