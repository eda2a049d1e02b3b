package vm

import (
	"io"

	"bfrvm/pkg/errors"
	"bfrvm/pkg/program"
	"bfrvm/pkg/tape"
)

type flusher interface {
	Flush() error
}

// machine is the state every tier shares.
type machine struct {
	t   *tape.Tape
	in  io.Reader
	out io.Writer
	buf [1]byte
}

// Interpret runs p on t with the given tier. It reports false on a bounds
// exit. Errors are io-stage failures.
func Interpret(tier Tier, p *program.Program, t *tape.Tape, in io.Reader, out io.Writer) (bool, error) {
	m := &machine{t: t, in: in, out: out}
	switch tier {
	case TierNaive:
		return m.runSource(p.Source)
	case TierJumpTable:
		return m.runTable(unitOps(p.Tokens), p.TokenLoops)
	case TierFused:
		return m.runTable(p.Ops, p.Loops)
	}
	return false, errors.Errorf(errors.StageExecute, "unknown interpreter tier %v", tier)
}

// step applies one non-loop op n times. It reports false when a pointer move
// would leave the tape, in which case nothing has been changed.
func (m *machine) step(k program.Kind, n int) (bool, error) {
	switch k {
	case program.Advance:
		return m.t.Advance(n), nil
	case program.Retreat:
		return m.t.Retreat(n), nil
	case program.Increment:
		m.t.Add(byte(n))
	case program.Decrement:
		m.t.Sub(byte(n))
	case program.Read:
		if _, err := io.ReadFull(m.in, m.buf[:]); err != nil {
			return false, errors.Wrap(errors.StageIO, err, "reading input byte")
		}
		m.t.Set(m.buf[0])
	case program.Write:
		m.buf[0] = m.t.Cell()
		if _, err := m.out.Write(m.buf[:]); err != nil {
			return false, errors.Wrap(errors.StageIO, err, "writing output byte")
		}
		if f, ok := m.out.(flusher); ok {
			if err := f.Flush(); err != nil {
				return false, errors.Wrap(errors.StageIO, err, "flushing output")
			}
		}
	}
	return true, nil
}

// runSource walks raw source. A '[' over a zero cell scans forward for its
// partner; open loops are remembered on a stack for the way back.
func (m *machine) runSource(src []byte) (bool, error) {
	open := make([]int, 0, 16)
	for pc := 0; pc < len(src); pc++ {
		k, ok := program.KindOf(src[pc])
		if !ok {
			continue
		}
		switch k {
		case program.LoopStart:
			if m.t.Cell() != 0 {
				open = append(open, pc)
				continue
			}
			for depth := 1; depth > 0; {
				pc++
				if pc >= len(src) {
					return false, errors.Errorf(errors.StageResolve, "unmatched '[' in source")
				}
				switch src[pc] {
				case '[':
					depth++
				case ']':
					depth--
				}
			}
		case program.LoopEnd:
			if len(open) == 0 {
				return false, errors.Errorf(errors.StageResolve, "unmatched ']' at byte %d", pc)
			}
			if m.t.Cell() != 0 {
				pc = open[len(open)-1]
			} else {
				open = open[:len(open)-1]
			}
		default:
			ok, err := m.step(k, 1)
			if err != nil || !ok {
				return false, err
			}
		}
	}
	return true, nil
}

// runTable walks ops using a precomputed jump table.
func (m *machine) runTable(ops []program.Op, loops program.JumpTable) (bool, error) {
	for pc := 0; pc < len(ops); pc++ {
		op := ops[pc]
		switch op.Kind {
		case program.LoopStart:
			if m.t.Cell() == 0 {
				pc = loops[pc]
			}
		case program.LoopEnd:
			if m.t.Cell() != 0 {
				pc = loops[pc]
			}
		default:
			ok, err := m.step(op.Kind, op.N)
			if err != nil || !ok {
				return false, err
			}
		}
	}
	return true, nil
}

// unitOps lifts raw tokens to one op per token so they share runTable with
// the fused IR.
func unitOps(tokens []byte) []program.Op {
	ops := make([]program.Op, len(tokens))
	for i, c := range tokens {
		k, _ := program.KindOf(c)
		ops[i] = program.Op{Kind: k, N: 1}
	}
	return ops
}
