package jit

import (
	"math"

	"bfrvm/pkg/errors"
	"bfrvm/pkg/program"
)

// CodegenVersion identifies the shape of the code Generate emits. Persisted
// translations produced by a different version are ignored.
const CodegenVersion = 1

// Linux x86-64 system call numbers used by generated code.
const (
	sysRead  = 0
	sysWrite = 1
)

type openLoop struct {
	pos   int
	start Label
	after Label
}

// Generate lowers fused IR into instruction requests that follow the tape
// register convention. The result has the same observable behavior as the
// fused interpreter tier, including the pre-mutation bounds check.
func Generate(ops []program.Op, loops program.JumpTable) (*Program, error) {
	if len(loops) != len(ops) {
		return nil, errors.Errorf(errors.StageGenerate, "jump table covers %d ops, program has %d", len(loops), len(ops))
	}

	p := &Program{Insts: make([]Inst, 0, len(ops)*3+8)}
	bounds := p.NewLabel()
	ioerr := p.NewLabel()
	open := make([]openLoop, 0, 16)

	for i, op := range ops {
		switch op.Kind {
		case program.Advance, program.Retreat:
			if op.N < 1 || op.N > math.MaxInt32 {
				return nil, errors.Errorf(errors.StageGenerate, "op %d: pointer move %d out of range", i, op.N)
			}
			n := int64(op.N)
			if op.Kind == program.Advance {
				// room = last - cursor
				p.emit(Inst{Op: MMovRegReg, Dst: RAX, Src: RegLast})
				p.emit(Inst{Op: MSubRegReg, Dst: RAX, Src: RegCursor})
				p.emit(Inst{Op: MCmpRegImm, Dst: RAX, Imm: n})
				p.emit(Inst{Op: MJb, Label: bounds})
				p.emit(Inst{Op: MAddRegImm, Dst: RegCursor, Imm: n})
			} else {
				// room = cursor - base
				p.emit(Inst{Op: MMovRegReg, Dst: RAX, Src: RegCursor})
				p.emit(Inst{Op: MSubRegReg, Dst: RAX, Src: RegBase})
				p.emit(Inst{Op: MCmpRegImm, Dst: RAX, Imm: n})
				p.emit(Inst{Op: MJb, Label: bounds})
				p.emit(Inst{Op: MSubRegImm, Dst: RegCursor, Imm: n})
			}

		case program.Increment, program.Decrement:
			n := op.N % 256
			if n == 0 {
				continue
			}
			if op.Kind == program.Decrement {
				n = 256 - n
			}
			// Keep the immediate in signed byte range: +200 is -56.
			if n <= 127 {
				p.emit(Inst{Op: MAddMem8Imm, Dst: RegCursor, Imm: int64(n)})
			} else {
				p.emit(Inst{Op: MSubMem8Imm, Dst: RegCursor, Imm: int64(256 - n)})
			}

		case program.Write:
			emitTransfer(p, sysWrite, RegOutput, ioerr)
		case program.Read:
			emitTransfer(p, sysRead, RegInput, ioerr)

		case program.LoopStart:
			end, ok := loops.Match(i)
			if !ok || end <= i {
				return nil, errors.Errorf(errors.StageGenerate, "op %d: loop start has no matching end", i)
			}
			l := openLoop{pos: i, start: p.NewLabel(), after: p.NewLabel()}
			open = append(open, l)
			p.Bind(l.start)
			p.emit(Inst{Op: MCmpMem8Imm, Dst: RegCursor, Imm: 0})
			p.emit(Inst{Op: MJe, Label: l.after})

		case program.LoopEnd:
			if len(open) == 0 {
				return nil, errors.Errorf(errors.StageGenerate, "op %d: loop end without start", i)
			}
			l := open[len(open)-1]
			open = open[:len(open)-1]
			if start, ok := loops.Match(i); !ok || start != l.pos {
				return nil, errors.Errorf(errors.StageGenerate, "op %d: loop end does not match jump table", i)
			}
			p.emit(Inst{Op: MJmp, Label: l.start})
			p.Bind(l.after)

		default:
			return nil, errors.Errorf(errors.StageGenerate, "op %d: unknown kind %v", i, op.Kind)
		}
	}
	if len(open) > 0 {
		return nil, errors.Errorf(errors.StageGenerate, "op %d: loop start has no matching end", open[len(open)-1].pos)
	}

	emitExit(p, ExitCodeCompleted)
	p.Bind(bounds)
	emitExit(p, ExitCodeBounds)
	p.Bind(ioerr)
	emitExit(p, ExitCodeIO)
	return p, nil
}

// emitTransfer moves one byte between the current cell and fd with a raw
// system call. Anything other than exactly one byte transferred is an I/O
// failure.
func emitTransfer(p *Program, nr int64, fd Reg, ioerr Label) {
	p.emit(Inst{Op: MMovRegImm32, Dst: RAX, Imm: nr})
	p.emit(Inst{Op: MMovRegReg, Dst: RDI, Src: fd})
	p.emit(Inst{Op: MMovRegReg, Dst: RSI, Src: RegCursor})
	p.emit(Inst{Op: MMovRegImm32, Dst: RDX, Imm: 1})
	p.emit(Inst{Op: MSyscall})
	p.emit(Inst{Op: MCmpRegImm, Dst: RAX, Imm: 1})
	p.emit(Inst{Op: MJne, Label: ioerr})
}

func emitExit(p *Program, code int64) {
	p.emit(Inst{Op: MMovRegImm32, Dst: RAX, Imm: code})
	p.emit(Inst{Op: MRet})
}
