package vm

import (
	"time"

	"bfrvm/pkg/errors"
	"bfrvm/pkg/program"
)

// fder is implemented by *os.File. Generated code performs I/O with raw
// system calls, so the JIT path needs descriptors rather than io streams.
type fder interface {
	Fd() uintptr
}

// dispatch runs p as native code published at addr: look up or translate,
// then transfer control with the cursor register pointing into the tape. A
// translation failure is returned, never retried in the interpreter.
func (s *Session) dispatch(addr uint64, p *program.Program) (Exit, error) {
	in, ok := s.in.(fder)
	if !ok {
		return Exit{}, errors.Errorf(errors.StageExecute, "jit mode needs a file-backed input, got %T", s.in)
	}
	out, ok := s.out.(fder)
	if !ok {
		return Exit{}, errors.Errorf(errors.StageExecute, "jit mode needs a file-backed output, got %T", s.out)
	}

	compileStart := time.Now()
	native, compiled, err := s.rt.Ensure(addr, p)
	if err != nil {
		return Exit{}, err
	}
	compile := time.Since(compileStart)

	start := time.Now()
	completed, err := s.rt.Call(native, s.tape, in.Fd(), out.Fd())
	elapsed := time.Since(start)
	if err != nil {
		return Exit{}, err
	}

	exit := Exit{
		Kind:     ExitCompleted,
		Elapsed:  elapsed,
		Compile:  compile,
		Compiled: compiled,
	}
	if !completed {
		exit.Kind = ExitBounds
	}
	log.Debugf("run %s: %s at guest %#x native %#x (compiled=%t in %s)", s.id, exit, addr, native, compiled, compile)
	return exit, nil
}
