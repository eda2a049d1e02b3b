package vm

import (
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"bfrvm/pkg/errors"
	"bfrvm/pkg/program"
	"bfrvm/pkg/tape"
	"bfrvm/pkg/vm/jit"
)

var log = commonlog.GetLogger("bfrvm.vm")

// Session owns one tape and runs programs against it. A Session is not safe
// for concurrent use; run sessions in parallel by giving each its own, all
// sharing one jit.Runtime if desired.
type Session struct {
	id   uuid.UUID
	tape *tape.Tape
	mode ExecutionMode
	tier Tier
	rt   *jit.Runtime
	in   io.Reader
	out  io.Writer

	modeSet bool
}

type Option func(*Session)

// WithJIT attaches a runtime and selects ModeJIT unless WithMode or
// BFRVM_MODE says otherwise.
func WithJIT(rt *jit.Runtime) Option {
	return func(s *Session) { s.rt = rt }
}

// WithMode forces the execution mode.
func WithMode(m ExecutionMode) Option {
	return func(s *Session) {
		s.mode = m
		s.modeSet = true
	}
}

// WithTier selects the interpreter tier. The default is TierFused.
func WithTier(t Tier) Option {
	return func(s *Session) { s.tier = t }
}

// WithInput sets the byte source for Read ops. The default is os.Stdin.
func WithInput(r io.Reader) Option {
	return func(s *Session) { s.in = r }
}

// WithOutput sets the byte sink for Write ops. The default is os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(s *Session) { s.out = w }
}

// NewSession creates a session with a zeroed tape of tapeSize cells.
func NewSession(tapeSize int, opts ...Option) (*Session, error) {
	t, err := tape.New(tapeSize)
	if err != nil {
		return nil, errors.Wrap(errors.StageConfig, err, "creating tape")
	}
	s := &Session{
		id:   uuid.New(),
		tape: t,
		tier: TierFused,
		in:   os.Stdin,
		out:  os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if !s.modeSet {
		s.mode = ModeInterpreter
		if s.rt != nil {
			s.mode = ModeFromEnv(ModeJIT)
		}
	}
	if s.mode == ModeJIT && s.rt == nil {
		return nil, errors.Errorf(errors.StageConfig, "jit mode requires a jit runtime")
	}
	return s, nil
}

// ID returns the run id used in log lines.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Tape returns the session's tape. Its contents persist across runs until
// Reset.
func (s *Session) Tape() *tape.Tape {
	return s.tape
}

// Mode returns the execution mode in effect.
func (s *Session) Mode() ExecutionMode {
	return s.mode
}

// Reset zeroes the tape and rewinds the cursor.
func (s *Session) Reset() {
	s.tape.Reset()
}

// Run decodes, resolves and executes src. On the JIT path the program gets the
// guest address the runtime assigns to its fingerprint.
func (s *Session) Run(src []byte) (Exit, error) {
	p, err := program.Load(src)
	if err != nil {
		return Exit{}, err
	}
	if s.mode != ModeJIT {
		return s.interpret(p)
	}
	addr, err := s.rt.AddressOf(p)
	if err != nil {
		return Exit{}, err
	}
	return s.dispatch(addr, p)
}

// RunAt is Run with an explicit guest address. addr must be slot-aligned and
// is ignored in interpreter mode. A caller choosing addresses is responsible
// for not reusing one for a different program.
func (s *Session) RunAt(addr uint64, src []byte) (Exit, error) {
	p, err := program.Load(src)
	if err != nil {
		return Exit{}, err
	}
	if s.mode != ModeJIT {
		return s.interpret(p)
	}
	return s.dispatch(addr, p)
}

func (s *Session) interpret(p *program.Program) (Exit, error) {
	start := time.Now()
	completed, err := Interpret(s.tier, p, s.tape, s.in, s.out)
	elapsed := time.Since(start)
	if err != nil {
		return Exit{}, err
	}
	exit := Exit{Kind: ExitCompleted, Elapsed: elapsed}
	if !completed {
		exit.Kind = ExitBounds
	}
	log.Debugf("run %s: %s tier %s", s.id, s.tier, exit)
	return exit, nil
}
