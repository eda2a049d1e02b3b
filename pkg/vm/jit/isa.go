package jit

import (
	"fmt"
	"strings"
)

// x86-64 register encoding
type Reg byte

const (
	RAX Reg = 0
	RCX Reg = 1
	RDX Reg = 2
	RBX Reg = 3
	RSP Reg = 4
	RBP Reg = 5
	RSI Reg = 6
	RDI Reg = 7
	R8  Reg = 8
	R9  Reg = 9
	R10 Reg = 10
	R11 Reg = 11
	R12 Reg = 12
	R13 Reg = 13
	R14 Reg = 14
	R15 Reg = 15
)

var regNames = [16]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

var regNames32 = [16]string{
	"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi",
	"r8d", "r9d", "r10d", "r11d", "r12d", "r13d", "r14d", "r15d",
}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return fmt.Sprintf("reg%d", byte(r))
}

// Tape register convention shared by the code generator and the trampoline.
//
//	R13  absolute address of the current cell (in/out)
//	R8   tape base address
//	R9   address of the last valid cell
//	R12  input file descriptor
//	R10  output file descriptor
//
// RAX holds the exit code on return. RAX, RCX, RDX, RSI, RDI and R11 are
// scratch. R14 and R15 belong to the Go runtime and are never touched.
const (
	RegCursor = R13
	RegBase   = R8
	RegLast   = R9
	RegInput  = R12
	RegOutput = R10
)

// Exit codes left in RAX by generated code.
const (
	ExitCodeCompleted = 0
	ExitCodeBounds    = 1
	ExitCodeIO        = 2
)

// Mnemonic identifies one abstract instruction request.
type Mnemonic uint8

const (
	// MLabel binds Inst.Label to the current position. It emits no bytes.
	MLabel Mnemonic = iota
	MMovRegReg
	MMovRegImm32 // 32-bit move, zero-extends into the full register
	MAddRegImm
	MSubRegImm
	MSubRegReg
	MCmpRegImm
	MAddMem8Imm // add byte [Dst], Imm
	MSubMem8Imm
	MCmpMem8Imm
	MJe
	MJne
	MJb
	MJmp
	MSyscall
	MRet
)

var mnemonicNames = [...]string{
	MLabel:       "label",
	MMovRegReg:   "mov",
	MMovRegImm32: "mov",
	MAddRegImm:   "add",
	MSubRegImm:   "sub",
	MSubRegReg:   "sub",
	MCmpRegImm:   "cmp",
	MAddMem8Imm:  "add",
	MSubMem8Imm:  "sub",
	MCmpMem8Imm:  "cmp",
	MJe:          "je",
	MJne:         "jne",
	MJb:          "jb",
	MJmp:         "jmp",
	MSyscall:     "syscall",
	MRet:         "ret",
}

func (m Mnemonic) String() string {
	if int(m) < len(mnemonicNames) {
		return mnemonicNames[m]
	}
	return fmt.Sprintf("mnemonic(%d)", uint8(m))
}

// IsBranch reports whether m transfers control to Inst.Label.
func (m Mnemonic) IsBranch() bool {
	return m >= MJe && m <= MJmp
}

// Label names a position in a Program. Labels are allocated by NewLabel and
// bound exactly once with Bind.
type Label int

func (l Label) String() string {
	return fmt.Sprintf(".L%d", int(l))
}

// Inst is one abstract instruction request. Which fields are meaningful
// depends on Op.
type Inst struct {
	Op    Mnemonic
	Dst   Reg
	Src   Reg
	Imm   int64
	Label Label
}

func (in Inst) String() string {
	switch in.Op {
	case MLabel:
		return in.Label.String() + ":"
	case MMovRegReg, MSubRegReg:
		return fmt.Sprintf("%s %s, %s", in.Op, in.Dst, in.Src)
	case MMovRegImm32:
		name := fmt.Sprintf("reg%d", byte(in.Dst))
		if int(in.Dst) < len(regNames32) {
			name = regNames32[in.Dst]
		}
		return fmt.Sprintf("%s %s, %d", in.Op, name, in.Imm)
	case MAddRegImm, MSubRegImm, MCmpRegImm:
		return fmt.Sprintf("%s %s, %d", in.Op, in.Dst, in.Imm)
	case MAddMem8Imm, MSubMem8Imm, MCmpMem8Imm:
		return fmt.Sprintf("%s byte ptr [%s], %d", in.Op, in.Dst, in.Imm)
	case MJe, MJne, MJb, MJmp:
		return fmt.Sprintf("%s %s", in.Op, in.Label)
	default:
		return in.Op.String()
	}
}

// Program is an ordered sequence of instruction requests handed to a Backend.
type Program struct {
	Insts  []Inst
	labels int
}

// NewLabel allocates a fresh, unbound label.
func (p *Program) NewLabel() Label {
	l := Label(p.labels)
	p.labels++
	return l
}

// Labels returns the number of labels allocated so far.
func (p *Program) Labels() int {
	return p.labels
}

// Bind places l at the current end of the program.
func (p *Program) Bind(l Label) {
	p.Insts = append(p.Insts, Inst{Op: MLabel, Label: l})
}

func (p *Program) emit(in Inst) {
	p.Insts = append(p.Insts, in)
}

// String renders the program as Intel-syntax assembly text, one request per
// line. Labels are flush left, instructions indented.
func (p *Program) String() string {
	var sb strings.Builder
	for _, in := range p.Insts {
		if in.Op != MLabel {
			sb.WriteString("    ")
		}
		sb.WriteString(in.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Backend turns a Program into machine code. entry is the byte offset of the
// first instruction to execute. A failure to encode is reported as an
// *AssembleError naming the offending request.
type Backend interface {
	Name() string
	Assemble(p *Program) (code []byte, entry int, err error)
}

// AssembleError reports the request a Backend could not encode.
type AssembleError struct {
	Index  int
	Inst   Inst
	Reason string
}

func (e *AssembleError) Error() string {
	return fmt.Sprintf("instruction %d (%s): %s", e.Index, e.Inst, e.Reason)
}

// Check validates operands and label use without encoding anything. Every
// Backend runs it first so that both report malformed programs identically.
func (p *Program) Check() error {
	bound := make([]bool, p.labels)
	for i, in := range p.Insts {
		fail := func(reason string) error {
			return &AssembleError{Index: i, Inst: in, Reason: reason}
		}
		if in.Dst > R15 || in.Src > R15 {
			return fail("unknown register")
		}
		switch in.Op {
		case MLabel:
			if int(in.Label) < 0 || int(in.Label) >= p.labels {
				return fail("label was never allocated")
			}
			if bound[in.Label] {
				return fail("label bound twice")
			}
			bound[in.Label] = true
		case MMovRegImm32:
			if in.Imm < 0 || in.Imm > 0xFFFFFFFF {
				return fail("immediate does not fit in 32 bits")
			}
		case MAddRegImm, MSubRegImm, MCmpRegImm:
			if in.Imm < -1<<31 || in.Imm > 1<<31-1 {
				return fail("immediate does not fit in a signed 32-bit operand")
			}
		case MAddMem8Imm, MSubMem8Imm, MCmpMem8Imm:
			if in.Imm < -128 || in.Imm > 255 {
				return fail("immediate does not fit in a byte")
			}
		case MJe, MJne, MJb, MJmp:
			if int(in.Label) < 0 || int(in.Label) >= p.labels {
				return fail("branch to unallocated label")
			}
		case MMovRegReg, MSubRegReg, MSyscall, MRet:
		default:
			return fail("unknown mnemonic")
		}
	}
	for i, in := range p.Insts {
		if in.Op.IsBranch() && !bound[in.Label] {
			return &AssembleError{Index: i, Inst: in, Reason: "branch to unbound label"}
		}
	}
	return nil
}
