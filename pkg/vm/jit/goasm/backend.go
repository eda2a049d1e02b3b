// Package goasm assembles jit programs with golang-asm, the Go toolchain's
// own x86 assembler lifted into a library.
package goasm

import (
	"fmt"

	golangasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"bfrvm/pkg/vm/jit"
)

// Backend is a jit.Backend built on golang-asm. Branch sizes are chosen by
// the assembler, so its output is usually smaller than the native backend's.
type Backend struct{}

func (Backend) Name() string { return "goasm" }

var regs = [16]int16{
	jit.RAX: x86.REG_AX,
	jit.RCX: x86.REG_CX,
	jit.RDX: x86.REG_DX,
	jit.RBX: x86.REG_BX,
	jit.RSP: x86.REG_SP,
	jit.RBP: x86.REG_BP,
	jit.RSI: x86.REG_SI,
	jit.RDI: x86.REG_DI,
	jit.R8:  x86.REG_R8,
	jit.R9:  x86.REG_R9,
	jit.R10: x86.REG_R10,
	jit.R11: x86.REG_R11,
	jit.R12: x86.REG_R12,
	jit.R13: x86.REG_R13,
	jit.R14: x86.REG_R14,
	jit.R15: x86.REG_R15,
}

func reg(r jit.Reg) obj.Addr {
	return obj.Addr{Type: obj.TYPE_REG, Reg: regs[r]}
}

func imm(v int64) obj.Addr {
	return obj.Addr{Type: obj.TYPE_CONST, Offset: v}
}

func mem(base jit.Reg) obj.Addr {
	return obj.Addr{Type: obj.TYPE_MEM, Reg: regs[base]}
}

// Go assembler operand order is source first: SUBQ R13, AX is rax -= r13 and
// CMPQ AX, $3 compares rax with 3.
func (Backend) Assemble(p *jit.Program) (code []byte, entry int, err error) {
	if err := p.Check(); err != nil {
		return nil, 0, err
	}

	b, err := golangasm.NewBuilder("amd64", len(p.Insts)*2)
	if err != nil {
		return nil, 0, fmt.Errorf("golang-asm builder: %w", err)
	}

	labels := make([]*obj.Prog, p.Labels())
	for i := range labels {
		labels[i] = b.NewProg()
		labels[i].As = obj.ANOP
	}

	for _, in := range p.Insts {
		if in.Op == jit.MLabel {
			b.AddInstruction(labels[in.Label])
			continue
		}

		prog := b.NewProg()
		switch in.Op {
		case jit.MMovRegReg:
			prog.As, prog.From, prog.To = x86.AMOVQ, reg(in.Src), reg(in.Dst)
		case jit.MMovRegImm32:
			prog.As, prog.From, prog.To = x86.AMOVL, imm(in.Imm), reg(in.Dst)
		case jit.MAddRegImm:
			prog.As, prog.From, prog.To = x86.AADDQ, imm(in.Imm), reg(in.Dst)
		case jit.MSubRegImm:
			prog.As, prog.From, prog.To = x86.ASUBQ, imm(in.Imm), reg(in.Dst)
		case jit.MSubRegReg:
			prog.As, prog.From, prog.To = x86.ASUBQ, reg(in.Src), reg(in.Dst)
		case jit.MCmpRegImm:
			prog.As, prog.From, prog.To = x86.ACMPQ, reg(in.Dst), imm(in.Imm)
		case jit.MAddMem8Imm:
			prog.As, prog.From, prog.To = x86.AADDB, imm(int64(int8(in.Imm))), mem(in.Dst)
		case jit.MSubMem8Imm:
			prog.As, prog.From, prog.To = x86.ASUBB, imm(int64(int8(in.Imm))), mem(in.Dst)
		case jit.MCmpMem8Imm:
			prog.As, prog.From, prog.To = x86.ACMPB, mem(in.Dst), imm(int64(int8(in.Imm)))
		case jit.MJe, jit.MJne, jit.MJb, jit.MJmp:
			prog.As = branchOps[in.Op]
			prog.To.Type = obj.TYPE_BRANCH
			prog.To.SetTarget(labels[in.Label])
		case jit.MSyscall:
			prog.As = x86.ASYSCALL
		case jit.MRet:
			prog.As = obj.ARET
		}
		b.AddInstruction(prog)
	}

	code, err = assemble(b)
	if err != nil {
		return nil, 0, err
	}
	return code, 0, nil
}

var branchOps = map[jit.Mnemonic]obj.As{
	jit.MJe:  x86.AJEQ,
	jit.MJne: x86.AJNE,
	jit.MJb:  x86.AJCS,
	jit.MJmp: obj.AJMP,
}

// assemble turns golang-asm's panics on unencodable input into errors.
func assemble(b *golangasm.Builder) (code []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("golang-asm: %v", r)
		}
	}()
	code = b.Assemble()
	if len(code) == 0 {
		return nil, fmt.Errorf("golang-asm produced no code")
	}
	return code, nil
}
