package jit

import (
	"encoding/binary"
)

// Assembler emits x86-64 machine code into a growable buffer.
type Assembler struct {
	buf []byte
}

// NewAssembler creates an assembler with room for capacity bytes before it
// has to grow.
func NewAssembler(capacity int) *Assembler {
	return &Assembler{buf: make([]byte, 0, capacity)}
}

// Offset returns current write position
func (a *Assembler) Offset() int {
	return len(a.buf)
}

// Bytes returns the assembled code
func (a *Assembler) Bytes() []byte {
	return a.buf
}

// emit appends bytes to the buffer
func (a *Assembler) emit(bytes ...byte) {
	a.buf = append(a.buf, bytes...)
}

// emitUint32 appends a little-endian uint32
func (a *Assembler) emitUint32(v uint32) {
	a.buf = binary.LittleEndian.AppendUint32(a.buf, v)
}

// emitInt32 appends a little-endian int32
func (a *Assembler) emitInt32(v int32) {
	a.emitUint32(uint32(v))
}

// PatchRel32 rewrites the 4-byte displacement at offset at so that it points
// to target. Displacements are relative to the end of the field.
func (a *Assembler) PatchRel32(at, target int) {
	binary.LittleEndian.PutUint32(a.buf[at:], uint32(int32(target-(at+4))))
}

// rex builds REX prefix: 0100WRXB
// W=1 for 64-bit operand size
// R=1 if reg field uses R8-R15
// X=1 if SIB index uses R8-R15
// B=1 if rm field uses R8-R15
func rex(w, r, x, b bool) byte {
	var prefix byte = 0x40
	if w {
		prefix |= 0x08
	}
	if r {
		prefix |= 0x04
	}
	if x {
		prefix |= 0x02
	}
	if b {
		prefix |= 0x01
	}
	return prefix
}

// rexW returns REX.W prefix for 64-bit operations
func rexW(reg, rm Reg) byte {
	return rex(true, reg >= 8, false, rm >= 8)
}

// modRM builds ModR/M byte: [mod:2][reg:3][rm:3]
// mod should be pre-shifted: 0x00=no disp, 0x40=disp8, 0x80=disp32, 0xC0=register
func modRM(mod byte, reg, rm Reg) byte {
	return mod | ((byte(reg) & 7) << 3) | (byte(rm) & 7)
}

// emitMemOperand emits ModR/M and displacement for memory operands
func (a *Assembler) emitMemOperand(reg, base Reg, disp int32) {
	if base == RSP || base == R12 {
		if disp == 0 {
			a.emit(modRM(0x00, reg, RSP), 0x24)
		} else if disp >= -128 && disp <= 127 {
			a.emit(modRM(0x40, reg, RSP), 0x24, byte(disp))
		} else {
			a.emit(modRM(0x80, reg, RSP), 0x24)
			a.emitInt32(disp)
		}
	} else if base == RBP || base == R13 {
		// mod=00 with these bases means RIP-relative, so always carry a disp
		if disp >= -128 && disp <= 127 {
			a.emit(modRM(0x40, reg, base), byte(disp))
		} else {
			a.emit(modRM(0x80, reg, base))
			a.emitInt32(disp)
		}
	} else if disp == 0 {
		a.emit(modRM(0x00, reg, base))
	} else if disp >= -128 && disp <= 127 {
		a.emit(modRM(0x40, reg, base), byte(disp))
	} else {
		a.emit(modRM(0x80, reg, base))
		a.emitInt32(disp)
	}
}

// MovRegReg: mov dst, src (64-bit)
func (a *Assembler) MovRegReg(dst, src Reg) {
	a.emit(rexW(src, dst), 0x89, modRM(0xC0, src, dst))
}

// MovRegImm32: mov r32, imm32 (zero-extends into the 64-bit register)
func (a *Assembler) MovRegImm32(reg Reg, imm uint32) {
	if reg >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0xB8 | byte(reg&7))
	a.emitUint32(imm)
}

// SubRegReg: sub dst, src (64-bit)
func (a *Assembler) SubRegReg(dst, src Reg) {
	a.emit(rexW(src, dst), 0x29, modRM(0xC0, src, dst))
}

// aluRegImm32 emits one of the 0x83/0x81 group-1 forms; ext selects the
// operation (0=add, 5=sub, 7=cmp).
func (a *Assembler) aluRegImm32(ext Reg, reg Reg, imm int32) {
	if imm >= -128 && imm <= 127 {
		a.emit(rexW(0, reg), 0x83, modRM(0xC0, ext, reg), byte(imm))
	} else {
		a.emit(rexW(0, reg), 0x81, modRM(0xC0, ext, reg))
		a.emitInt32(imm)
	}
}

// AddRegImm32: add reg, imm32 (64-bit, sign-extended)
func (a *Assembler) AddRegImm32(reg Reg, imm int32) {
	a.aluRegImm32(0, reg, imm)
}

// SubRegImm32: sub reg, imm32 (64-bit, sign-extended)
func (a *Assembler) SubRegImm32(reg Reg, imm int32) {
	a.aluRegImm32(5, reg, imm)
}

// CmpRegImm32: cmp reg, imm32 (64-bit, sign-extended)
func (a *Assembler) CmpRegImm32(reg Reg, imm int32) {
	a.aluRegImm32(7, reg, imm)
}

// aluMem8Imm8 emits 80 /ext ib against byte [base].
func (a *Assembler) aluMem8Imm8(ext Reg, base Reg, imm byte) {
	if base >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0x80)
	a.emitMemOperand(ext, base, 0)
	a.emit(imm)
}

// AddMem8Imm8: add byte [base], imm8
func (a *Assembler) AddMem8Imm8(base Reg, imm byte) {
	a.aluMem8Imm8(0, base, imm)
}

// SubMem8Imm8: sub byte [base], imm8
func (a *Assembler) SubMem8Imm8(base Reg, imm byte) {
	a.aluMem8Imm8(5, base, imm)
}

// CmpMem8Imm8: cmp byte [base], imm8
func (a *Assembler) CmpMem8Imm8(base Reg, imm byte) {
	a.aluMem8Imm8(7, base, imm)
}

// Conditional jumps - near form (rel32)
func (a *Assembler) JeNear(rel32 int32) {
	a.emit(0x0F, 0x84)
	a.emitInt32(rel32)
}

func (a *Assembler) JneNear(rel32 int32) {
	a.emit(0x0F, 0x85)
	a.emitInt32(rel32)
}

func (a *Assembler) JbNear(rel32 int32) {
	a.emit(0x0F, 0x82)
	a.emitInt32(rel32)
}

// JmpRel32: jmp rel32
func (a *Assembler) JmpRel32(rel32 int32) {
	a.emit(0xE9)
	a.emitInt32(rel32)
}

// Syscall: syscall instruction
func (a *Assembler) Syscall() {
	a.emit(0x0F, 0x05)
}

// Ret: ret
func (a *Assembler) Ret() {
	a.emit(0xC3)
}

// NativeBackend encodes instruction requests with Assembler. Every branch is
// emitted in its rel32 form so label offsets are known after a single pass.
type NativeBackend struct{}

func (NativeBackend) Name() string { return "native" }

type pendingJump struct {
	offset int // offset in code where the rel32 displacement is
	label  Label
}

func (NativeBackend) Assemble(p *Program) ([]byte, int, error) {
	if err := p.Check(); err != nil {
		return nil, 0, err
	}

	a := NewAssembler(len(p.Insts) * 6)
	labelOffsets := make([]int, p.Labels())
	var pending []pendingJump

	for _, in := range p.Insts {
		switch in.Op {
		case MLabel:
			labelOffsets[in.Label] = a.Offset()
		case MMovRegReg:
			a.MovRegReg(in.Dst, in.Src)
		case MMovRegImm32:
			a.MovRegImm32(in.Dst, uint32(in.Imm))
		case MAddRegImm:
			a.AddRegImm32(in.Dst, int32(in.Imm))
		case MSubRegImm:
			a.SubRegImm32(in.Dst, int32(in.Imm))
		case MSubRegReg:
			a.SubRegReg(in.Dst, in.Src)
		case MCmpRegImm:
			a.CmpRegImm32(in.Dst, int32(in.Imm))
		case MAddMem8Imm:
			a.AddMem8Imm8(in.Dst, byte(in.Imm))
		case MSubMem8Imm:
			a.SubMem8Imm8(in.Dst, byte(in.Imm))
		case MCmpMem8Imm:
			a.CmpMem8Imm8(in.Dst, byte(in.Imm))
		case MJe:
			a.JeNear(0)
			pending = append(pending, pendingJump{offset: a.Offset() - 4, label: in.Label})
		case MJne:
			a.JneNear(0)
			pending = append(pending, pendingJump{offset: a.Offset() - 4, label: in.Label})
		case MJb:
			a.JbNear(0)
			pending = append(pending, pendingJump{offset: a.Offset() - 4, label: in.Label})
		case MJmp:
			a.JmpRel32(0)
			pending = append(pending, pendingJump{offset: a.Offset() - 4, label: in.Label})
		case MSyscall:
			a.Syscall()
		case MRet:
			a.Ret()
		}
	}

	for _, pj := range pending {
		a.PatchRel32(pj.offset, labelOffsets[pj.label])
	}
	return a.Bytes(), 0, nil
}
