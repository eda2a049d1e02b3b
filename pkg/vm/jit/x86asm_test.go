package jit

import (
	"bytes"
	"testing"

	"golang.org/x/arch/x86/x86asm"
)

func TestAddMem8R13Encoding(t *testing.T) {
	// R13 as a base needs mod=01 with a zero disp8.
	a := NewAssembler(8)
	a.AddMem8Imm8(R13, 5)
	want := []byte{0x41, 0x80, 0x45, 0x00, 0x05}
	if !bytes.Equal(a.Bytes(), want) {
		t.Errorf("add byte [r13], 5 = % x, want % x", a.Bytes(), want)
	}
}

func TestEncodingsDecode(t *testing.T) {
	tests := []struct {
		in   Inst
		op   x86asm.Op
		args []x86asm.Arg
	}{
		{Inst{Op: MMovRegReg, Dst: RAX, Src: R9}, x86asm.MOV, []x86asm.Arg{x86asm.RAX, x86asm.R9}},
		{Inst{Op: MMovRegReg, Dst: RDI, Src: R12}, x86asm.MOV, []x86asm.Arg{x86asm.RDI, x86asm.R12}},
		{Inst{Op: MMovRegReg, Dst: RSI, Src: R13}, x86asm.MOV, []x86asm.Arg{x86asm.RSI, x86asm.R13}},
		{Inst{Op: MMovRegImm32, Dst: RAX, Imm: 1}, x86asm.MOV, []x86asm.Arg{x86asm.EAX, x86asm.Imm(1)}},
		{Inst{Op: MMovRegImm32, Dst: RDX, Imm: 1}, x86asm.MOV, []x86asm.Arg{x86asm.EDX, x86asm.Imm(1)}},
		{Inst{Op: MSubRegReg, Dst: RAX, Src: R13}, x86asm.SUB, []x86asm.Arg{x86asm.RAX, x86asm.R13}},
		{Inst{Op: MSubRegReg, Dst: RAX, Src: R8}, x86asm.SUB, []x86asm.Arg{x86asm.RAX, x86asm.R8}},
		{Inst{Op: MCmpRegImm, Dst: RAX, Imm: 3}, x86asm.CMP, []x86asm.Arg{x86asm.RAX, x86asm.Imm(3)}},
		{Inst{Op: MCmpRegImm, Dst: RAX, Imm: 100000}, x86asm.CMP, []x86asm.Arg{x86asm.RAX, x86asm.Imm(100000)}},
		{Inst{Op: MAddRegImm, Dst: R13, Imm: 7}, x86asm.ADD, []x86asm.Arg{x86asm.R13, x86asm.Imm(7)}},
		{Inst{Op: MSubRegImm, Dst: R13, Imm: 300}, x86asm.SUB, []x86asm.Arg{x86asm.R13, x86asm.Imm(300)}},
		{Inst{Op: MSyscall}, x86asm.SYSCALL, nil},
		{Inst{Op: MRet}, x86asm.RET, nil},
	}

	for _, tt := range tests {
		p := &Program{}
		p.emit(tt.in)
		code, _, err := NativeBackend{}.Assemble(p)
		if err != nil {
			t.Fatalf("%s: %v", tt.in, err)
		}
		inst, err := x86asm.Decode(code, 64)
		if err != nil {
			t.Fatalf("%s: decode % x: %v", tt.in, code, err)
		}
		if inst.Len != len(code) {
			t.Errorf("%s: decoded %d of %d bytes", tt.in, inst.Len, len(code))
		}
		if inst.Op != tt.op {
			t.Errorf("%s: op = %v, want %v", tt.in, inst.Op, tt.op)
		}
		for i, want := range tt.args {
			if inst.Args[i] != want {
				t.Errorf("%s: arg %d = %v, want %v", tt.in, i, inst.Args[i], want)
			}
		}
	}
}

func TestMem8Operands(t *testing.T) {
	tests := []struct {
		in   Inst
		op   x86asm.Op
		base x86asm.Reg
	}{
		{Inst{Op: MAddMem8Imm, Dst: R13, Imm: 1}, x86asm.ADD, x86asm.R13},
		{Inst{Op: MSubMem8Imm, Dst: R13, Imm: 1}, x86asm.SUB, x86asm.R13},
		{Inst{Op: MCmpMem8Imm, Dst: R13, Imm: 0}, x86asm.CMP, x86asm.R13},
		{Inst{Op: MAddMem8Imm, Dst: R12, Imm: 9}, x86asm.ADD, x86asm.R12},
		{Inst{Op: MAddMem8Imm, Dst: RBX, Imm: 9}, x86asm.ADD, x86asm.RBX},
	}
	for _, tt := range tests {
		p := &Program{}
		p.emit(tt.in)
		code, _, err := NativeBackend{}.Assemble(p)
		if err != nil {
			t.Fatalf("%s: %v", tt.in, err)
		}
		inst, err := x86asm.Decode(code, 64)
		if err != nil {
			t.Fatalf("%s: decode % x: %v", tt.in, code, err)
		}
		if inst.Op != tt.op || inst.MemBytes != 1 {
			t.Errorf("%s: decoded %v with %d-byte operand", tt.in, inst.Op, inst.MemBytes)
		}
		m, ok := inst.Args[0].(x86asm.Mem)
		if !ok {
			t.Fatalf("%s: arg 0 is %T, want memory", tt.in, inst.Args[0])
		}
		if m.Base != tt.base || m.Disp != 0 || m.Index != 0 {
			t.Errorf("%s: memory operand %+v", tt.in, m)
		}
		if inst.Args[1] != x86asm.Imm(tt.in.Imm) {
			t.Errorf("%s: immediate %v", tt.in, inst.Args[1])
		}
	}
}

func TestBranchPatching(t *testing.T) {
	p := &Program{}
	top := p.NewLabel()
	next := p.NewLabel()
	p.Bind(top)
	p.emit(Inst{Op: MJmp, Label: next}) // 0..5
	p.emit(Inst{Op: MRet})              // 5
	p.Bind(next)
	p.emit(Inst{Op: MJne, Label: top}) // 6..12
	p.emit(Inst{Op: MRet})

	code, entry, err := NativeBackend{}.Assemble(p)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if entry != 0 {
		t.Errorf("entry = %d, want 0", entry)
	}
	insts, err := DecodeAll(code)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(insts) != 4 {
		t.Fatalf("decoded %d instructions, want 4", len(insts))
	}
	if insts[0].Op != x86asm.JMP || insts[0].Args[0] != x86asm.Rel(1) {
		t.Errorf("jmp decoded as %v %v", insts[0].Op, insts[0].Args[0])
	}
	if insts[2].Op != x86asm.JNE || insts[2].Args[0] != x86asm.Rel(-12) {
		t.Errorf("jne decoded as %v %v", insts[2].Op, insts[2].Args[0])
	}
}

func TestCheckRejects(t *testing.T) {
	tests := []struct {
		name  string
		build func(p *Program)
	}{
		{"unbound label", func(p *Program) {
			l := p.NewLabel()
			p.emit(Inst{Op: MJmp, Label: l})
		}},
		{"label bound twice", func(p *Program) {
			l := p.NewLabel()
			p.Bind(l)
			p.Bind(l)
		}},
		{"unallocated label", func(p *Program) {
			p.emit(Inst{Op: MJe, Label: 3})
		}},
		{"wide immediate", func(p *Program) {
			p.emit(Inst{Op: MAddRegImm, Dst: R13, Imm: 1 << 40})
		}},
		{"byte immediate", func(p *Program) {
			p.emit(Inst{Op: MAddMem8Imm, Dst: R13, Imm: 256})
		}},
		{"unknown register", func(p *Program) {
			p.emit(Inst{Op: MMovRegReg, Dst: 16, Src: RAX})
		}},
		{"unknown mnemonic", func(p *Program) {
			p.emit(Inst{Op: Mnemonic(200)})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Program{}
			p.emit(Inst{Op: MRet})
			tt.build(p)
			_, _, err := NativeBackend{}.Assemble(p)
			ae, ok := err.(*AssembleError)
			if !ok {
				t.Fatalf("err = %v, want *AssembleError", err)
			}
			if ae.Index < 1 {
				t.Errorf("error names instruction %d, want the offending one", ae.Index)
			}
		})
	}
}
