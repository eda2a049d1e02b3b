package jit

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"bfrvm/pkg/errors"
	"bfrvm/pkg/program"
)

func mustCompile(t *testing.T, src string) *program.Program {
	t.Helper()
	p, err := program.Compile([]byte(src))
	if err != nil {
		t.Fatalf("Compile(%q): %v", src, err)
	}
	return p
}

func TestGenerateListing(t *testing.T) {
	p := mustCompile(t, "+[-]")
	listing, err := Generate(p.Ops, p.Loops)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := strings.Join([]string{
		"    add byte ptr [r13], 1",
		".L2:",
		"    cmp byte ptr [r13], 0",
		"    je .L3",
		"    sub byte ptr [r13], 1",
		"    jmp .L2",
		".L3:",
		"    mov eax, 0",
		"    ret",
		".L0:",
		"    mov eax, 1",
		"    ret",
		".L1:",
		"    mov eax, 2",
		"    ret",
	}, "\n") + "\n"
	if diff := cmp.Diff(want, listing.String()); diff != "" {
		t.Errorf("listing mismatch (-want +got):\n%s", diff)
	}
}

func TestGeneratePointerMoves(t *testing.T) {
	p := mustCompile(t, ">>><")
	listing, err := Generate(p.Ops, p.Loops)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := []Inst{
		{Op: MMovRegReg, Dst: RAX, Src: RegLast},
		{Op: MSubRegReg, Dst: RAX, Src: RegCursor},
		{Op: MCmpRegImm, Dst: RAX, Imm: 3},
		{Op: MJb, Label: 0},
		{Op: MAddRegImm, Dst: RegCursor, Imm: 3},
		{Op: MMovRegReg, Dst: RAX, Src: RegCursor},
		{Op: MSubRegReg, Dst: RAX, Src: RegBase},
		{Op: MCmpRegImm, Dst: RAX, Imm: 1},
		{Op: MJb, Label: 0},
		{Op: MSubRegImm, Dst: RegCursor, Imm: 1},
	}
	if diff := cmp.Diff(want, listing.Insts[:len(want)]); diff != "" {
		t.Errorf("pointer moves mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateFoldsLargeCounts(t *testing.T) {
	tests := []struct {
		kind program.Kind
		n    int
		want Inst
	}{
		{program.Increment, 5, Inst{Op: MAddMem8Imm, Dst: R13, Imm: 5}},
		{program.Increment, 200, Inst{Op: MSubMem8Imm, Dst: R13, Imm: 56}},
		{program.Decrement, 3, Inst{Op: MSubMem8Imm, Dst: R13, Imm: 3}},
		{program.Decrement, 250, Inst{Op: MAddMem8Imm, Dst: R13, Imm: 6}},
		{program.Increment, 128, Inst{Op: MSubMem8Imm, Dst: R13, Imm: 128}},
	}
	for _, tt := range tests {
		ops := []program.Op{{Kind: tt.kind, N: tt.n}}
		listing, err := Generate(ops, program.JumpTable{-1})
		if err != nil {
			t.Fatalf("Generate(%v): %v", ops[0], err)
		}
		if diff := cmp.Diff(tt.want, listing.Insts[0]); diff != "" {
			t.Errorf("%v (-want +got):\n%s", ops[0], diff)
		}
	}
}

func TestGenerateIO(t *testing.T) {
	p := mustCompile(t, ",.")
	listing, err := Generate(p.Ops, p.Loops)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	text := listing.String()
	for _, want := range []string{
		"mov rdi, r12",
		"mov rdi, r10",
		"mov rsi, r13",
		"mov edx, 1",
		"syscall",
		"jne .L1",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("listing lacks %q:\n%s", want, text)
		}
	}
}

func TestGenerateNestedLabelsDistinct(t *testing.T) {
	p := mustCompile(t, "+[>+[-]<-]")
	listing, err := Generate(p.Ops, p.Loops)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	bound := map[Label]int{}
	for _, in := range listing.Insts {
		if in.Op == MLabel {
			bound[in.Label]++
		}
	}
	if len(bound) != listing.Labels() {
		t.Errorf("%d labels bound, %d allocated", len(bound), listing.Labels())
	}
	for l, n := range bound {
		if n != 1 {
			t.Errorf("label %s bound %d times", l, n)
		}
	}
	if err := listing.Check(); err != nil {
		t.Errorf("Check: %v", err)
	}
}

func TestGenerateRejectsInconsistentTable(t *testing.T) {
	ops := []program.Op{{Kind: program.LoopStart, N: 1}, {Kind: program.LoopEnd, N: 1}}
	for _, table := range []program.JumpTable{
		{-1, -1},
		{1},
	} {
		_, err := Generate(ops, table)
		if stage, _ := errors.StageOf(err); stage != errors.StageGenerate {
			t.Errorf("table %v: err = %v, want generate-stage error", table, err)
		}
	}
}

func TestAssembledProgramDecodes(t *testing.T) {
	p := mustCompile(t, "++[>+++<-]>.,")
	listing, err := Generate(p.Ops, p.Loops)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	code, _, err := NativeBackend{}.Assemble(listing)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	insts, err := DecodeAll(code)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	emitted := 0
	for _, in := range listing.Insts {
		if in.Op != MLabel {
			emitted++
		}
	}
	if len(insts) != emitted {
		t.Errorf("decoded %d instructions, generated %d", len(insts), emitted)
	}
	if text := Disassemble(code); strings.Contains(text, " db ") {
		t.Errorf("disassembly has undecodable bytes:\n%s", text)
	}
}
