package target

import (
	"strings"
	"testing"

	"github.com/chazu/pyaot/pkg/bytecode"
)

func sampleUnit(t *testing.T) *Unit {
	t.Helper()
	u := NewUnit("greet", UnitFunction, FunctionInterface(1))
	hello := u.AddConstant(bytecode.Str("hello"))

	c := NewChunk()
	c.EmitInt(OpConst, hello)
	c.EmitInt(OpLoad, 0)
	c.EmitInt(OpBinop, int(BinAdd))
	c.EmitInt(OpConst, hello)
	c.EmitInt(OpCmp, 2)
	c.Emit(OpReturn)
	m, err := c.Finish("call", 1, 1)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	u.Methods = append(u.Methods, m)
	return u
}

func TestDisassembleUnit(t *testing.T) {
	out := Disassemble(sampleUnit(t))

	for _, want := range []string{
		"; === greet ===",
		"implements pyaot.Function1.call/1",
		"Constants:",
		`"hello"`,
		"; Method call/1 (slots=1, stack=2)",
		"0000  CONST 0 ; \"hello\"",
		"0002  BINOP +",
		"0004  CMP ==",
		"0005  RETURN",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
}

func TestDisassembleNestedAndHandlers(t *testing.T) {
	outer := sampleUnit(t)
	inner := NewUnit("greet.<locals>.inner", UnitFunction, FunctionInterface(0))
	idx := outer.AddNested(inner)

	c := NewChunk()
	start, end, pad := c.NewLabel(), c.NewLabel(), c.NewLabel()
	c.Mark(start)
	c.EmitPair(OpMakeFunction, idx, 0)
	c.Mark(end)
	c.Emit(OpReturn)
	c.Mark(pad)
	c.Emit(OpReturn)
	c.AddHandler(start, end, pad)
	m, err := c.Finish("call", 0, 0)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	inner.Methods = append(inner.Methods, m)
	outer.Methods[0].Code[0] = Instr{Op: OpMakeFunction, A: idx}

	out := Disassemble(outer)
	for _, want := range []string{
		"MAKE_FUNCTION 0 0 ; greet.<locals>.inner",
		"; === greet.<locals>.inner ===",
		"; Handlers:",
		"0000-0001 -> 0002",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
}

func TestDisassembleInstructionOperands(t *testing.T) {
	tests := []struct {
		in   Instr
		want string
	}{
		{Instr{Op: OpGoto, A: 12}, "GOTO -> 0012"},
		{Instr{Op: OpInvokeHost, S: "builtins.len", A: 1}, "INVOKE_HOST builtins.len 1"},
		{Instr{Op: OpIs, A: 1}, "IS not"},
		{Instr{Op: OpCheckCast, S: "int"}, "CHECKCAST int"},
		{Instr{Op: OpSwitch, Keys: []int{0, 4}, Targets: []int{3, 9}, A: 1}, "SWITCH {0:0003 4:0009} default 0001"},
	}
	for _, tt := range tests {
		if got := DisassembleInstruction(nil, tt.in); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}
