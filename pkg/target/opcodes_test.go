package target

import (
	"strings"
	"testing"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("Opcode 0x%02X has no metadata", byte(op))
		}
	}
}

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpNop, "NOP"},
		{OpDupX2, "DUP_X2"},
		{OpConst, "CONST"},
		{OpGetField, "GETFIELD"},
		{OpMethodLookup, "METHOD_LOOKUP"},
		{OpInvokeHost, "INVOKE_HOST"},
		{OpCheckCast, "CHECKCAST"},
		{OpIterNext, "ITER_NEXT"},
		{OpSwitch, "SWITCH"},
		{OpReturn, "RETURN"},
		{Opcode(0xEE), "UNKNOWN(0xEE)"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("%02X.String() = %q, want %q", byte(tt.op), got, tt.want)
		}
	}
}

func TestStackEffect(t *testing.T) {
	tests := []struct {
		in        Instr
		pop, push int
	}{
		{Instr{Op: OpDupX1}, 2, 3},
		{Instr{Op: OpInvokeHost, S: "builtins.len", A: 1}, 1, 1},
		{Instr{Op: OpCall}, 3, 1},
		{Instr{Op: OpCall, A: CallWithReceiver}, 4, 1},
		{Instr{Op: OpMakeFunction, B: FunctionDefaults | FunctionClosure}, 2, 1},
		{Instr{Op: OpNewGenerator, B: 3}, 3, 1},
		{Instr{Op: OpBuildMap, A: 2}, 4, 1},
		{Instr{Op: OpUnpack, A: 3}, 1, 3},
		{Instr{Op: OpThrow, A: 1}, 2, 0},
	}
	for _, tt := range tests {
		pop, push := StackEffect(tt.in)
		if pop != tt.pop || push != tt.push {
			t.Errorf("StackEffect(%s) = %d/%d, want %d/%d",
				DisassembleInstruction(nil, tt.in), pop, push, tt.pop, tt.push)
		}
	}
}

func TestBranchAndTerminal(t *testing.T) {
	if !OpIterNext.IsBranch() || OpIterNext.IsTerminal() {
		t.Error("ITER_NEXT should branch and fall through")
	}
	if !OpGoto.IsBranch() || !OpGoto.IsTerminal() {
		t.Error("GOTO should branch without falling through")
	}
	if OpThrow.IsBranch() || !OpThrow.IsTerminal() {
		t.Error("THROW is terminal but not a branch")
	}
}
